package models

import (
	"time"

	"gorm.io/gorm"
)

// ListingValidity is the default window during which a new listing
// appears in the public feed.
const ListingValidity = 72 * time.Hour

type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"uniqueIndex" json:"username"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	IsAdmin   bool      `json:"is_admin"`
	Password  string    `json:"-"` // hide from JSON response
	Listings  []Listing `gorm:"foreignKey:UserID" json:"listings,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Listing struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	UserID         uint           `json:"user_id"`
	User           User           `gorm:"foreignKey:UserID" json:"-"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Price          float64        `json:"price"`
	Category       string         `json:"category"`
	IsActive       bool           `gorm:"default:true" json:"is_active"`
	ValidUntil     time.Time      `json:"valid_until"`
	ViewsCount     uint           `json:"views_count"`
	FavoritesCount uint           `json:"favorites_count"`
	Images         []ListingImage `gorm:"foreignKey:ListingID" json:"images"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// BeforeCreate defaults the validity window to creation time plus three
// days when no explicit expiry was given.
func (l *Listing) BeforeCreate(tx *gorm.DB) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	if l.ValidUntil.IsZero() {
		l.ValidUntil = l.CreatedAt.Add(ListingValidity)
	}
	return nil
}

// Expired reports whether the listing has fallen out of its validity
// window. Expired listings stay visible to their owner only.
func (l *Listing) Expired() bool {
	return time.Now().After(l.ValidUntil)
}

type ListingImage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ListingID uint      `json:"listing_id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is a thread between exactly two users, optionally bound
// to one listing. InitiatorID is the non-owner party; the composite
// unique index keeps concurrent find-or-create calls from producing
// duplicate threads for the same (listing, initiator) pair.
type Conversation struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ListingID    *uint     `gorm:"uniqueIndex:idx_listing_initiator" json:"listing_id"`
	InitiatorID  uint      `gorm:"uniqueIndex:idx_listing_initiator" json:"-"`
	Participants []User    `gorm:"many2many:conversation_participants" json:"participants"`
	Messages     []Message `gorm:"foreignKey:ConversationID" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `json:"conversation_id"`
	SenderID       uint      `json:"-"`
	Sender         User      `gorm:"foreignKey:SenderID" json:"sender"`
	RecipientID    uint      `json:"-"`
	Recipient      User      `gorm:"foreignKey:RecipientID" json:"recipient"`
	ListingID      *uint     `json:"listing_id"`
	Text           string    `json:"text"`
	FileURL        string    `json:"file_url,omitempty"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"timestamp"`
}

type WatchlistItem struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex:idx_user_listing" json:"user_id"`
	ListingID uint      `gorm:"uniqueIndex:idx_user_listing" json:"listing_id"`
	Listing   Listing   `gorm:"foreignKey:ListingID" json:"listing"`
	AddedAt   time.Time `gorm:"autoCreateTime" json:"added_at"`
}
