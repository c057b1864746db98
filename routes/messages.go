package routes

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/fleamarkt/fleamarkt-api/db"
	"github.com/fleamarkt/fleamarkt-api/middleware"
	"github.com/fleamarkt/fleamarkt-api/models"
)

// MessageRoutes sets up the routes for conversations and messages.
// Everything here requires a valid token.
func MessageRoutes(router *gin.Engine) {
	messageRoutes := router.Group("/messages")
	messageRoutes.Use(middleware.AuthMiddleware())
	{
		messageRoutes.GET("/conversations", GetConversations())
		messageRoutes.POST("/conversations", CreateConversation())
		messageRoutes.GET("/conversations/:conversation_id", GetConversation())
		messageRoutes.DELETE("/conversations/:conversation_id", DeleteConversation())
		messageRoutes.GET("/conversations/:conversation_id/messages", GetConversationMessages())
		messageRoutes.POST("/conversations/:conversation_id/messages", CreateConversationMessage())
		messageRoutes.POST("/conversations/:conversation_id/mark_as_read", MarkConversationRead())
		messageRoutes.POST("/send_message", SendMessage())
	}
}

// listingSummary is the trimmed listing embedded in conversation views.
type listingSummary struct {
	ID    uint   `json:"id"`
	Title string `json:"title"`
}

// conversationView is the response shape for conversation list/detail.
type conversationView struct {
	ID           uint             `json:"id"`
	Participants []models.User    `json:"participants"`
	Listing      *listingSummary  `json:"listing"`
	LastMessage  *models.Message  `json:"last_message"`
	UnreadCount  int64            `json:"unread_count"`
	Messages     []models.Message `json:"messages,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func buildConversationView(DB *gorm.DB, conv *models.Conversation, userID uint) (*conversationView, error) {
	view := &conversationView{
		ID:           conv.ID,
		Participants: conv.Participants,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}

	if conv.ListingID != nil {
		var listing models.Listing
		if err := DB.Select("id", "title").First(&listing, *conv.ListingID).Error; err == nil {
			view.Listing = &listingSummary{ID: listing.ID, Title: listing.Title}
		}
	}

	var last models.Message
	err := DB.Where("conversation_id = ?", conv.ID).
		Preload("Sender").Preload("Recipient").
		Order("created_at DESC").First(&last).Error
	if err == nil {
		view.LastMessage = &last
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := DB.Model(&models.Message{}).
		Where("conversation_id = ? AND recipient_id = ? AND is_read = ?", conv.ID, userID, false).
		Count(&view.UnreadCount).Error; err != nil {
		return nil, err
	}

	return view, nil
}

// loadConversationForUser fetches a conversation and verifies the caller
// participates in it. It writes the error response itself.
func loadConversationForUser(c *gin.Context, DB *gorm.DB, conversationID string, userID uint) (*models.Conversation, bool) {
	var conv models.Conversation
	if result := DB.Preload("Participants").First(&conv, conversationID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Conversation not found"})
		} else {
			log.Printf("Failed to retrieve conversation %s: %v", conversationID, result.Error)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to retrieve conversation"})
		}
		return nil, false
	}

	for _, p := range conv.Participants {
		if p.ID == userID {
			return &conv, true
		}
	}
	c.JSON(http.StatusForbidden, gin.H{"detail": "You are not a participant of this conversation"})
	return nil, false
}

// GetConversations lists the caller's conversations, most recently
// active first.
func GetConversations() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		DB := db.GetDB()
		var convs []models.Conversation
		result := DB.
			Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
			Where("cp.user_id = ?", userID).
			Preload("Participants").
			Order("conversations.updated_at DESC").
			Find(&convs)
		if result.Error != nil {
			log.Printf("Failed to retrieve conversations for user %d: %v", userID, result.Error)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to retrieve conversations"})
			return
		}

		views := make([]*conversationView, 0, len(convs))
		for i := range convs {
			view, err := buildConversationView(DB, &convs[i], userID)
			if err != nil {
				log.Printf("Failed to build conversation view %d: %v", convs[i].ID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to retrieve conversations"})
				return
			}
			views = append(views, view)
		}

		c.JSON(http.StatusOK, gin.H{"conversations": views})
	}
}

// CreateConversation starts a conversation with the caller as initiator,
// optionally bound to a listing and with one more participant.
func CreateConversation() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		var createRequest struct {
			ListingID     *uint `json:"listing_id"`
			ParticipantID *uint `json:"participant_id"`
		}
		if err := c.ShouldBindJSON(&createRequest); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid input: " + err.Error()})
			return
		}

		DB := db.GetDB()

		var caller models.User
		if result := DB.First(&caller, userID); result.Error != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "User not found"})
			return
		}

		participants := []models.User{caller}
		if createRequest.ParticipantID != nil {
			if *createRequest.ParticipantID == userID {
				c.JSON(http.StatusBadRequest, gin.H{"detail": "You cannot start a conversation with yourself"})
				return
			}
			var other models.User
			if result := DB.First(&other, *createRequest.ParticipantID); result.Error != nil {
				c.JSON(http.StatusNotFound, gin.H{"detail": "Participant not found"})
				return
			}
			participants = append(participants, other)
		}

		if createRequest.ListingID != nil {
			var listing models.Listing
			if result := DB.First(&listing, *createRequest.ListingID); result.Error != nil {
				c.JSON(http.StatusNotFound, gin.H{"detail": "Listing not found"})
				return
			}
		}

		conv := models.Conversation{
			ListingID:    createRequest.ListingID,
			InitiatorID:  userID,
			Participants: participants,
		}
		if result := DB.Create(&conv); result.Error != nil {
			// Unique index: one conversation per (listing, initiator).
			if db.IsDuplicateKey(result.Error) {
				c.JSON(http.StatusConflict, gin.H{"detail": "Conversation for this listing already exists"})
				return
			}
			log.Printf("Failed to create conversation: %v", result.Error)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to create conversation"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"conversation": conv})
	}
}

// GetConversation returns one conversation with its full message list.
func GetConversation() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		DB := db.GetDB()
		conv, ok := loadConversationForUser(c, DB, c.Param("conversation_id"), userID)
		if !ok {
			return
		}

		view, err := buildConversationView(DB, conv, userID)
		if err != nil {
			log.Printf("Failed to build conversation view %d: %v", conv.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to retrieve conversation"})
			return
		}

		if err := DB.Where("conversation_id = ?", conv.ID).
			Preload("Sender").Preload("Recipient").
			Order("created_at ASC").
			Find(&view.Messages).Error; err != nil {
			log.Printf("Failed to retrieve messages for conversation %d: %v", conv.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to retrieve conversation"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"conversation": view})
	}
}

// DeleteConversation removes a conversation the caller participates in,
// messages included.
func DeleteConversation() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		DB := db.GetDB()
		conv, ok := loadConversationForUser(c, DB, c.Param("conversation_id"), userID)
		if !ok {
			return
		}

		if err := db.DeleteConversationCascade(DB, conv.ID); err != nil {
			log.Printf("Failed to delete conversation %d: %v", conv.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to delete conversation"})
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// GetConversationMessages lists a conversation's messages in timestamp
// order.
func GetConversationMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		DB := db.GetDB()
		conv, ok := loadConversationForUser(c, DB, c.Param("conversation_id"), userID)
		if !ok {
			return
		}

		var messages []models.Message
		if err := DB.Where("conversation_id = ?", conv.ID).
			Preload("Sender").Preload("Recipient").
			Order("created_at ASC").
			Find(&messages).Error; err != nil {
			log.Printf("Failed to retrieve messages for conversation %d: %v", conv.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to retrieve messages"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"messages": messages})
	}
}

// CreateConversationMessage appends a message to an existing
// conversation; the recipient is the other participant.
func CreateConversationMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		var messageRequest struct {
			Text    string `json:"text" binding:"required"`
			FileURL string `json:"file_url"`
		}
		if err := c.ShouldBindJSON(&messageRequest); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid input: " + err.Error()})
			return
		}

		DB := db.GetDB()
		conv, ok := loadConversationForUser(c, DB, c.Param("conversation_id"), userID)
		if !ok {
			return
		}

		var recipientID uint
		for _, p := range conv.Participants {
			if p.ID != userID {
				recipientID = p.ID
				break
			}
		}
		if recipientID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "You cannot message yourself"})
			return
		}

		message := models.Message{
			ConversationID: conv.ID,
			SenderID:       userID,
			RecipientID:    recipientID,
			ListingID:      conv.ListingID,
			Text:           messageRequest.Text,
			FileURL:        messageRequest.FileURL,
		}
		if err := createMessage(DB, conv, &message); err != nil {
			log.Printf("Failed to create message in conversation %d: %v", conv.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to send message"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"message": message})
	}
}

// MarkConversationRead marks all unread messages addressed to the caller
// in a conversation as read.
func MarkConversationRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		DB := db.GetDB()
		conv, ok := loadConversationForUser(c, DB, c.Param("conversation_id"), userID)
		if !ok {
			return
		}

		result := DB.Model(&models.Message{}).
			Where("conversation_id = ? AND recipient_id = ? AND is_read = ?", conv.ID, userID, false).
			Update("is_read", true)
		if result.Error != nil {
			log.Printf("Failed to mark conversation %d read: %v", conv.ID, result.Error)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to mark messages as read"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"updated": result.RowsAffected})
	}
}

// SendMessage sends a message in the context of a listing, resolving the
// conversation and recipient from the listing and the sender:
//   - sender is not the owner: find or create the conversation for this
//     (listing, sender) pair; the recipient is the owner.
//   - sender is the owner: reply into the listing's most recently active
//     conversation; rejected when nobody has written in yet.
func SendMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		senderID := middleware.GetUserID(c)

		var sendRequest struct {
			ListingID uint   `json:"listing_id" binding:"required"`
			Content   string `json:"content" binding:"required"`
			FileURL   string `json:"file_url"`
		}
		if err := c.ShouldBindJSON(&sendRequest); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid input: " + err.Error()})
			return
		}

		DB := db.GetDB()

		var listing models.Listing
		if result := DB.First(&listing, sendRequest.ListingID); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"detail": "Listing not found"})
			} else {
				log.Printf("Failed to retrieve listing %d: %v", sendRequest.ListingID, result.Error)
				c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to send message"})
			}
			return
		}

		var conv *models.Conversation
		var recipientID uint
		var err error

		if senderID != listing.UserID {
			conv, err = findOrCreateConversation(DB, &listing, senderID)
			if err != nil {
				log.Printf("Failed to resolve conversation for listing %d, sender %d: %v", listing.ID, senderID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to send message"})
				return
			}
			recipientID = listing.UserID
		} else {
			conv, recipientID, err = resolveOwnerConversation(DB, &listing, senderID)
			if err != nil {
				if errors.Is(err, errNoCounterparty) {
					c.JSON(http.StatusBadRequest, gin.H{"detail": "You cannot message yourself"})
				} else {
					log.Printf("Failed to resolve owner conversation for listing %d: %v", listing.ID, err)
					c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to send message"})
				}
				return
			}
		}

		message := models.Message{
			ConversationID: conv.ID,
			SenderID:       senderID,
			RecipientID:    recipientID,
			ListingID:      &listing.ID,
			Text:           sendRequest.Content,
			FileURL:        sendRequest.FileURL,
		}
		if err := createMessage(DB, conv, &message); err != nil {
			log.Printf("Failed to create message in conversation %d: %v", conv.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to send message"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"message": message})
	}
}

var errNoCounterparty = errors.New("no counterparty in conversation")

// findOrCreateConversation resolves the single conversation for a
// (listing, non-owner sender) pair. The unique index on
// (listing_id, initiator_id) keeps concurrent calls from creating
// duplicates; losing the race falls back to fetching the winner's row.
func findOrCreateConversation(DB *gorm.DB, listing *models.Listing, senderID uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := DB.Preload("Participants").
		Where("listing_id = ? AND initiator_id = ?", listing.ID, senderID).
		First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var sender, owner models.User
	if err := DB.First(&sender, senderID).Error; err != nil {
		return nil, err
	}
	if err := DB.First(&owner, listing.UserID).Error; err != nil {
		return nil, err
	}

	listingID := listing.ID
	conv = models.Conversation{
		ListingID:    &listingID,
		InitiatorID:  senderID,
		Participants: []models.User{sender, owner},
	}
	if err := DB.Create(&conv).Error; err != nil {
		// Lost a concurrent create; the winner's row must exist now.
		var existing models.Conversation
		if err2 := DB.Preload("Participants").
			Where("listing_id = ? AND initiator_id = ?", listing.ID, senderID).
			First(&existing).Error; err2 == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &conv, nil
}

// resolveOwnerConversation handles the owner replying on their own
// listing: the most recently active conversation for the listing is
// used, and its other participant becomes the recipient.
func resolveOwnerConversation(DB *gorm.DB, listing *models.Listing, ownerID uint) (*models.Conversation, uint, error) {
	var convs []models.Conversation
	err := DB.Preload("Participants").
		Where("listing_id = ?", listing.ID).
		Order("updated_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, 0, err
	}

	for i := range convs {
		for _, p := range convs[i].Participants {
			if p.ID != ownerID {
				return &convs[i], p.ID, nil
			}
		}
	}
	return nil, 0, errNoCounterparty
}

// createMessage persists a message and bumps the conversation's
// updated_at so the list ordering follows activity.
func createMessage(DB *gorm.DB, conv *models.Conversation, message *models.Message) error {
	return DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Conversation{}).
			Where("id = ?", conv.ID).
			Update("updated_at", time.Now()).Error; err != nil {
			return err
		}
		return tx.Preload("Sender").Preload("Recipient").First(message, message.ID).Error
	})
}
