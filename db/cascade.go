package db

import (
	"github.com/fleamarkt/fleamarkt-api/models"
	"gorm.io/gorm"
)

// DeleteListingCascade removes a listing together with everything that
// hangs off it: images, watchlist entries, listing-bound conversations
// and their messages. The whole propagation runs in one transaction so
// a failure leaves the listing intact.
func DeleteListingCascade(db *gorm.DB, listingID uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var convIDs []uint
		if err := tx.Model(&models.Conversation{}).
			Where("listing_id = ?", listingID).
			Pluck("id", &convIDs).Error; err != nil {
			return err
		}

		if len(convIDs) > 0 {
			if err := tx.Where("conversation_id IN ?", convIDs).
				Delete(&models.Message{}).Error; err != nil {
				return err
			}
			if err := tx.Exec(
				"DELETE FROM conversation_participants WHERE conversation_id IN ?",
				convIDs,
			).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", convIDs).
				Delete(&models.Conversation{}).Error; err != nil {
				return err
			}
		}

		// Messages may reference the listing outside a listing-bound
		// conversation; drop the reference rather than the message.
		if err := tx.Model(&models.Message{}).
			Where("listing_id = ?", listingID).
			Update("listing_id", nil).Error; err != nil {
			return err
		}

		if err := tx.Where("listing_id = ?", listingID).
			Delete(&models.ListingImage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("listing_id = ?", listingID).
			Delete(&models.WatchlistItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Listing{}, listingID).Error
	})
}

// DeleteConversationCascade removes a conversation with its messages and
// participant rows in one transaction.
func DeleteConversationCascade(db *gorm.DB, conversationID uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).
			Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Exec(
			"DELETE FROM conversation_participants WHERE conversation_id = ?",
			conversationID,
		).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Conversation{}, conversationID).Error
	})
}
