package routes

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/fleamarkt/fleamarkt-api/db"
	"github.com/fleamarkt/fleamarkt-api/middleware"
	"github.com/fleamarkt/fleamarkt-api/models"
)

// WatchlistRoutes sets up the routes for the per-user watchlist.
func WatchlistRoutes(router *gin.Engine) {
	watchlistRoutes := router.Group("/watchlist")
	watchlistRoutes.Use(middleware.AuthMiddleware())
	{
		watchlistRoutes.GET("/items", GetWatchlist())
		watchlistRoutes.POST("/items", AddWatchlistItem())
		watchlistRoutes.DELETE("/items/:listing_id/remove", RemoveWatchlistItem())
	}
}

// GetWatchlist lists the caller's saved listings, newest first.
func GetWatchlist() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		DB := db.GetDB()
		var items []models.WatchlistItem
		result := DB.Where("user_id = ?", userID).
			Preload("Listing").Preload("Listing.Images").
			Order("added_at DESC").
			Find(&items)
		if result.Error != nil {
			log.Printf("Failed to retrieve watchlist for user %d: %v", userID, result.Error)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to retrieve watchlist"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

// AddWatchlistItem saves a listing to the caller's watchlist. Saving the
// same listing twice is a conflict, not a second row.
func AddWatchlistItem() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		var addRequest struct {
			ListingID uint `json:"listing_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&addRequest); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid input: " + err.Error()})
			return
		}

		DB := db.GetDB()

		var listing models.Listing
		if result := DB.First(&listing, addRequest.ListingID); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"detail": "Listing not found"})
			} else {
				log.Printf("Failed to retrieve listing %d: %v", addRequest.ListingID, result.Error)
				c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to add to watchlist"})
			}
			return
		}

		var existing models.WatchlistItem
		err := DB.Where("user_id = ? AND listing_id = ?", userID, listing.ID).First(&existing).Error
		if err == nil {
			c.JSON(http.StatusConflict, gin.H{"detail": "Listing already in watchlist"})
			return
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("Failed to check watchlist for user %d: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to add to watchlist"})
			return
		}

		item := models.WatchlistItem{UserID: userID, ListingID: listing.ID}
		err = DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&item).Error; err != nil {
				return err
			}
			return tx.Model(&listing).
				UpdateColumn("favorites_count", gorm.Expr("favorites_count + 1")).Error
		})
		if err != nil {
			// The unique index backstops concurrent duplicate adds.
			if db.IsDuplicateKey(err) {
				c.JSON(http.StatusConflict, gin.H{"detail": "Listing already in watchlist"})
				return
			}
			log.Printf("Failed to add listing %d to watchlist for user %d: %v", listing.ID, userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to add to watchlist"})
			return
		}

		item.Listing = listing
		c.JSON(http.StatusCreated, gin.H{"item": item})
	}
}

// RemoveWatchlistItem deletes the caller's watchlist entry for a
// listing. Entries of other users are invisible here, so a foreign
// entry yields 404.
func RemoveWatchlistItem() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		listingID := c.Param("listing_id")

		DB := db.GetDB()
		var item models.WatchlistItem
		result := DB.Where("user_id = ? AND listing_id = ?", userID, listingID).First(&item)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"detail": "Watchlist item not found"})
			} else {
				log.Printf("Failed to retrieve watchlist item for user %d: %v", userID, result.Error)
				c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to remove from watchlist"})
			}
			return
		}

		err := DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&item).Error; err != nil {
				return err
			}
			return tx.Model(&models.Listing{}).
				Where("id = ? AND favorites_count > 0", item.ListingID).
				UpdateColumn("favorites_count", gorm.Expr("favorites_count - 1")).Error
		})
		if err != nil {
			log.Printf("Failed to remove watchlist item %d: %v", item.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to remove from watchlist"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"detail": "Removed from watchlist"})
	}
}
