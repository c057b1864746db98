package routes

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fleamarkt/fleamarkt-api/db"
	"github.com/fleamarkt/fleamarkt-api/middleware"
	"github.com/fleamarkt/fleamarkt-api/models"
)

// ListingRoutes sets up the routes for listing-related operations. The
// feed and single-listing reads are public; everything else requires a
// valid token.
func ListingRoutes(router *gin.Engine) {
	router.GET("/listings", GetListingFeed())
	router.GET("/listings/:listing_id", GetListing())

	listingRoutes := router.Group("/listings")
	listingRoutes.Use(middleware.AuthMiddleware())
	{
		listingRoutes.POST("", CreateListing())
		listingRoutes.GET("/my", GetMyListings())
		listingRoutes.PUT("/:listing_id", UpdateListing())
		listingRoutes.PATCH("/:listing_id", UpdateListing())
		listingRoutes.DELETE("/:listing_id", DeleteListing())
		listingRoutes.PATCH("/:listing_id/extend", ExtendListing())
	}
}

// pageParams reads page-based pagination query params with a default
// page size of 10, capped at 100.
func pageParams(c *gin.Context) (int, int, bool) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid page parameter"})
		return 0, 0, false
	}

	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid page_size parameter (must be 1-100)"})
		return 0, 0, false
	}

	return page, pageSize, true
}

func validateListingFields(c *gin.Context, title string, price float64) bool {
	// character bound, not bytes
	if n := utf8.RuneCountInString(title); n < 3 || n > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Title must be between 3 and 200 characters"})
		return false
	}
	if price < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Price must not be negative"})
		return false
	}
	return true
}

// CreateListing handles the creation of a new listing
func CreateListing() gin.HandlerFunc {
	return func(c *gin.Context) {
		var createRequest struct {
			Title       string     `json:"title" binding:"required"`
			Description string     `json:"description"`
			Price       *float64   `json:"price" binding:"required"`
			Category    string     `json:"category" binding:"required"`
			ValidUntil  *time.Time `json:"valid_until"`
			Images      []string   `json:"images"`
		}
		if err := c.ShouldBindJSON(&createRequest); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid input: " + err.Error()})
			return
		}

		if !validateListingFields(c, createRequest.Title, *createRequest.Price) {
			return
		}

		listing := models.Listing{
			UserID:      middleware.GetUserID(c),
			Title:       createRequest.Title,
			Description: createRequest.Description,
			Price:       *createRequest.Price,
			Category:    createRequest.Category,
			IsActive:    true,
		}
		if createRequest.ValidUntil != nil {
			listing.ValidUntil = *createRequest.ValidUntil
		}
		for _, url := range createRequest.Images {
			listing.Images = append(listing.Images, models.ListingImage{URL: url})
		}

		DB := db.GetDB()
		if result := DB.Create(&listing); result.Error != nil {
			log.Printf("Failed to create listing: %v", result.Error)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to create listing"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"listing": listing})
	}
}

// GetListingFeed returns the public feed: active, non-expired listings,
// newest first, paginated. Supports optional category and search filters.
func GetListingFeed() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, pageSize, ok := pageParams(c)
		if !ok {
			return
		}

		DB := db.GetDB()
		query := DB.Model(&models.Listing{}).
			Where("is_active = ? AND valid_until > ?", true, time.Now())

		if category := c.Query("category"); category != "" {
			query = query.Where("category = ?", category)
		}
		if search := c.Query("search"); search != "" {
			query = query.Where("title LIKE ?", "%"+search+"%")
		}

		var total int64
		if result := query.Count(&total); result.Error != nil {
			log.Printf("Failed to count listings: %v", result.Error)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to retrieve listings"})
			return
		}

		var listings []models.Listing
		if result := query.Preload("Images").
			Order("created_at DESC").
			Offset((page - 1) * pageSize).
			Limit(pageSize).
			Find(&listings); result.Error != nil {
			log.Printf("Failed to retrieve listings: %v", result.Error)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to retrieve listings"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"listings":    listings,
			"total":       total,
			"page":        page,
			"page_size":   pageSize,
			"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
		})
	}
}

// GetMyListings returns the authenticated owner's listings, expired
// ones included.
func GetMyListings() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, pageSize, ok := pageParams(c)
		if !ok {
			return
		}
		userID := middleware.GetUserID(c)

		DB := db.GetDB()
		query := DB.Model(&models.Listing{}).Where("user_id = ?", userID)

		var total int64
		if result := query.Count(&total); result.Error != nil {
			log.Printf("Failed to count listings for user %d: %v", userID, result.Error)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to retrieve listings"})
			return
		}

		var listings []models.Listing
		if result := query.Preload("Images").
			Order("created_at DESC").
			Offset((page - 1) * pageSize).
			Limit(pageSize).
			Find(&listings); result.Error != nil {
			log.Printf("Failed to retrieve listings for user %d: %v", userID, result.Error)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to retrieve listings"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"listings":    listings,
			"total":       total,
			"page":        page,
			"page_size":   pageSize,
			"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
		})
	}
}

// GetListing retrieves a listing by ID and counts the view.
func GetListing() gin.HandlerFunc {
	return func(c *gin.Context) {
		listingID := c.Param("listing_id")
		var listing models.Listing

		DB := db.GetDB()
		if result := DB.Preload(clause.Associations).First(&listing, listingID); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"detail": "Listing not found"})
			} else {
				log.Printf("Failed to retrieve listing %s: %v", listingID, result.Error)
				c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to retrieve listing"})
			}
			return
		}

		if result := DB.Model(&listing).
			UpdateColumn("views_count", gorm.Expr("views_count + 1")); result.Error != nil {
			log.Printf("Failed to count view for listing %d: %v", listing.ID, result.Error)
		} else {
			listing.ViewsCount++
		}

		c.JSON(http.StatusOK, gin.H{"listing": listing})
	}
}

// UpdateListing handles owner-only updates. UserID and the counters are
// not client-settable.
func UpdateListing() gin.HandlerFunc {
	return func(c *gin.Context) {
		listingID := c.Param("listing_id")
		userID := middleware.GetUserID(c)

		DB := db.GetDB()
		var listing models.Listing
		if result := DB.First(&listing, listingID); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"detail": "Listing not found"})
			} else {
				log.Printf("Failed to retrieve listing %s: %v", listingID, result.Error)
				c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to retrieve listing"})
			}
			return
		}

		if listing.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"detail": "You do not have permission to update this listing"})
			return
		}

		var updateRequest struct {
			Title       *string  `json:"title"`
			Description *string  `json:"description"`
			Price       *float64 `json:"price"`
			Category    *string  `json:"category"`
			IsActive    *bool    `json:"is_active"`
		}
		if err := c.ShouldBindJSON(&updateRequest); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid input: " + err.Error()})
			return
		}

		if updateRequest.Title != nil {
			listing.Title = *updateRequest.Title
		}
		if updateRequest.Description != nil {
			listing.Description = *updateRequest.Description
		}
		if updateRequest.Price != nil {
			listing.Price = *updateRequest.Price
		}
		if updateRequest.Category != nil {
			listing.Category = *updateRequest.Category
		}
		if updateRequest.IsActive != nil {
			listing.IsActive = *updateRequest.IsActive
		}

		if !validateListingFields(c, listing.Title, listing.Price) {
			return
		}

		if result := DB.Save(&listing); result.Error != nil {
			log.Printf("Failed to update listing %d: %v", listing.ID, result.Error)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to update listing"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"listing": listing})
	}
}

// DeleteListing removes an owned listing together with its images,
// watchlist entries and listing-bound conversations.
func DeleteListing() gin.HandlerFunc {
	return func(c *gin.Context) {
		listingID := c.Param("listing_id")
		userID := middleware.GetUserID(c)

		DB := db.GetDB()
		var listing models.Listing
		if result := DB.First(&listing, listingID); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"detail": "Listing not found"})
			} else {
				log.Printf("Failed to retrieve listing %s: %v", listingID, result.Error)
				c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to retrieve listing"})
			}
			return
		}

		if listing.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"detail": "You do not have permission to delete this listing"})
			return
		}

		if err := db.DeleteListingCascade(DB, listing.ID); err != nil {
			log.Printf("Failed to delete listing %d: %v", listing.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to delete listing"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"detail": "Listing deleted successfully"})
	}
}

// ExtendListing pushes an owned listing's validity window to now plus
// three days.
func ExtendListing() gin.HandlerFunc {
	return func(c *gin.Context) {
		listingID := c.Param("listing_id")
		userID := middleware.GetUserID(c)

		DB := db.GetDB()
		var listing models.Listing
		if result := DB.First(&listing, listingID); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"detail": "Listing not found"})
			} else {
				log.Printf("Failed to retrieve listing %s: %v", listingID, result.Error)
				c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to retrieve listing"})
			}
			return
		}

		if listing.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"detail": "You do not have permission to extend this listing"})
			return
		}

		listing.ValidUntil = time.Now().Add(models.ListingValidity)
		if result := DB.Save(&listing); result.Error != nil {
			log.Printf("Failed to extend listing %d: %v", listing.ID, result.Error)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to extend listing"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"listing": listing})
	}
}
