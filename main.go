package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/fleamarkt/fleamarkt-api/config"
	"github.com/fleamarkt/fleamarkt-api/db"
	"github.com/fleamarkt/fleamarkt-api/routes"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	if cfg.JWT.Secret == "" {
		log.Fatal("JWT_SECRET_KEY environment variable is required")
	}

	if err := db.Connect(cfg.DB); err != nil {
		log.Fatalf("Database error: %v", err)
	}
	if err := db.MakeMigration(db.GetDB()); err != nil {
		log.Fatalf("Migration error: %v", err)
	}

	// The refresh-token denylist lives in Redis when one is configured.
	if cfg.Redis.Host != "" {
		tokens, err := db.NewRedisTokenStore(cfg.Redis)
		if err != nil {
			log.Fatalf("Redis error: %v", err)
		}
		routes.SetTokenStore(tokens)
	}

	if cfg.Server.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	routes.AuthRoutes(router)
	routes.ListingRoutes(router)
	routes.MessageRoutes(router)
	routes.WatchlistRoutes(router)

	log.Printf("Server running on port %s", cfg.Server.Port)
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
