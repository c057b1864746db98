package db

import (
	"fmt"
	"log"

	"github.com/fleamarkt/fleamarkt-api/config"
	"github.com/fleamarkt/fleamarkt-api/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func Connect(cfg config.DBConfig) error {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.Host,
		cfg.Username,
		cfg.Password,
		cfg.Name,
		cfg.Port,
		cfg.SSLMode,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return fmt.Errorf("failed to connect to the database: %w", err)
	}
	DB = db
	log.Println("Connected to the database")
	return nil
}

func GetDB() *gorm.DB {
	return DB
}

// SetDB replaces the shared handle. Tests use it to point the handlers
// at an in-memory database.
func SetDB(db *gorm.DB) {
	DB = db
}

func MakeMigration(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Listing{},
		&models.ListingImage{},
		&models.Conversation{},
		&models.Message{},
		&models.WatchlistItem{},
	)
}
