package models

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, gdb.AutoMigrate(&User{}, &Listing{}, &ListingImage{}))
	return gdb
}

func TestListingValidityDefaultsToThreeDays(t *testing.T) {
	gdb := newTestDB(t)

	listing := Listing{UserID: 1, Title: "Old chair", Price: 10, Category: "furniture"}
	require.NoError(t, gdb.Create(&listing).Error)

	assert.WithinDuration(t, listing.CreatedAt.Add(ListingValidity), listing.ValidUntil, time.Second)
	assert.False(t, listing.Expired())
}

func TestListingExplicitValidUntilKept(t *testing.T) {
	gdb := newTestDB(t)

	until := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	listing := Listing{UserID: 1, Title: "Old chair", Price: 10, Category: "furniture", ValidUntil: until}
	require.NoError(t, gdb.Create(&listing).Error)

	assert.WithinDuration(t, until, listing.ValidUntil, time.Second)
}

func TestListingExpired(t *testing.T) {
	past := Listing{ValidUntil: time.Now().Add(-time.Minute)}
	assert.True(t, past.Expired())

	future := Listing{ValidUntil: time.Now().Add(time.Minute)}
	assert.False(t, future.Expired())
}
