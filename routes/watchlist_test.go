package routes

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fleamarkt/fleamarkt-api/models"
)

func TestAddAndListWatchlist(t *testing.T) {
	gdb := setupTest(t)
	router := newTestRouter()
	seller := createTestUser(t, gdb, "seller")
	watcher := createTestUser(t, gdb, "watcher")
	listing := createTestListing(t, gdb, seller.ID, "Espresso machine")
	token := accessTokenFor(t, watcher.ID)

	rr := doJSON(t, router, "POST", "/watchlist/items", token, map[string]interface{}{
		"listing_id": listing.ID,
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var favorites uint
	require.NoError(t, gdb.Model(&models.Listing{}).
		Select("favorites_count").Where("id = ?", listing.ID).Scan(&favorites).Error)
	assert.Equal(t, uint(1), favorites)

	rr = doJSON(t, router, "GET", "/watchlist/items", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	items := decodeBody(t, rr)["items"].([]interface{})
	require.Len(t, items, 1)
	embedded := items[0].(map[string]interface{})["listing"].(map[string]interface{})
	assert.Equal(t, "Espresso machine", embedded["title"])
}

func TestAddWatchlistDuplicateConflicts(t *testing.T) {
	gdb := setupTest(t)
	router := newTestRouter()
	seller := createTestUser(t, gdb, "seller")
	watcher := createTestUser(t, gdb, "watcher")
	listing := createTestListing(t, gdb, seller.ID, "Drill")
	token := accessTokenFor(t, watcher.ID)

	rr := doJSON(t, router, "POST", "/watchlist/items", token, map[string]interface{}{
		"listing_id": listing.ID,
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doJSON(t, router, "POST", "/watchlist/items", token, map[string]interface{}{
		"listing_id": listing.ID,
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	var count int64
	require.NoError(t, gdb.Model(&models.WatchlistItem{}).
		Where("user_id = ?", watcher.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var favorites uint
	require.NoError(t, gdb.Model(&models.Listing{}).
		Select("favorites_count").Where("id = ?", listing.ID).Scan(&favorites).Error)
	assert.Equal(t, uint(1), favorites)
}

func TestAddWatchlistStoreFailureIsMasked(t *testing.T) {
	gdb := setupTest(t)
	router := newTestRouter()
	seller := createTestUser(t, gdb, "seller")
	watcher := createTestUser(t, gdb, "watcher")
	listing := createTestListing(t, gdb, seller.ID, "Couch")

	// a broken store must surface as a masked 500, not a conflict
	require.NoError(t, gdb.Callback().Create().Before("gorm:create").
		Register("fail_watchlist_insert", func(tx *gorm.DB) {
			if tx.Statement.Table == "watchlist_items" {
				_ = tx.AddError(errors.New("disk I/O error"))
			}
		}))

	rr := doJSON(t, router, "POST", "/watchlist/items",
		accessTokenFor(t, watcher.ID), map[string]interface{}{"listing_id": listing.ID})
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Failed to add to watchlist", decodeBody(t, rr)["detail"])
	assert.NotContains(t, rr.Body.String(), "disk I/O error")

	// the rolled-back transaction leaves the counter untouched
	var favorites uint
	require.NoError(t, gdb.Model(&models.Listing{}).
		Select("favorites_count").Where("id = ?", listing.ID).Scan(&favorites).Error)
	assert.Zero(t, favorites)
}

func TestAddWatchlistUnknownListing(t *testing.T) {
	gdb := setupTest(t)
	router := newTestRouter()
	watcher := createTestUser(t, gdb, "watcher")

	rr := doJSON(t, router, "POST", "/watchlist/items",
		accessTokenFor(t, watcher.ID), map[string]interface{}{"listing_id": 4711})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRemoveWatchlistItem(t *testing.T) {
	gdb := setupTest(t)
	router := newTestRouter()
	seller := createTestUser(t, gdb, "seller")
	watcher := createTestUser(t, gdb, "watcher")
	other := createTestUser(t, gdb, "other")
	listing := createTestListing(t, gdb, seller.ID, "Bed frame")
	token := accessTokenFor(t, watcher.ID)

	rr := doJSON(t, router, "POST", "/watchlist/items", token, map[string]interface{}{
		"listing_id": listing.ID,
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	// someone else's entry is not reachable
	rr = doJSON(t, router, "DELETE",
		fmt.Sprintf("/watchlist/items/%d/remove", listing.ID),
		accessTokenFor(t, other.ID), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, router, "DELETE",
		fmt.Sprintf("/watchlist/items/%d/remove", listing.ID), token, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var count int64
	require.NoError(t, gdb.Model(&models.WatchlistItem{}).Count(&count).Error)
	assert.Zero(t, count)

	var favorites uint
	require.NoError(t, gdb.Model(&models.Listing{}).
		Select("favorites_count").Where("id = ?", listing.ID).Scan(&favorites).Error)
	assert.Zero(t, favorites)

	// removing again is a 404, not an error
	rr = doJSON(t, router, "DELETE",
		fmt.Sprintf("/watchlist/items/%d/remove", listing.ID), token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
