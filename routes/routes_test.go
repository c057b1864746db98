package routes

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/fleamarkt/fleamarkt-api/db"
	"github.com/fleamarkt/fleamarkt-api/models"
)

// setupTest points the handlers at a fresh in-memory database and a
// throwaway JWT secret.
func setupTest(t *testing.T) *gorm.DB {
	t.Helper()
	t.Setenv("JWT_SECRET_KEY", "test-secret")

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	// a single connection keeps the in-memory database alive
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.MakeMigration(gdb))
	db.SetDB(gdb)
	SetTokenStore(db.NewMemoryTokenStore())
	return gdb
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	AuthRoutes(router)
	ListingRoutes(router)
	MessageRoutes(router)
	WatchlistRoutes(router)
	return router
}

func createTestUser(t *testing.T, gdb *gorm.DB, username string) models.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	user := models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: string(hashed),
	}
	require.NoError(t, gdb.Create(&user).Error)
	return user
}

func accessTokenFor(t *testing.T, userID uint) string {
	t.Helper()
	access, _, err := generateTokens(userID)
	require.NoError(t, err)
	return access
}

// doJSON performs a request with an optional bearer token and JSON body.
func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}
