package routes

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRegisterAndLogin(t *testing.T) {
	setupTest(t)
	router := newTestRouter()

	rr := doJSON(t, router, "POST", "/auth/register", "", map[string]interface{}{
		"username":  "alice",
		"email":     "alice@example.com",
		"password":  "password123",
		"password2": "password123",
		"phone":     "+49 30 1234567",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	body := decodeBody(t, rr)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "alice", user["username"])

	rr = doJSON(t, router, "POST", "/auth/login", "", map[string]interface{}{
		"username": "alice",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, decodeBody(t, rr)["access_token"])
}

func TestRegisterDuplicateUsername(t *testing.T) {
	gdb := setupTest(t)
	router := newTestRouter()
	createTestUser(t, gdb, "bob")

	rr := doJSON(t, router, "POST", "/auth/register", "", map[string]interface{}{
		"username":  "bob",
		"email":     "bob2@example.com",
		"password":  "password123",
		"password2": "password123",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRegisterConcurrentDuplicateConflicts(t *testing.T) {
	gdb := setupTest(t)
	router := newTestRouter()

	// a competing registration lands between the username pre-check
	// and the insert; the unique index still turns it into a 409
	raced := false
	require.NoError(t, gdb.Callback().Create().Before("gorm:create").
		Register("inject_competing_user", func(tx *gorm.DB) {
			if raced || tx.Statement.Table != "users" {
				return
			}
			raced = true
			_ = tx.Session(&gorm.Session{NewDB: true}).Exec(
				"INSERT INTO users (username, email, password, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
				"mallory", "first@example.com", "x", time.Now(), time.Now(),
			).Error
		}))

	rr := doJSON(t, router, "POST", "/auth/register", "", map[string]interface{}{
		"username":  "mallory",
		"email":     "second@example.com",
		"password":  "password123",
		"password2": "password123",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, decodeBody(t, rr)["detail"], "Username already taken")
}

func TestRegisterPasswordMismatch(t *testing.T) {
	setupTest(t)
	router := newTestRouter()

	rr := doJSON(t, router, "POST", "/auth/register", "", map[string]interface{}{
		"username":  "carol",
		"email":     "carol@example.com",
		"password":  "password123",
		"password2": "different",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeBody(t, rr)["detail"], "Passwords do not match")
}

func TestLoginWrongPassword(t *testing.T) {
	gdb := setupTest(t)
	router := newTestRouter()
	createTestUser(t, gdb, "dave")

	rr := doJSON(t, router, "POST", "/auth/login", "", map[string]interface{}{
		"username": "dave",
		"password": "not-the-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doJSON(t, router, "POST", "/auth/login", "", map[string]interface{}{
		"username": "nobody",
		"password": "password123",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRefreshRotatesTokens(t *testing.T) {
	gdb := setupTest(t)
	router := newTestRouter()
	user := createTestUser(t, gdb, "erin")

	_, refresh, err := generateTokens(user.ID)
	require.NoError(t, err)

	rr := doJSON(t, router, "POST", "/auth/refresh", "", map[string]interface{}{
		"refresh": refresh,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	gdb := setupTest(t)
	router := newTestRouter()
	user := createTestUser(t, gdb, "frank")

	access, _, err := generateTokens(user.ID)
	require.NoError(t, err)

	rr := doJSON(t, router, "POST", "/auth/refresh", "", map[string]interface{}{
		"refresh": access,
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	gdb := setupTest(t)
	router := newTestRouter()
	user := createTestUser(t, gdb, "grace")

	_, refresh, err := generateTokens(user.ID)
	require.NoError(t, err)

	rr := doJSON(t, router, "POST", "/auth/logout", "", map[string]interface{}{
		"refresh": refresh,
	})
	require.Equal(t, http.StatusResetContent, rr.Code)

	rr = doJSON(t, router, "POST", "/auth/refresh", "", map[string]interface{}{
		"refresh": refresh,
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, decodeBody(t, rr)["detail"], "revoked")
}

func TestCurrentUserProfile(t *testing.T) {
	gdb := setupTest(t)
	router := newTestRouter()
	user := createTestUser(t, gdb, "heidi")
	token := accessTokenFor(t, user.ID)

	rr := doJSON(t, router, "GET", "/auth/user", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	profile := decodeBody(t, rr)["user"].(map[string]interface{})
	assert.Equal(t, "heidi", profile["username"])
	// password hash never leaves the server
	assert.NotContains(t, rr.Body.String(), "password")

	rr = doJSON(t, router, "PUT", "/auth/user", token, map[string]interface{}{
		"phone": "+49 89 7654321",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var updated struct{ Phone string }
	require.NoError(t, gdb.Table("users").Select("phone").Where("id = ?", user.ID).Scan(&updated.Phone).Error)
	assert.Equal(t, "+49 89 7654321", updated.Phone)
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	setupTest(t)
	router := newTestRouter()

	rr := doJSON(t, router, "GET", "/auth/user", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doJSON(t, router, "GET", "/auth/user", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
