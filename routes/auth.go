// routes/auth.go
package routes

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"github.com/fleamarkt/fleamarkt-api/db"
	"github.com/fleamarkt/fleamarkt-api/middleware"
	"github.com/fleamarkt/fleamarkt-api/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	accessTokenTTL  = time.Hour
	refreshTokenTTL = 7 * 24 * time.Hour
)

// tokenStore holds the refresh-token denylist. main swaps in the Redis
// store when one is configured.
var tokenStore db.TokenStore = db.NewMemoryTokenStore()

func SetTokenStore(ts db.TokenStore) {
	tokenStore = ts
}

// AuthRoutes sets up the authentication routes under /auth.
func AuthRoutes(router *gin.Engine) {
	auth := router.Group("/auth")
	{
		auth.POST("/register", Register())
		auth.POST("/login", Login())
		auth.POST("/refresh", RefreshToken())
		auth.POST("/logout", Logout())
	}

	user := router.Group("/auth/user")
	user.Use(middleware.AuthMiddleware())
	{
		user.GET("", CurrentUser())
		user.PUT("", UpdateCurrentUser())
	}
}

// Register handles new user registration.
func Register() gin.HandlerFunc {
	return func(c *gin.Context) {
		var registerRequest struct {
			Username  string `json:"username" binding:"required"`
			Email     string `json:"email" binding:"required,email"`
			Password  string `json:"password" binding:"required,min=6"`
			Password2 string `json:"password2" binding:"required"`
			Phone     string `json:"phone"`
		}

		if err := c.ShouldBindJSON(&registerRequest); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid input: " + err.Error()})
			return
		}

		if registerRequest.Password != registerRequest.Password2 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Passwords do not match"})
			return
		}

		DB := db.GetDB()

		// Usernames are unique; check up front for a clean error.
		var existing models.User
		if err := DB.Where("username = ?", registerRequest.Username).First(&existing).Error; err == nil {
			c.JSON(http.StatusConflict, gin.H{"detail": "Username already taken"})
			return
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("Error checking username %q: %v", registerRequest.Username, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to process registration"})
			return
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(registerRequest.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("Error hashing password: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to process registration"})
			return
		}

		user := models.User{
			Username: registerRequest.Username,
			Email:    registerRequest.Email,
			Phone:    registerRequest.Phone,
			Password: string(hashedPassword),
		}

		if result := DB.Create(&user); result.Error != nil {
			// A concurrent registration can slip past the pre-check;
			// the unique index still catches it here.
			if db.IsDuplicateKey(result.Error) {
				c.JSON(http.StatusConflict, gin.H{"detail": "Username already taken"})
				return
			}
			log.Printf("Error creating user in DB: %v", result.Error)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to create user"})
			return
		}

		accessToken, refreshToken, err := generateTokens(user.ID)
		if err != nil {
			log.Printf("Error generating tokens: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to finalize registration"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"user": gin.H{
				"id":       user.ID,
				"username": user.Username,
				"email":    user.Email,
				"phone":    user.Phone,
			},
			"access_token":  accessToken,
			"refresh_token": refreshToken,
		})
	}
}

// Login handles user login requests.
func Login() gin.HandlerFunc {
	return func(c *gin.Context) {
		var loginRequest struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}

		if err := c.ShouldBindJSON(&loginRequest); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid input: " + err.Error()})
			return
		}

		DB := db.GetDB()

		var user models.User
		result := DB.Where("username = ?", loginRequest.Username).First(&user)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid credentials"})
			} else {
				log.Printf("Database error during login lookup for %q: %v", loginRequest.Username, result.Error)
				c.JSON(http.StatusInternalServerError, gin.H{"detail": "Database error during login"})
			}
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(loginRequest.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid credentials"})
			return
		}

		accessToken, refreshToken, err := generateTokens(user.ID)
		if err != nil {
			log.Printf("Error generating tokens for user ID %d: %v", user.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to generate login tokens"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user": gin.H{
				"id":       user.ID,
				"username": user.Username,
				"email":    user.Email,
				"phone":    user.Phone,
			},
			"access_token":  accessToken,
			"refresh_token": refreshToken,
		})
	}
}

// RefreshToken exchanges a valid, non-denylisted refresh token for a new
// token pair.
func RefreshToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var refreshRequest struct {
			RefreshToken string `json:"refresh" binding:"required"`
		}

		if err := c.ShouldBindJSON(&refreshRequest); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid input: " + err.Error()})
			return
		}

		claims, err := parseRefreshToken(refreshRequest.RefreshToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid or expired refresh token"})
			return
		}

		denied, err := tokenStore.IsDenied(refreshRequest.RefreshToken)
		if err != nil {
			log.Printf("Denylist lookup failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not process token"})
			return
		}
		if denied {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Token has been revoked"})
			return
		}

		userIDFloat, ok := claims["user_id"].(float64)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Could not parse user ID from token"})
			return
		}
		userID := uint(userIDFloat)

		// Verify the user still exists before minting new tokens.
		DB := db.GetDB()
		var user models.User
		if result := DB.First(&user, userID); result.Error != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "User associated with token not found"})
			return
		}

		newAccessToken, newRefreshToken, err := generateTokens(userID)
		if err != nil {
			log.Printf("Error generating tokens during refresh for user ID %d: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to generate new tokens"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"access_token":  newAccessToken,
			"refresh_token": newRefreshToken,
		})
	}
}

// Logout denylists the presented refresh token until its natural expiry.
func Logout() gin.HandlerFunc {
	return func(c *gin.Context) {
		var logoutRequest struct {
			RefreshToken string `json:"refresh" binding:"required"`
		}

		if err := c.ShouldBindJSON(&logoutRequest); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid input: " + err.Error()})
			return
		}

		claims, err := parseRefreshToken(logoutRequest.RefreshToken)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid refresh token"})
			return
		}

		ttl := time.Duration(0)
		if exp, ok := claims["exp"].(float64); ok {
			ttl = time.Until(time.Unix(int64(exp), 0))
		}
		if err := tokenStore.Deny(logoutRequest.RefreshToken, ttl); err != nil {
			log.Printf("Failed to denylist token: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to log out"})
			return
		}

		c.Status(http.StatusResetContent)
	}
}

// CurrentUser returns the authenticated user's profile.
func CurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		DB := db.GetDB()
		var user models.User
		if result := DB.First(&user, userID); result.Error != nil {
			c.JSON(http.StatusNotFound, gin.H{"detail": "User not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// UpdateCurrentUser updates the authenticated user's own profile.
// is_admin is not client-settable.
func UpdateCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		var updateRequest struct {
			Email    string `json:"email"`
			Phone    string `json:"phone"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&updateRequest); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid input: " + err.Error()})
			return
		}

		DB := db.GetDB()
		var user models.User
		if result := DB.First(&user, userID); result.Error != nil {
			c.JSON(http.StatusNotFound, gin.H{"detail": "User not found"})
			return
		}

		if updateRequest.Email != "" {
			user.Email = updateRequest.Email
		}
		if updateRequest.Phone != "" {
			user.Phone = updateRequest.Phone
		}
		if updateRequest.Password != "" {
			if len(updateRequest.Password) < 6 {
				c.JSON(http.StatusBadRequest, gin.H{"detail": "Password must be at least 6 characters"})
				return
			}
			hashed, err := bcrypt.GenerateFromPassword([]byte(updateRequest.Password), bcrypt.DefaultCost)
			if err != nil {
				log.Printf("Error hashing password: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to update profile"})
				return
			}
			user.Password = string(hashed)
		}

		if result := DB.Save(&user); result.Error != nil {
			log.Printf("Error updating user %d: %v", userID, result.Error)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to update profile"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// parseRefreshToken validates signature, expiry and the refresh type
// claim, returning the claims on success.
func parseRefreshToken(tokenString string) (jwt.MapClaims, error) {
	jwtSecret := os.Getenv("JWT_SECRET_KEY")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT secret key not configured")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("failed to parse token claims")
	}
	if tokenType, ok := claims["type"].(string); !ok || tokenType != "refresh" {
		return nil, fmt.Errorf("not a refresh token")
	}
	return claims, nil
}

// generateTokens is a helper function to create new JWT access and refresh tokens.
func generateTokens(userID uint) (string, string, error) {
	jwtSecret := os.Getenv("JWT_SECRET_KEY")
	if jwtSecret == "" {
		return "", "", fmt.Errorf("JWT secret key not configured")
	}
	secretKeyBytes := []byte(jwtSecret)

	accessTokenClaims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(accessTokenTTL).Unix(),
		"iat":     time.Now().Unix(),
		"type":    "access",
	}
	accessToken := jwt.NewWithClaims(jwt.SigningMethodHS256, accessTokenClaims)
	accessTokenString, err := accessToken.SignedString(secretKeyBytes)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshTokenClaims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(refreshTokenTTL).Unix(),
		"iat":     time.Now().Unix(),
		"type":    "refresh",
	}
	refreshToken := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshTokenClaims)
	refreshTokenString, err := refreshToken.SignedString(secretKeyBytes)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return accessTokenString, refreshTokenString, nil
}
