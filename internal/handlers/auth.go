package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/pollvault/backend/internal/cache"
	"github.com/pollvault/backend/internal/config"
	"github.com/pollvault/backend/internal/database"
	"github.com/pollvault/backend/internal/middleware"
	"github.com/pollvault/backend/internal/models"
)

const userCacheTTL = 60 * time.Second

type AuthHandler struct {
	db    *gorm.DB
	cache *cache.Cache
	jwt   config.JWTConfig
	log   *zap.Logger

	// verifyIDToken is swapped out in tests.
	verifyIDToken func(idToken string) (*GoogleUserInfo, error)
}

func NewAuthHandler(db *gorm.DB, store *cache.Cache, jwtCfg config.JWTConfig, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		db:            db,
		cache:         store,
		jwt:           jwtCfg,
		log:           log,
		verifyIDToken: verifyGoogleIDToken,
	}
}

// GoogleUserInfo represents user data from Google OAuth
type GoogleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified,string"`
	Picture       string `json:"picture"`
	Name          string `json:"name"`
}

// verifyGoogleIDToken verifies the Google ID token and returns user info
func verifyGoogleIDToken(idToken string) (*GoogleUserInfo, error) {
	resp, err := http.Get(
		"https://oauth2.googleapis.com/tokeninfo?id_token=" + idToken,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("invalid google token")
	}

	var user GoogleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}

	if !user.EmailVerified {
		return nil, fmt.Errorf("email not verified")
	}

	return &user, nil
}

// Register handles user registration
func (h *AuthHandler) Register(c *gin.Context) {
	var input models.RegisterRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var existingUser models.User
	if err := h.db.Where("email = ?", input.Email).First(&existingUser).Error; err == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User with this email already exists"})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	user := models.User{
		Name:         input.Name,
		Email:        input.Email,
		Password:     string(hashedPassword),
		AuthProvider: "credentials",
	}

	if err := h.createUser(c, &user); err != nil {
		h.log.Error("create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	tokenString, err := h.generateToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"token":   tokenString,
		"user": gin.H{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
			"role":  user.Role,
		},
	})
}

// Login handles user login
func (h *AuthHandler) Login(c *gin.Context) {
	var input models.LoginRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.findUserByEmail(c, input.Email)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	// OAuth accounts have no password and cannot log in with credentials.
	if user.Password == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	tokenString, err := h.generateToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"token":   tokenString,
		"user": gin.H{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
			"image": user.Image,
			"role":  user.Role,
		},
	})
}

// GoogleLogin handles Google OAuth login
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	var input models.OAuthRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	googleUser, err := h.verifyIDToken(input.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid Google token"})
		return
	}

	var user models.User
	var result *gorm.DB
	err = database.WithRetry(c.Request.Context(), func() error {
		result = h.db.Where("email = ? OR google_id = ?", googleUser.Email, googleUser.Sub).First(&user)
		if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}
		return nil
	})
	if err != nil {
		h.log.Error("oauth user lookup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		user = models.User{
			Name:         googleUser.Name,
			Email:        googleUser.Email,
			Image:        googleUser.Picture,
			GoogleID:     googleUser.Sub,
			AuthProvider: "google",
		}
		if err := h.createUser(c, &user); err != nil {
			h.log.Error("create oauth user", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
			return
		}
	} else if user.GoogleID == "" {
		// Existing credentials account signing in with Google for the
		// first time - link it.
		user.GoogleID = googleUser.Sub
		user.AuthProvider = "google"
		if err := h.db.Save(&user).Error; err != nil {
			h.log.Error("link google account", zap.Error(err), zap.Int("user_id", user.ID))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to link account"})
			return
		}
		h.cache.Clear("users:")
	}

	tokenString, err := h.generateToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": tokenString,
		"user": gin.H{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
			"image": user.Image,
			"role":  user.Role,
		},
	})
}

// GetMe returns the current authenticated user
func (h *AuthHandler) GetMe(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var user models.User
	if err := h.db.First(&user, *userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":            user.ID,
		"name":          user.Name,
		"email":         user.Email,
		"image":         user.Image,
		"role":          user.Role,
		"auth_provider": user.AuthProvider,
		"created_at":    user.CreatedAt,
	})
}

// createUser inserts the user, promoting the first-ever registered user
// to admin. The count and insert run in one transaction so the bootstrap
// happens exactly once, at creation time, instead of being re-checked on
// every session read.
func (h *AuthHandler) createUser(c *gin.Context, user *models.User) error {
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Count(&count).Error; err != nil {
			return err
		}
		user.Role = models.RoleUser
		if count == 0 {
			user.Role = models.RoleAdmin
		}
		return tx.Create(user).Error
	})
	if err != nil {
		return err
	}
	if user.Role == models.RoleAdmin {
		h.log.Info("bootstrap: first registered user promoted to admin",
			zap.String("email", user.Email))
	}
	h.cache.Clear("stats")
	return nil
}

// findUserByEmail is the hot lookup on the login path: memoized for a
// short window and retried on transient database failures.
func (h *AuthHandler) findUserByEmail(c *gin.Context, email string) (models.User, error) {
	key := "users:email:" + email
	if v, ok := h.cache.Get(key); ok {
		if user, ok := v.(models.User); ok {
			return user, nil
		}
	}

	var user models.User
	err := database.WithRetry(c.Request.Context(), func() error {
		if err := h.db.Where("email = ?", email).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		h.log.Error("user lookup", zap.Error(err), zap.String("email", email))
		return models.User{}, err
	}
	if user.ID == 0 {
		return models.User{}, gorm.ErrRecordNotFound
	}

	h.cache.Set(key, user, userCacheTTL)
	return user, nil
}

func (h *AuthHandler) generateToken(user models.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID,
		"email":   user.Email,
		"role":    user.Role,
		"exp":     time.Now().Add(time.Duration(h.jwt.ExpireHours) * time.Hour).Unix(),
	})
	return token.SignedString([]byte(h.jwt.Secret))
}
