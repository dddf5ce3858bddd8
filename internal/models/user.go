package models

import "time"

// User roles.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

type User struct {
	ID       int    `gorm:"primaryKey" json:"id"`
	Name     string `json:"name"`
	Email    string `gorm:"unique;not null" json:"email"`
	Password string `json:"-"` // empty for OAuth users
	Image    string `json:"image"`
	Role     string `gorm:"default:USER" json:"role"`

	// OAuth fields
	GoogleID     string `gorm:"index" json:"-"`
	AuthProvider string `json:"auth_provider"` // "credentials" or "google"

	// Deleting a user keeps their polls and votes, detached from the
	// account.
	Polls []Poll `gorm:"foreignKey:CreatedByID;constraint:OnDelete:SET NULL" json:"-"`
	Votes []Vote `gorm:"foreignKey:UserID;constraint:OnDelete:SET NULL" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type OAuthRequest struct {
	Token string `json:"token" binding:"required"` // Google ID token from frontend
}

type UpdateRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=USER ADMIN"`
}
