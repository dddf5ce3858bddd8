package models

import "time"

type Poll struct {
	ID          int    `gorm:"primaryKey" json:"id"`
	Title       string `gorm:"not null" json:"title"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `gorm:"default:true" json:"is_active"`
	CreatedByID *int   `json:"created_by_id,omitempty"`
	CreatedBy   *User  `gorm:"foreignKey:CreatedByID;constraint:OnDelete:SET NULL" json:"created_by,omitempty"`

	// Options keep insertion order for display (ascending id).
	Options []Option `gorm:"constraint:OnDelete:CASCADE" json:"options,omitempty"`
	Votes   []Vote   `gorm:"constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Option struct {
	ID        int       `gorm:"primaryKey" json:"id"`
	PollID    int       `gorm:"not null;index" json:"poll_id"`
	Text      string    `gorm:"not null" json:"text"`
	Votes     []Vote    `gorm:"foreignKey:OptionID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type CreatePollRequest struct {
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	Options     []string `json:"options" binding:"required,min=2,dive,required"`
}

type UpdatePollRequest struct {
	Title    string `json:"title" binding:"required"`
	IsActive *bool  `json:"is_active"`
}
