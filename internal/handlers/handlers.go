package handlers

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pollvault/backend/internal/cache"
	"github.com/pollvault/backend/internal/config"
)

// Handler combines all handler types
type Handler struct {
	Auth  *AuthHandler
	Poll  *PollHandler
	Vote  *VoteHandler
	Admin *AdminHandler
}

// NewHandler creates a unified handler with all sub-handlers sharing the
// same database, read cache and logger.
func NewHandler(db *gorm.DB, store *cache.Cache, cfg *config.Config, log *zap.Logger) *Handler {
	return &Handler{
		Auth:  NewAuthHandler(db, store, cfg.JWT, log),
		Poll:  NewPollHandler(db, store, cfg.Cache, log),
		Vote:  NewVoteHandler(db, store, log),
		Admin: NewAdminHandler(db, store, cfg.Cache, log),
	}
}
