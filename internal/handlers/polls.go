package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pollvault/backend/internal/cache"
	"github.com/pollvault/backend/internal/config"
	"github.com/pollvault/backend/internal/middleware"
	"github.com/pollvault/backend/internal/models"
)

type PollHandler struct {
	db      *gorm.DB
	cache   *cache.Cache
	listTTL time.Duration
	log     *zap.Logger
}

func NewPollHandler(db *gorm.DB, store *cache.Cache, cacheCfg config.CacheConfig, log *zap.Logger) *PollHandler {
	return &PollHandler{
		db:      db,
		cache:   store,
		listTTL: time.Duration(cacheCfg.PollListTTLSec) * time.Second,
		log:     log,
	}
}

// countVotes returns the total vote count for a poll and the count per
// option. Totals are always derived by counting vote rows; nothing is
// denormalized.
func (h *PollHandler) countVotes(poll models.Poll) (int64, map[int]int64) {
	var total int64
	h.db.Model(&models.Vote{}).Where("poll_id = ?", poll.ID).Count(&total)

	perOption := make(map[int]int64, len(poll.Options))
	for _, opt := range poll.Options {
		var n int64
		h.db.Model(&models.Vote{}).Where("option_id = ?", opt.ID).Count(&n)
		perOption[opt.ID] = n
	}
	return total, perOption
}

func (h *PollHandler) pollResponse(poll models.Poll) gin.H {
	total, perOption := h.countVotes(poll)

	options := make([]gin.H, 0, len(poll.Options))
	for _, opt := range poll.Options {
		options = append(options, gin.H{
			"id":      opt.ID,
			"text":    opt.Text,
			"poll_id": opt.PollID,
			"votes":   perOption[opt.ID],
		})
	}

	return gin.H{
		"id":            poll.ID,
		"title":         poll.Title,
		"description":   poll.Description,
		"is_active":     poll.IsActive,
		"created_by_id": poll.CreatedByID,
		"options":       options,
		"total_votes":   total,
		"created_at":    poll.CreatedAt,
		"updated_at":    poll.UpdatedAt,
	}
}

// GetPolls returns all active polls with vote counts, newest first.
func (h *PollHandler) GetPolls(c *gin.Context) {
	if cached, ok := h.cache.Get("polls:list"); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	var polls []models.Poll
	err := h.db.
		Where("is_active = ?", true).
		Preload("Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("options.id ASC")
		}).
		Order("created_at desc").
		Find(&polls).Error
	if err != nil {
		h.log.Error("fetch polls", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch polls"})
		return
	}

	responses := make([]gin.H, 0, len(polls))
	for _, poll := range polls {
		responses = append(responses, h.pollResponse(poll))
	}

	h.cache.Set("polls:list", responses, h.listTTL)
	c.JSON(http.StatusOK, responses)
}

// GetPoll returns a single poll with options and vote counts.
func (h *PollHandler) GetPoll(c *gin.Context) {
	pollID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid poll id"})
		return
	}

	key := fmt.Sprintf("polls:detail:%d", pollID)
	if cached, ok := h.cache.Get(key); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	var poll models.Poll
	err = h.db.
		Preload("Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("options.id ASC")
		}).
		First(&poll, pollID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Poll not found"})
			return
		}
		h.log.Error("fetch poll", zap.Error(err), zap.Int("poll_id", pollID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch poll"})
		return
	}

	resp := h.pollResponse(poll)
	h.cache.Set(key, resp, h.listTTL)
	c.JSON(http.StatusOK, resp)
}

// CreatePoll creates a poll together with its options (auth required).
func (h *PollHandler) CreatePoll(c *gin.Context) {
	var input models.CreatePollRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserIDFromContext(c)
	if userID == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	poll := models.Poll{
		Title:       input.Title,
		Description: input.Description,
		IsActive:    true,
		CreatedByID: userID,
	}
	for _, text := range input.Options {
		poll.Options = append(poll.Options, models.Option{Text: text})
	}

	if err := h.db.Create(&poll).Error; err != nil {
		h.log.Error("create poll", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create poll"})
		return
	}

	h.cache.Clear("polls")
	h.cache.Clear("stats")
	c.JSON(http.StatusCreated, poll)
}

// UpdatePoll updates a poll's title and active flag (admin only).
func (h *PollHandler) UpdatePoll(c *gin.Context) {
	pollID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid poll id"})
		return
	}

	var input models.UpdatePollRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var poll models.Poll
	if err := h.db.First(&poll, pollID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Poll not found"})
		return
	}

	poll.Title = input.Title
	if input.IsActive != nil {
		poll.IsActive = *input.IsActive
	}

	if err := h.db.Save(&poll).Error; err != nil {
		h.log.Error("update poll", zap.Error(err), zap.Int("poll_id", pollID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update poll"})
		return
	}

	h.cache.Clear("polls")
	h.cache.Clear("stats")
	c.JSON(http.StatusOK, poll)
}

// DeletePoll removes a poll and, through the cascade, its options and
// votes (admin only).
func (h *PollHandler) DeletePoll(c *gin.Context) {
	pollID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid poll id"})
		return
	}

	var poll models.Poll
	if err := h.db.First(&poll, pollID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Poll not found"})
		return
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("poll_id = ?", poll.ID).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("poll_id = ?", poll.ID).Delete(&models.Option{}).Error; err != nil {
			return err
		}
		return tx.Delete(&poll).Error
	})
	if err != nil {
		h.log.Error("delete poll", zap.Error(err), zap.Int("poll_id", pollID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete poll"})
		return
	}

	h.cache.Clear("polls")
	h.cache.Clear("stats")
	c.JSON(http.StatusOK, gin.H{"message": "Poll deleted successfully"})
}
