package handlers

import (
	"bytes"
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/pollvault/backend/internal/cache"
	"github.com/pollvault/backend/internal/config"
	"github.com/pollvault/backend/internal/middleware"
	"github.com/pollvault/backend/internal/models"
)

type AdminHandler struct {
	db       *gorm.DB
	cache    *cache.Cache
	statsTTL time.Duration
	listTTL  time.Duration
	log      *zap.Logger
}

func NewAdminHandler(db *gorm.DB, store *cache.Cache, cacheCfg config.CacheConfig, log *zap.Logger) *AdminHandler {
	return &AdminHandler{
		db:       db,
		cache:    store,
		statsTTL: time.Duration(cacheCfg.DefaultTTLSec) * time.Second,
		listTTL:  time.Duration(cacheCfg.PollListTTLSec) * time.Second,
		log:      log,
	}
}

type pollSummary struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	Votes     int64     `json:"votes"`
	CreatedAt time.Time `json:"created_at"`
}

// GetStats handles GET /admin/stats. The independent aggregate queries
// fan out concurrently; if any one fails the whole snapshot fails.
func (h *AdminHandler) GetStats(c *gin.Context) {
	if cached, ok := h.cache.Get("stats:admin"); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	var totalUsers, totalPolls, totalVotes, activePolls int64

	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		return h.db.WithContext(ctx).Model(&models.User{}).Count(&totalUsers).Error
	})
	g.Go(func() error {
		return h.db.WithContext(ctx).Model(&models.Poll{}).Count(&totalPolls).Error
	})
	g.Go(func() error {
		return h.db.WithContext(ctx).Model(&models.Vote{}).Count(&totalVotes).Error
	})
	g.Go(func() error {
		return h.db.WithContext(ctx).Model(&models.Poll{}).Where("is_active = ?", true).Count(&activePolls).Error
	})
	if err := g.Wait(); err != nil {
		h.log.Error("admin stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch statistics"})
		return
	}

	recent, err := h.recentPolls(10)
	if err != nil {
		h.log.Error("recent polls", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch statistics"})
		return
	}

	resp := gin.H{
		"totalUsers":  totalUsers,
		"totalPolls":  totalPolls,
		"totalVotes":  totalVotes,
		"activePolls": activePolls,
		"recentPolls": recent,
	}
	h.cache.Set("stats:admin", resp, h.statsTTL)
	c.JSON(http.StatusOK, resp)
}

// GetAnalytics handles GET /admin/analytics.
func (h *AdminHandler) GetAnalytics(c *gin.Context) {
	if cached, ok := h.cache.Get("stats:analytics"); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	var totalUsers, totalPolls, totalVotes, activePolls int64
	var recentActivity, newUsers int64
	weekAgo := time.Now().Add(-7 * 24 * time.Hour)
	monthAgo := time.Now().Add(-30 * 24 * time.Hour)

	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		return h.db.WithContext(ctx).Model(&models.User{}).Count(&totalUsers).Error
	})
	g.Go(func() error {
		return h.db.WithContext(ctx).Model(&models.Poll{}).Count(&totalPolls).Error
	})
	g.Go(func() error {
		return h.db.WithContext(ctx).Model(&models.Vote{}).Count(&totalVotes).Error
	})
	g.Go(func() error {
		return h.db.WithContext(ctx).Model(&models.Poll{}).Where("is_active = ?", true).Count(&activePolls).Error
	})
	g.Go(func() error {
		return h.db.WithContext(ctx).Model(&models.Vote{}).Where("created_at >= ?", weekAgo).Count(&recentActivity).Error
	})
	g.Go(func() error {
		return h.db.WithContext(ctx).Model(&models.User{}).Where("created_at >= ?", monthAgo).Count(&newUsers).Error
	})
	if err := g.Wait(); err != nil {
		h.log.Error("admin analytics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch analytics"})
		return
	}

	top, err := h.topPolls(5)
	if err != nil {
		h.log.Error("top polls", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch analytics"})
		return
	}

	resp := gin.H{
		"overview": gin.H{
			"totalUsers":     totalUsers,
			"totalPolls":     totalPolls,
			"totalVotes":     totalVotes,
			"activePolls":    activePolls,
			"recentActivity": recentActivity,
		},
		"topPolls": top,
		"growth": gin.H{
			"newUsersLast30Days": newUsers,
		},
	}
	h.cache.Set("stats:analytics", resp, h.statsTTL)
	c.JSON(http.StatusOK, resp)
}

// GetSiteStats handles the public GET /stats endpoint.
func (h *AdminHandler) GetSiteStats(c *gin.Context) {
	if cached, ok := h.cache.Get("stats:site"); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	var totalUsers, totalPolls, totalVotes int64

	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		return h.db.WithContext(ctx).Model(&models.User{}).Count(&totalUsers).Error
	})
	g.Go(func() error {
		return h.db.WithContext(ctx).Model(&models.Poll{}).Count(&totalPolls).Error
	})
	g.Go(func() error {
		return h.db.WithContext(ctx).Model(&models.Vote{}).Count(&totalVotes).Error
	})
	if err := g.Wait(); err != nil {
		h.log.Error("site stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stats"})
		return
	}

	resp := gin.H{
		"totalUsers": totalUsers,
		"totalPolls": totalPolls,
		"totalVotes": totalVotes,
	}
	h.cache.Set("stats:site", resp, h.listTTL)
	c.JSON(http.StatusOK, resp)
}

// ExportCSV handles GET /admin/export: one row per (poll, option), with
// a single row carrying empty option fields for polls without options.
func (h *AdminHandler) ExportCSV(c *gin.Context) {
	var polls []models.Poll
	err := h.db.
		Preload("Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("options.id ASC")
		}).
		Order("created_at desc").
		Find(&polls).Error
	if err != nil {
		h.log.Error("export polls", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export poll results"})
		return
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"Poll ID", "Poll Title", "Poll Description", "Created At", "Is Active", "Total Votes", "Option Text", "Option Votes"})

	for _, poll := range polls {
		var totalVotes int64
		h.db.Model(&models.Vote{}).Where("poll_id = ?", poll.ID).Count(&totalVotes)

		active := "No"
		if poll.IsActive {
			active = "Yes"
		}
		base := []string{
			strconv.Itoa(poll.ID),
			poll.Title,
			poll.Description,
			poll.CreatedAt.Format(time.RFC3339),
			active,
			strconv.FormatInt(totalVotes, 10),
		}

		if len(poll.Options) == 0 {
			_ = w.Write(append(base, "", "0"))
			continue
		}
		for _, opt := range poll.Options {
			var optionVotes int64
			h.db.Model(&models.Vote{}).Where("option_id = ?", opt.ID).Count(&optionVotes)
			_ = w.Write(append(base, opt.Text, strconv.FormatInt(optionVotes, 10)))
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		h.log.Error("write export", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export poll results"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="poll-results.csv"`)
	c.Data(http.StatusOK, "text/csv", buf.Bytes())
}

// ListUsers handles GET /admin/users.
func (h *AdminHandler) ListUsers(c *gin.Context) {
	var users []models.User
	if err := h.db.Order("created_at desc").Find(&users).Error; err != nil {
		h.log.Error("list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
		return
	}

	responses := make([]gin.H, 0, len(users))
	for _, user := range users {
		var votes int64
		h.db.Model(&models.Vote{}).Where("user_id = ?", user.ID).Count(&votes)
		responses = append(responses, gin.H{
			"id":         user.ID,
			"name":       user.Name,
			"email":      user.Email,
			"role":       user.Role,
			"votes":      votes,
			"created_at": user.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, responses)
}

// GetUserStats handles GET /users/:id/stats. Users can read their own
// numbers; admins can read anyone's.
func (h *AdminHandler) GetUserStats(c *gin.Context) {
	targetID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}

	callerID := middleware.UserIDFromContext(c)
	role, _ := c.Get(middleware.ContextUserRole)
	if callerID == nil || (*callerID != targetID && role != models.RoleAdmin) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	var pollsCreated, votesCast int64
	if err := h.db.Model(&models.Poll{}).Where("created_by_id = ?", targetID).Count(&pollsCreated).Error; err != nil {
		h.log.Error("user poll count", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch user stats"})
		return
	}
	if err := h.db.Model(&models.Vote{}).Where("user_id = ?", targetID).Count(&votesCast).Error; err != nil {
		h.log.Error("user vote count", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch user stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pollsCreated": pollsCreated,
		"votesCast":    votesCast,
	})
}

// UpdateUserRole handles PATCH /admin/users/:id.
func (h *AdminHandler) UpdateUserRole(c *gin.Context) {
	targetID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}

	var input models.UpdateRoleRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role"})
		return
	}

	var user models.User
	if err := h.db.First(&user, targetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		h.log.Error("find user", zap.Error(err), zap.Int("user_id", targetID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user"})
		return
	}

	user.Role = input.Role
	if err := h.db.Save(&user).Error; err != nil {
		h.log.Error("update user role", zap.Error(err), zap.Int("user_id", targetID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user"})
		return
	}

	h.cache.Clear("users:")
	h.cache.Clear("stats")
	c.JSON(http.StatusOK, gin.H{
		"id":    user.ID,
		"name":  user.Name,
		"email": user.Email,
		"role":  user.Role,
	})
}

// DeleteUser handles DELETE /admin/users/:id. Admins cannot delete their
// own account.
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	targetID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}

	callerID := middleware.UserIDFromContext(c)
	if callerID != nil && *callerID == targetID {
		c.JSON(http.StatusConflict, gin.H{"error": "Cannot delete your own account"})
		return
	}

	var user models.User
	if err := h.db.First(&user, targetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		h.log.Error("find user", zap.Error(err), zap.Int("user_id", targetID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user"})
		return
	}

	if err := h.db.Delete(&user).Error; err != nil {
		h.log.Error("delete user", zap.Error(err), zap.Int("user_id", targetID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user"})
		return
	}

	h.cache.Clear("users:")
	h.cache.Clear("stats")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// recentPolls returns the n newest polls with their vote counts.
func (h *AdminHandler) recentPolls(n int) ([]pollSummary, error) {
	var polls []models.Poll
	if err := h.db.Order("created_at desc").Limit(n).Find(&polls).Error; err != nil {
		return nil, err
	}

	out := make([]pollSummary, 0, len(polls))
	for _, poll := range polls {
		var votes int64
		if err := h.db.Model(&models.Vote{}).Where("poll_id = ?", poll.ID).Count(&votes).Error; err != nil {
			return nil, err
		}
		out = append(out, pollSummary{
			ID:        poll.ID,
			Title:     poll.Title,
			Votes:     votes,
			CreatedAt: poll.CreatedAt,
		})
	}
	return out, nil
}

// topPolls returns the n polls with the most votes, vote count
// descending, ties broken by ascending poll id.
func (h *AdminHandler) topPolls(n int) ([]pollSummary, error) {
	var rows []pollSummary
	err := h.db.Model(&models.Poll{}).
		Select("polls.id, polls.title, polls.created_at, COUNT(votes.id) AS votes").
		Joins("LEFT JOIN votes ON votes.poll_id = polls.id").
		Group("polls.id, polls.title, polls.created_at").
		Order("votes DESC, polls.id ASC").
		Limit(n).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
