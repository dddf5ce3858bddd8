package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pollvault/backend/internal/cache"
	"github.com/pollvault/backend/internal/identity"
	"github.com/pollvault/backend/internal/middleware"
	"github.com/pollvault/backend/internal/models"
)

type VoteHandler struct {
	db    *gorm.DB
	cache *cache.Cache
	log   *zap.Logger
}

func NewVoteHandler(db *gorm.DB, store *cache.Cache, log *zap.Logger) *VoteHandler {
	return &VoteHandler{db: db, cache: store, log: log}
}

// Submit handles POST /polls/:id/vote. Voting is open to anonymous
// callers; duplicates are detected across user id, session token and
// client IP, with the (poll_id, voter_key) unique index closing the
// check-then-insert race.
func (h *VoteHandler) Submit(c *gin.Context) {
	pollID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid poll id"})
		return
	}

	var input models.VoteRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Option ID is required"})
		return
	}

	userID := middleware.UserIDFromContext(c)
	sessionID := identity.SessionID(c)
	ipAddress := identity.ClientIP(c.Request)

	var poll models.Poll
	err = h.db.Preload("Options").First(&poll, pollID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Poll not found"})
			return
		}
		h.log.Error("fetch poll for vote", zap.Error(err), zap.Int("poll_id", pollID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit vote"})
		return
	}

	if !poll.IsActive {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Poll is not active"})
		return
	}

	// The chosen option must belong to this poll.
	valid := false
	for _, opt := range poll.Options {
		if opt.ID == input.OptionID {
			valid = true
			break
		}
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid option"})
		return
	}

	if h.hasVoted(poll.ID, userID, sessionID, ipAddress) {
		c.JSON(http.StatusConflict, gin.H{"error": "You have already voted in this poll"})
		return
	}

	vote := models.Vote{
		PollID:    poll.ID,
		OptionID:  input.OptionID,
		UserID:    userID,
		SessionID: sessionID,
		IPAddress: ipAddress,
		VoterKey:  models.VoterKeyFor(userID, sessionID, ipAddress),
	}

	if err := h.db.Create(&vote).Error; err != nil {
		// Concurrent double-submit from the same identity: the unique
		// index caught what the pre-check missed.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "You have already voted in this poll"})
			return
		}
		h.log.Error("insert vote", zap.Error(err), zap.Int("poll_id", poll.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit vote"})
		return
	}

	h.cache.Clear("polls")
	h.cache.Clear("stats")
	c.JSON(http.StatusCreated, vote)
}

// Check handles GET /polls/:id/vote-check, reporting whether the
// caller's resolved identity has already voted in the poll.
func (h *VoteHandler) Check(c *gin.Context) {
	pollID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid poll id"})
		return
	}

	userID := middleware.UserIDFromContext(c)
	sessionID := identity.SessionID(c)
	ipAddress := identity.ClientIP(c.Request)

	c.JSON(http.StatusOK, gin.H{"hasVoted": h.hasVoted(pollID, userID, sessionID, ipAddress)})
}

// hasVoted reports whether any vote exists on the poll under any of the
// caller's identities. Best effort across identities; the unique index
// is the hard guarantee for the same identity.
func (h *VoteHandler) hasVoted(pollID int, userID *int, sessionID, ipAddress string) bool {
	q := h.db.Model(&models.Vote{}).Where("poll_id = ?", pollID)
	if userID != nil {
		q = q.Where("user_id = ? OR session_id = ? OR ip_address = ?", *userID, sessionID, ipAddress)
	} else {
		q = q.Where("session_id = ? OR ip_address = ?", sessionID, ipAddress)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		h.log.Error("existing vote lookup", zap.Error(err), zap.Int("poll_id", pollID))
		return false
	}
	return count > 0
}
