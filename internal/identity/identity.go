// Package identity resolves who is casting a vote: an authenticated user
// id when present, otherwise a durable per-browser session token, with
// the client IP as the last-resort fallback.
package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SessionCookie is the cookie carrying the anonymous voter token.
const SessionCookie = "poll_session"

const sessionCookieMaxAge = 365 * 24 * 3600

// ClientIP reads the caller's network address from forwarding headers:
// the first X-Forwarded-For entry, else X-Real-IP, else "unknown".
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return "unknown"
}

// SessionID returns the caller's anonymous session token, issuing a new
// one on first contact and setting it as a long-lived cookie so the same
// browser presents the same token on later requests.
func SessionID(c *gin.Context) string {
	if sid, err := c.Cookie(SessionCookie); err == nil && sid != "" {
		return sid
	}
	sid := uuid.NewString()
	c.SetCookie(SessionCookie, sid, sessionCookieMaxAge, "/", "", false, true)
	return sid
}
