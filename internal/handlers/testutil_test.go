package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pollvault/backend/internal/config"
	"github.com/pollvault/backend/internal/database"
	"github.com/pollvault/backend/internal/models"
	"github.com/pollvault/backend/internal/server"
)

type testDBService struct {
	db *gorm.DB
}

func (s *testDBService) Health() map[string]string { return map[string]string{"status": "up"} }
func (s *testDBService) Close() error              { return nil }
func (s *testDBService) GetDB() *gorm.DB           { return s.db }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:               "0",
			CORSAllowedOrigins: "*",
		},
		JWT: config.JWTConfig{
			Secret:      "test-secret",
			ExpireHours: 1,
		},
		Cache: config.CacheConfig{
			MaxEntries:     100,
			DefaultTTLSec:  60,
			PollListTTLSec: 30,
		},
	}
}

// setupRouter builds the full application router over a fresh in-memory
// SQLite database.
func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// foreign_keys(1) makes SQLite enforce the same referential actions
	// the Postgres schema carries.
	db, err := gorm.Open(sqlite.Open(":memory:?_pragma=foreign_keys(1)"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	// A fresh connection to :memory: is a fresh database, so the pool
	// must stay on a single connection.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	httpSrv := server.New(testConfig(), &testDBService{db: db}, zap.NewNop())
	router, ok := httpSrv.Handler.(*gin.Engine)
	if !ok {
		t.Fatal("expected gin engine handler")
	}
	return router, db
}

type request struct {
	method  string
	path    string
	body    interface{}
	token   string
	ip      string
	cookies []*http.Cookie
}

func do(t *testing.T, router *gin.Engine, req request) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Buffer
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	httpReq := httptest.NewRequest(req.method, req.path, body)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}
	if req.ip != "" {
		httpReq.Header.Set("X-Forwarded-For", req.ip)
	}
	for _, ck := range req.cookies {
		httpReq.AddCookie(ck)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

// registerUser registers a user through the API and returns the token.
func registerUser(t *testing.T, router *gin.Engine, name, email string) string {
	t.Helper()
	w := do(t, router, request{
		method: http.MethodPost,
		path:   "/api/register",
		body: models.RegisterRequest{
			Name:     name,
			Email:    email,
			Password: "password123",
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", email, w.Code, w.Body.String())
	}
	return decode(t, w)["token"].(string)
}

// createPoll creates a poll through the API and returns it decoded.
func createPoll(t *testing.T, router *gin.Engine, token, title string, options ...string) map[string]interface{} {
	t.Helper()
	w := do(t, router, request{
		method: http.MethodPost,
		path:   "/api/polls",
		token:  token,
		body: models.CreatePollRequest{
			Title:   title,
			Options: options,
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create poll %q: status %d body %s", title, w.Code, w.Body.String())
	}
	return decode(t, w)
}

func pollPath(poll map[string]interface{}, suffix string) string {
	return fmt.Sprintf("/api/polls/%d%s", int(poll["id"].(float64)), suffix)
}

func optionID(t *testing.T, poll map[string]interface{}, text string) int {
	t.Helper()
	options, ok := poll["options"].([]interface{})
	if !ok {
		t.Fatalf("poll has no options: %v", poll)
	}
	for _, raw := range options {
		opt := raw.(map[string]interface{})
		if opt["text"] == text {
			return int(opt["id"].(float64))
		}
	}
	t.Fatalf("option %q not found in %v", text, options)
	return 0
}
