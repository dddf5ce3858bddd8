package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pollvault/backend/internal/cache"
	"github.com/pollvault/backend/internal/config"
	"github.com/pollvault/backend/internal/database"
	"github.com/pollvault/backend/internal/handlers"
	"github.com/pollvault/backend/internal/middleware"
)

type Server struct {
	cfg     *config.Config
	db      database.Service
	handler *handlers.Handler
	log     *zap.Logger
}

// New wires the handlers to the injected database service and returns a
// configured HTTP server.
func New(cfg *config.Config, db database.Service, log *zap.Logger) *http.Server {
	store := cache.New(cfg.Cache.MaxEntries)
	handler := handlers.NewHandler(db.GetDB(), store, cfg, log)

	s := &Server{
		cfg:     cfg,
		db:      db,
		handler: handler,
		log:     log,
	}

	router := s.RegisterRoutes()

	return &http.Server{
		Addr:         "0.0.0.0:" + cfg.Server.Port,
		Handler:      router,
		IdleTimeout:  time.Minute,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
}

// RegisterRoutes sets up all application routes
func (s *Server) RegisterRoutes() *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(s.log), gin.Recovery())

	// CORS configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(s.cfg.Server.CORSAllowedOrigins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * 3600,
	}))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.db.Health())
	})

	secret := s.cfg.JWT.Secret

	// API routes
	api := r.Group("/api")
	{
		// Auth routes (public)
		api.POST("/register", s.handler.Auth.Register)
		api.POST("/login", s.handler.Auth.Login)
		api.POST("/auth/google", s.handler.Auth.GoogleLogin)

		// Poll routes (public reads)
		api.GET("/polls", s.handler.Poll.GetPolls)
		api.GET("/polls/:id", s.handler.Poll.GetPoll)

		// Voting is open to anonymous callers; a token, when present,
		// pins the vote to the user.
		api.POST("/polls/:id/vote", middleware.OptionalAuth(secret), s.handler.Vote.Submit)
		api.GET("/polls/:id/vote-check", middleware.OptionalAuth(secret), s.handler.Vote.Check)

		// Public site stats
		api.GET("/stats", s.handler.Admin.GetSiteStats)

		// Protected routes (authentication required)
		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(secret))
		{
			protected.GET("/me", s.handler.Auth.GetMe)
			protected.POST("/polls", s.handler.Poll.CreatePoll)
			protected.GET("/users/:id/stats", s.handler.Admin.GetUserStats)
		}

		// Admin routes
		admin := api.Group("/admin")
		admin.Use(middleware.AuthMiddleware(secret), middleware.RequireAdmin())
		{
			admin.GET("/stats", s.handler.Admin.GetStats)
			admin.GET("/analytics", s.handler.Admin.GetAnalytics)
			admin.GET("/export", s.handler.Admin.ExportCSV)
			admin.GET("/users", s.handler.Admin.ListUsers)
			admin.PATCH("/users/:id", s.handler.Admin.UpdateUserRole)
			admin.DELETE("/users/:id", s.handler.Admin.DeleteUser)
		}

		// Poll admin edits
		api.PUT("/polls/:id", middleware.AuthMiddleware(secret), middleware.RequireAdmin(), s.handler.Poll.UpdatePoll)
		api.DELETE("/polls/:id", middleware.AuthMiddleware(secret), middleware.RequireAdmin(), s.handler.Poll.DeletePoll)
	}

	return r
}
