// Package server wires the HTTP surface: routing, middleware, and the
// handlers that sit on top of the account pool and Cloud Code dispatcher.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relaygw/cloudcode-gateway/internal/account"
	"github.com/relaygw/cloudcode-gateway/internal/cloudcode"
	"github.com/relaygw/cloudcode-gateway/internal/config"
	"github.com/relaygw/cloudcode-gateway/internal/format"
	"github.com/relaygw/cloudcode-gateway/internal/metrics"
	"github.com/relaygw/cloudcode-gateway/internal/modules"
	"github.com/relaygw/cloudcode-gateway/internal/server/handlers"
	"github.com/relaygw/cloudcode-gateway/internal/utils"
)

// Server is the main HTTP server.
type Server struct {
	engine           *gin.Engine
	accountManager   *account.Manager
	cloudCodeClient  *cloudcode.Client
	cfg              *config.Config
	usageStats       *modules.UsageStats
	fallbackEnabled  bool
	strategyOverride string

	initOnce    sync.Once
	initError   error
	initialized bool
}

// Options holds server configuration options.
type Options struct {
	FallbackEnabled  bool
	StrategyOverride string
	Debug            bool
}

// New creates a new Server instance.
func New(cfg *config.Config, accountManager *account.Manager, usageStats *modules.UsageStats, opts Options) *Server {
	if opts.Debug || cfg.DevMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.SetTrustedProxies(nil)
	engine.Use(gin.Recovery())

	if usageStats == nil {
		usageStats = modules.NewUsageStats()
	}

	return &Server{
		engine:           engine,
		accountManager:   accountManager,
		cfg:              cfg,
		usageStats:       usageStats,
		fallbackEnabled:  opts.FallbackEnabled,
		strategyOverride: opts.StrategyOverride,
	}
}

// Initialize initializes the account manager and cloud code client, once.
func (s *Server) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		if err := s.accountManager.Initialize(ctx, s.strategyOverride); err != nil {
			s.initError = err
			utils.Error("[Server] Failed to initialize account manager: %v", err)
			return
		}

		s.cloudCodeClient = cloudcode.NewClient(s.accountManager, s.cfg)

		status := s.accountManager.GetStatus()
		utils.Success("[Server] Account pool initialized: %s", status.Summary)

		s.initialized = true
	})

	return s.initError
}

func (s *Server) ensureInitialized(c *gin.Context) bool {
	if s.initialized {
		return true
	}

	if err := s.Initialize(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "api_error",
				"message": "Server not initialized: " + err.Error(),
			},
		})
		return false
	}

	return true
}

// SetupRoutes registers all HTTP routes.
func (s *Server) SetupRoutes() {
	s.engine.Use(CORSMiddleware())
	s.engine.Use(SilentHandlerMiddleware())
	s.engine.Use(RequestLoggingMiddleware())

	s.engine.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, config.RequestBodyLimit)
		c.Next()
	})

	healthHandler := handlers.NewHealthHandler(s.accountManager)
	modelsHandler := handlers.NewModelsHandler(s.accountManager)
	accountsHandler := handlers.NewAccountsHandler(s.accountManager, s.cfg)
	messagesHandler := handlers.NewMessagesHandler(s.accountManager, s.cloudCodeClient, s.cfg, s.usageStats, s.fallbackEnabled)
	refreshHandler := handlers.NewRefreshTokenHandler(s.accountManager)

	s.engine.POST("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.engine.POST("/test/clear-signature-cache", func(c *gin.Context) {
		format.ClearThinkingSignatureCache()
		utils.Debug("[Test] Cleared thinking signature cache")
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Thinking signature cache cleared"})
	})

	s.engine.GET("/health", func(c *gin.Context) {
		if !s.ensureInitialized(c) {
			return
		}
		healthHandler.Health(c)
	})

	s.engine.GET("/account-limits", func(c *gin.Context) {
		if !s.ensureInitialized(c) {
			return
		}
		accountsHandler.AccountLimits(c)
	})

	s.engine.POST("/refresh-token", func(c *gin.Context) {
		if !s.ensureInitialized(c) {
			return
		}
		refreshHandler.RefreshToken(c)
	})

	if s.cfg.MetricsEnabled {
		s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	v1 := s.engine.Group("/v1")
	v1.Use(APIKeyAuthMiddleware(s.cfg))
	{
		v1.GET("/models", func(c *gin.Context) {
			if !s.ensureInitialized(c) {
				return
			}
			modelsHandler.ListModels(c)
		})

		v1.POST("/messages/count_tokens", messagesHandler.CountTokens)

		v1.POST("/messages", func(c *gin.Context) {
			if !s.ensureInitialized(c) {
				return
			}
			messagesHandler.Messages(c)
		})
	}

	s.engine.NoRoute(func(c *gin.Context) {
		if utils.IsDebug() {
			utils.Debug("[API] 404 Not Found: %s %s", c.Request.Method, c.Request.URL.Path)
		}
		c.JSON(http.StatusNotFound, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "not_found_error",
				"message": fmt.Sprintf("Endpoint %s %s not found", c.Request.Method, c.Request.URL.Path),
			},
		})
	})
}

// Run starts the HTTP server, blocking until it exits.
func (s *Server) Run(addr string) error {
	s.SetupRoutes()

	utils.Info("[Server] Starting on %s", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return srv.ListenAndServe()
}

// Engine returns the Gin engine for testing or custom configuration.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// GetAccountManager returns the account manager.
func (s *Server) GetAccountManager() *account.Manager {
	return s.accountManager
}
