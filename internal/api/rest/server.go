package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/PinBridge/internal/api/websocket"
	"github.com/KevinKickass/PinBridge/internal/auth"
	"github.com/KevinKickass/PinBridge/internal/config"
	"github.com/KevinKickass/PinBridge/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	cfg         *config.Config
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		cfg:         cfg,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// Start blocks until the runtime is up; leave room for quiescence.
		WriteTimeout: cfg.Bridge.QuiesceTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. Bind errors are
// returned.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Inject AuthService into Gin context
	s.router.Use(func(c *gin.Context) {
		c.Set("authService", s.authService)
		c.Next()
	})

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH (PUBLIC) ====================
		authPublic := v1.Group("/auth")
		{
			authPublic.POST("/login", s.login)
			authPublic.POST("/refresh", s.refreshToken)
		}

		// ==================== AUTH (AUTHENTICATED) ====================
		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.AuthMiddleware())
		{
			authProtected.POST("/logout", s.logout)
			authProtected.GET("/me", s.getCurrentUser)
		}

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		{
			system.GET("/status", auth.RequirePermission(auth.PermViewer), s.getSystemStatus)
			system.POST("/reload", auth.RequirePermission(auth.PermAdmin), s.triggerReload)
			system.POST("/shutdown", auth.RequirePermission(auth.PermAdmin), s.shutdown)
		}

		// ==================== BRIDGE ====================
		br := v1.Group("/bridge")
		br.Use(s.authService.AuthMiddleware())
		{
			br.GET("/status", auth.RequirePermission(auth.PermViewer), s.getBridgeStatus)
			br.GET("/displays", auth.RequirePermission(auth.PermViewer), s.listDisplays)
			br.POST("/start", auth.RequirePermission(auth.PermOperator), s.startBridge)
			br.POST("/stop", auth.RequirePermission(auth.PermOperator), s.stopBridge)
			br.POST("/speed", auth.RequirePermission(auth.PermOperator), s.toggleSpeed)
		}

		// ==================== DEVICES ====================
		dev := v1.Group("")
		dev.Use(s.authService.AuthMiddleware())
		{
			dev.GET("/switches", auth.RequirePermission(auth.PermViewer), s.listSwitches)
			dev.PUT("/switches/:id", auth.RequirePermission(auth.PermOperator), s.setSwitch)
			dev.GET("/coils/:id", auth.RequirePermission(auth.PermViewer), s.getCoil)
			dev.GET("/lamps/:id", auth.RequirePermission(auth.PermViewer), s.getLamp)
			dev.GET("/mechs", auth.RequirePermission(auth.PermViewer), s.listMechs)
		}

		// ==================== MACHINES ====================
		machines := v1.Group("/machines")
		machines.Use(s.authService.AuthMiddleware())
		machines.Use(auth.RequirePermission(auth.PermViewer))
		{
			machines.GET("", s.listMachines)
			machines.GET("/:id", s.getMachine)
		}

		// ==================== SESSION HISTORY ====================
		sessions := v1.Group("/sessions")
		sessions.Use(s.authService.AuthMiddleware())
		sessions.Use(auth.RequirePermission(auth.PermViewer))
		{
			sessions.GET("", s.listSessions)
			sessions.GET("/failures", s.listStartFailures)
		}

		// ==================== WEBSOCKET (PUBLIC - Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"bridge":    s.lm.Bridge().Status().State,
		"timestamp": time.Now().Unix(),
	})
}
