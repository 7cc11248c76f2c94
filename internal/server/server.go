package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"resbac/internal/config"
	"resbac/internal/handler"
	"resbac/internal/middleware"
	"resbac/internal/models"
)

// Deps are what the control API routes reach into.
type Deps struct {
	Config   *config.Config
	Tracker  handler.Tracker
	Trail    handler.TrailReader
	Resident handler.ResidentAPI
	Sessions handler.SessionLoader
	Issuer   interface {
		handler.TokenIssuer
		middleware.TokenParser
	}
}

type Server struct {
	router *gin.Engine
	deps   Deps
	logger *zap.Logger
}

func NewServer(deps Deps, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		router: router,
		deps:   deps,
		logger: logger,
	}

	s.setupRoutes()

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	authHandler := handler.NewAuthHandler(s.deps.Sessions, s.deps.Issuer, s.logger)
	incidentHandler := handler.NewIncidentHandler(s.deps.Tracker, s.deps.Trail, s.logger)
	residentHandler := handler.NewResidentHandler(s.deps.Resident, s.logger)
	settingsHandler := handler.NewSettingsHandler(s.deps.Config)

	// Ping route for health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	s.router.POST("/api/auth/login", authHandler.Login)

	authRequired := s.router.Group("/api")
	authRequired.Use(middleware.AuthMiddleware(s.deps.Issuer, s.logger))
	{
		authRequired.GET("/auth/me", authHandler.Me)
		authRequired.GET("/settings", settingsHandler.GetSettings)

		authRequired.GET("/incident", incidentHandler.GetIncident)
		authRequired.GET("/incident/trail", incidentHandler.GetTrail)
		authRequired.POST("/incident/call", incidentHandler.StartCall)
		authRequired.DELETE("/incident/call", incidentHandler.Hangup)

		responder := authRequired.Group("/incident")
		responder.Use(middleware.RequireRole(models.UserResponder))
		responder.POST("/status", incidentHandler.UpdateIncidentStatus)
		responder.POST("/backup", incidentHandler.RequestBackup)

		authRequired.GET("/announcements", residentHandler.GetAnnouncements)
		authRequired.GET("/reports", residentHandler.GetReports)
		authRequired.POST("/reports", residentHandler.SubmitReport)
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	s.logger.Info("Server stopped")
	return nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
