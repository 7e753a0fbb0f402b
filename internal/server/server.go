package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emilythestrangee/updown/backend/internal/config"
	"github.com/emilythestrangee/updown/backend/internal/handlers"
	"github.com/emilythestrangee/updown/backend/internal/logging"
)

// HealthCheck reports one dependency. A "status" other than "up" fails
// the health endpoint.
type HealthCheck func(ctx context.Context) map[string]string

type Server struct {
	cfg     config.ServerConfig
	handler *handlers.Handler
	checks  map[string]HealthCheck
}

func New(cfg config.ServerConfig, handler *handlers.Handler, checks map[string]HealthCheck) *Server {
	return &Server{cfg: cfg, handler: handler, checks: checks}
}

// HTTPServer builds the listener for the configured port.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         "0.0.0.0:" + s.cfg.Port,
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// RegisterRoutes sets up all application routes
func (s *Server) RegisterRoutes() *gin.Engine {
	if s.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(s.handler.Identity())
	{
		api.GET("/debates", s.handler.Debate.GetDebates)
		api.POST("/debates", s.handler.Debate.CreateDebate)
		api.GET("/debates/:id", s.handler.Debate.GetDebate)
		api.POST("/debates/:id/hot", s.handler.Debate.RecalcHot)

		api.GET("/debates/:id/comments", s.handler.Comment.GetComments)
		api.GET("/debates/:id/best-comments", s.handler.Comment.GetBestComments)
		api.POST("/comments", s.handler.Comment.CreateComment)
		api.POST("/comments/:commentId/like", s.handler.Comment.ToggleLike)

		api.GET("/keywords", s.handler.Keyword.GetKeywords)
		api.POST("/keywords", s.handler.Keyword.TrackKeyword)
	}

	return r
}

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	report := gin.H{}
	for name, check := range s.checks {
		res := check(c.Request.Context())
		if res["status"] != "up" {
			status = http.StatusServiceUnavailable
		}
		report[name] = res
	}
	c.JSON(status, report)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := logging.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = logging.Warn()
		}
		event.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
