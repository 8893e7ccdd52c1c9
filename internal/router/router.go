package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(cfg *config.Config, handlers *Handlers, log zerolog.Logger) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(response.RequestLogger(log))

	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Session Group (Student Token) ──────────────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.RequireStudentToken(cfg.JWTSecret))
	{
		api.POST("/sessions", handlers.Session.OpenSession)
		api.GET("/sessions/:exam_id", handlers.Session.GetSession)
		api.POST("/sessions/:exam_id/resume", handlers.Session.Resume)
		api.POST("/sessions/:exam_id/start-fresh", handlers.Session.StartFresh)
		api.POST("/sessions/:exam_id/actions", handlers.Session.Action)
		api.POST("/sessions/:exam_id/submit", handlers.Session.Submit)
		api.POST("/sessions/:exam_id/leave", handlers.Session.Leave)
		api.DELETE("/sessions/:exam_id", handlers.Session.CloseSession)
		api.GET("/sessions/:exam_id/events", handlers.WS.SessionEvents)

		api.GET("/snapshots", handlers.Session.ListSnapshots)
	}

	// ─── 2. WebSocket Group (Student Token, header or ?token=) ─────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentToken(cfg.JWTSecret))
	{
		ws.GET("/sessions/:exam_id/stream", handlers.WS.SessionStream)
	}

	return router
}
