// Package api is the REST transport over the core
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bimoi/backend/internal/core"
	"bimoi/backend/internal/metrics"
	"bimoi/backend/pkg/logger"
)

// Config wires the router
type Config struct {
	Core    *core.Core
	Metrics *metrics.Collector
	// Health reports whether the store is reachable; nil means always healthy
	Health     func(ctx context.Context) error
	Production bool
}

// NewRouter builds the gin engine with every route registered
func NewRouter(cfg Config) *gin.Engine {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	log := logger.Get()
	h := &Handler{core: cfg.Core, logger: log}

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(metricsMiddleware(cfg.Metrics))
	router.Use(cors())

	router.GET("/health", func(c *gin.Context) {
		if cfg.Health != nil {
			if err := cfg.Health(c.Request.Context()); err != nil {
				log.Warn("Health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := router.Group("/api")
	{
		api.POST("/identity/resolve", h.resolveIdentity)

		authed := api.Group("")
		authed.Use(h.resolveAccount())
		{
			authed.GET("/profile", h.getProfile)
			authed.PATCH("/profile", h.updateProfile)

			authed.POST("/contacts", h.createContact)
			authed.GET("/contacts", h.listContacts)
			authed.GET("/contacts/search", h.searchContacts)
			authed.GET("/contacts/:id", h.getContact)
			authed.POST("/contacts/:id/context", h.appendContext)

			authed.GET("/flows/:key", h.flowState)
			authed.POST("/flows/:key/card", h.submitCard)
			authed.POST("/flows/:key/context", h.submitContext)
			authed.DELETE("/flows/:key", h.cancelFlow)
		}
	}

	return router
}
