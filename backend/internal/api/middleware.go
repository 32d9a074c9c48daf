package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bimoi/backend/internal/metrics"
)

const (
	headerChannel     = "X-Channel"
	headerExternalID  = "X-External-Id"
	headerDisplayName = "X-Display-Name"

	defaultChannel = "web"
	accountKey     = "account_id"
)

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

func metricsMiddleware(m *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, "+
			strings.Join([]string{headerChannel, headerExternalID, headerDisplayName}, ", "))
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PATCH, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// resolveAccount turns the channel headers into an account id. There is no
// default identity: a request without X-External-Id is rejected.
func (h *Handler) resolveAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		externalID := strings.TrimSpace(c.GetHeader(headerExternalID))
		if externalID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthenticated",
				"message": headerExternalID + " header is required",
			})
			return
		}
		channel := strings.TrimSpace(c.GetHeader(headerChannel))
		if channel == "" {
			channel = defaultChannel
		}

		res, err := h.core.ResolveIdentity(c.Request.Context(), channel, externalID, c.GetHeader(headerDisplayName))
		if err != nil {
			h.respondError(c, "resolve identity", err)
			c.Abort()
			return
		}
		c.Set(accountKey, res.AccountID)
		c.Next()
	}
}

func accountID(c *gin.Context) string {
	return c.GetString(accountKey)
}
