package handler

import (
	"crypto/subtle"
	"log"
	"time"

	"github.com/amifistore/cekot-sub000/internal/config"
	"github.com/amifistore/cekot-sub000/pkg/response"

	"github.com/gin-gonic/gin"
)

const operatorHeader = "X-Operator-ID"

func operatorID(c *gin.Context) string {
	return c.GetHeader(operatorHeader)
}

// OperatorAuth admits only IDs on the configured operator list.
func OperatorAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := operatorID(c)
		if id == "" || !cfg.IsOperator(id) {
			response.Forbidden(c, "operator access required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// WebhookAuth checks the shared secret when one is configured. Source-IP
// filtering is left to the deployment in front of this listener.
func WebhookAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Webhook.Secret == "" {
			c.Next()
			return
		}
		token := c.GetHeader("X-Webhook-Token")
		if token == "" {
			token = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Webhook.Secret)) != 1 {
			response.Forbidden(c, "invalid webhook token")
			c.Abort()
			return
		}
		c.Next()
	}
}

// LoggerMiddleware logs every request with latency and caller.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s",
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware keeps a handler panic from taking the process down.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %v", err)
				c.AbortWithStatusJSON(500, gin.H{
					"code":    500,
					"message": "internal server error",
				})
			}
		}()
		c.Next()
	}
}
