package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LoggerMiddleware 记录每个请求
func LoggerMiddleware(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()

		principal := c.GetString(ContextUsername)
		if principal == "" {
			principal, _, _ = c.Request.BasicAuth()
		}

		entry := logger.WithFields(logrus.Fields{
			"status":    statusCode,
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"latency":   latency,
			"ip":        c.ClientIP(),
			"principal": principal,
		})
		if statusCode >= http.StatusInternalServerError {
			entry.Error("request processed")
			return
		}
		entry.Info("request processed")
	}
}

// RecoveryMiddleware 恢复 panic 并返回 500
func RecoveryMiddleware(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.WithFields(logrus.Fields{
					"error": err,
					"path":  c.Request.URL.Path,
				}).Error("panic recovered")
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}
