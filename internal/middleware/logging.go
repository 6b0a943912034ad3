package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streambro/backend/internal/logging"
)

// RequestLogger logs request details through the structured logger
func RequestLogger(log *logging.Logger) gin.HandlerFunc {
	log = log.WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Infof("%s %s | status=%d duration=%s ip=%s",
			c.Request.Method,
			path,
			c.Writer.Status(),
			time.Since(start),
			c.ClientIP(),
		)
	}
}
