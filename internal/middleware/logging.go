package middleware

import (
	"strconv"
	"time"

	"github.com/alanmaizon/taskplan/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		duration := time.Since(started)
		metrics.ObserveHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), duration)

		log.Info().
			Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", route).
			Int("status", c.Writer.Status()).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("request")
	}
}
