package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat-server/internal/ratelimit"
)

// RateLimitMiddleware limits requests per authenticated caller. It must run
// after AuthMiddleware.
func RateLimitMiddleware(limiter ratelimit.Limiter, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := callerID(c)
		ok, err := limiter.Allow(c.Request.Context(), userID)
		if err != nil {
			logger.Warn().Err(err).Str("user_id", userID).Msg("rate limit check failed")
		}
		if !ok {
			logger.Warn().
				Str("user_id", userID).
				Str("path", c.Request.URL.Path).
				Msg("rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
