package middlewares

import (
	"fmt"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"github.com/gin-gonic/gin"
)

type RateLimiter struct {
	limit  int64
	window time.Duration
}

func NewRateLimiter(limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware counts requests per client ip in a fixed redis window.
// Without redis every request passes.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "RateLimit:" + c.ClientIP()

	count, err := config.IncrWithWindow(c.Request.Context(), key, rl.window)
	if err != nil {
		config.LogError(config.GetLogger(), "middlewares", "RateLimitMiddleware", "counting request", key, err)
		c.Next()
		return
	}
	if count > rl.limit {
		abortWithError(c, http.StatusTooManyRequests,
			fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())))
		return
	}
	c.Next()
}
