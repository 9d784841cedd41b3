package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimitMiddleware lets at most limit requests run handlers at the
// same time; the rest wait for a slot until they give up.
func ConcurrencyLimitMiddleware(limit int64) gin.HandlerFunc {
	if limit <= 0 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)

	return func(c *gin.Context) {
		if err := sem.Acquire(c.Request.Context(), 1); err != nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		defer sem.Release(1)
		c.Next()
	}
}
