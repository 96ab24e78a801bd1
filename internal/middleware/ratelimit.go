package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gistly/core/internal/pkg/ratelimit"
)

// Checker is the admission decision surface the middleware needs.
type Checker interface {
	Check(ctx *gin.Context) ratelimit.Result
}

type limiterFunc func(c *gin.Context) ratelimit.Result

func (f limiterFunc) Check(c *gin.Context) ratelimit.Result { return f(c) }

// IPRateLimit keys the limiter by client IP.
func IPRateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return RateLimit(limiterFunc(func(c *gin.Context) ratelimit.Result {
		return limiter.Check(c.Request.Context(), c.ClientIP())
	}))
}

// RateLimit enforces the admission decision and attaches the standard
// X-RateLimit headers to every response, allowed or not.
func RateLimit(checker Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := checker.Check(c)

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", res.ResetAt.UTC().Format(time.RFC3339))

		if !res.Allowed {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"ok":         0,
				"code":       http.StatusTooManyRequests,
				"message":    "rate limit exceeded",
				"retryAfter": retryAfter,
				"resetAt":    res.ResetAt.UTC().Format(time.RFC3339),
				"limit":      res.Limit,
			})
			return
		}

		c.Next()
	}
}
