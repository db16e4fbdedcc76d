package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mystartupai/creditledger/internal/ratelimit"
	log "github.com/sirupsen/logrus"
)

// RateChecker consumes one request against a scope.
type RateChecker interface {
	Check(ctx context.Context, userID uint64, clientIP string, scope ratelimit.Scope) (ratelimit.Result, ratelimit.Decision, error)
}

// RateLimit rejects requests over the limit configured for scope. Limiter
// errors fail open.
func RateLimit(checker RateChecker, scope ratelimit.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil {
			c.Next()
			return
		}
		userID, _ := UserIDFrom(c)
		result, decision, errCheck := checker.Check(c.Request.Context(), userID, c.ClientIP(), scope)
		if errCheck != nil {
			log.WithError(errCheck).Warn("rate limit check failed")
			c.Next()
			return
		}
		if decision.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		}
		if !result.Allowed {
			if !result.Reset.IsZero() {
				c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "message": "too many requests"})
			return
		}
		c.Next()
	}
}
