package admission

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader carries the pre-shared credential for mutating requests.
const APIKeyHeader = "X-API-KEY"

// Middleware adapts the pipeline to gin: it builds the request descriptor,
// asks for a decision and translates rejections into JSON responses with the
// retry-after and rate-limit headers the original API exposed.
func Middleware(pipeline *Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		r := c.Request
		decision := pipeline.Admit(RequestInfo{
			Method:     r.Method,
			Path:       r.URL.Path,
			ClientKey:  ClientKey(r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"), r.RemoteAddr),
			UserAgent:  r.Header.Get("User-Agent"),
			Referer:    r.Header.Get("Referer"),
			Credential: r.Header.Get(APIKeyHeader),
		})

		if decision.Allowed {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.RemainingTokens))
			c.Next()
			return
		}

		switch decision.Reason {
		case ReasonUnauthorized:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or invalid API key",
			})
		case ReasonBlocked, ReasonSuspicious:
			c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "IP temporarily blocked due to suspicious activity",
			})
		case ReasonRateLimited:
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
		default:
			c.AbortWithStatus(decision.StatusCode)
		}
	}
}
