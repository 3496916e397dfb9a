package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const CtxKeyOperatorID = "operator_id"

// RequireOperator guards the merchant-side endpoints (capture/void/refund)
// with a static bearer token. The operator id travels in X-Operator-ID and
// is stamped onto outgoing gateway metadata for self-source detection.
func RequireOperator(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":      "operator API disabled",
				"request_id": GetRequestID(c),
			})
			return
		}

		auth := c.GetHeader("Authorization")
		got, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":      "authentication required",
				"request_id": GetRequestID(c),
			})
			return
		}

		op := c.GetHeader("X-Operator-ID")
		if op == "" {
			op = "operator"
		}
		c.Set(CtxKeyOperatorID, op)

		c.Next()
	}
}

func GetOperatorID(c *gin.Context) string {
	if v, ok := c.Get(CtxKeyOperatorID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
