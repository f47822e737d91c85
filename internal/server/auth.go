package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BearerAuth returns a Gin middleware validating a static bearer token.
// An empty token disables authentication entirely (loopback-only setups).
func BearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") ||
			subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": "Authentication required",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
