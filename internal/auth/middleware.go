package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// FacultyAuth enforces bearer JWT tokens with the faculty role.
func FacultyAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.Role != "faculty" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "faculty role required"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

// AdminSecret gates destructive endpoints behind a secret distinct from
// faculty login.
func AdminSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" || c.GetHeader("X-Admin-Secret") != secret {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin secret required"})
			return
		}
		c.Next()
	}
}
