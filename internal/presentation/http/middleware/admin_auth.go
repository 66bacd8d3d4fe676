package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/security"
)

const adminSubjectKey = "adminSubject"

// AdminAuthMiddleware requires a bearer JWT signed with secret and carrying
// the admin role.
func AdminAuthMiddleware(secret string, logger *logging.ChanneledLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip OPTIONS requests (CORS preflight)
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin access is not configured"})
			return
		}

		auth := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(auth, "Bearer ")
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}

		claims, err := security.ValidateJWT(token, secret)
		if err != nil {
			logger.HTTP().Warn("Rejected admin token", "path", c.Request.URL.Path, "error", err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if !security.IsAdmin(claims) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}

		if sub, ok := claims["sub"].(string); ok {
			c.Set(adminSubjectKey, sub)
		}
		c.Next()
	}
}

// AdminSubject returns the subject of the authenticated admin token.
func AdminSubject(c *gin.Context) string {
	return c.GetString(adminSubjectKey)
}
