package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-soundcast/core/internal/tenantauth"
	"github.com/aura-soundcast/core/pkg/response"
)

// ContextTenantID is the key for the authenticated tenant's id in gin context.
const ContextTenantID = "tenant_id"

// JWT returns a middleware that validates a tenant bearer token and sets the
// tenant id in context.
func JWT(jwtService *tenantauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextTenantID, claims.TenantID)
		c.Next()
	}
}
