package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/liveshop/pkg/response"
)

const (
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// RequireRole allows only callers whose token carries one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		role, ok := c.Get(ContextUserRole)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if _, ok := allowed[role.(string)]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
