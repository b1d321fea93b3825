package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/liveshop/internal/auth"
	"github.com/aura-webinar/liveshop/pkg/response"
)

const (
	// ContextUserID is the key for the caller's uuid.UUID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for the caller's role.
	ContextUserRole = "user_role"
	// ContextUserName is the key for the caller's display name.
	ContextUserName = "user_name"
)

// JWT validates the bearer token and puts the caller's identity in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextUserName, claims.Name)
		c.Next()
	}
}
