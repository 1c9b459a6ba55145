package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const permissionsKey = "permissions"

// AuthMiddleware validates bearer tokens. With auth disabled every request
// gets all permissions.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.enabled {
			c.Set(permissionsKey, AllPermissions())
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid authorization header format",
			})
			c.Abort()
			return
		}
		token := parts[1]

		if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
			c.Set(permissionsKey, roleToPermissions(claims.Role))
			c.Set("username", claims.Subject)
			c.Set("role", claims.Role)
			c.Next()
			return
		}

		permissions, err := a.ValidateMachineToken(c.Request.Context(), token, c.ClientIP())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set(permissionsKey, permissions)
		c.Next()
	}
}

// RequirePermission checks if user has required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !HasPermission(c, required) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":    "insufficient permissions",
				"required": string(required),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// HasPermission reports whether the request carries required.
func HasPermission(c *gin.Context, required Permission) bool {
	perms, exists := c.Get(permissionsKey)
	if !exists {
		return false
	}
	permissions, _ := perms.([]Permission)
	for _, p := range permissions {
		if p == required {
			return true
		}
	}
	return false
}
