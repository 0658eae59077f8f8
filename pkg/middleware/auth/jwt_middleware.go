package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/linkflow-go/cashier/pkg/auth/jwt"
)

const (
	subjectIDKey = "subjectId"
	emailKey     = "email"
	rolesKey     = "roles"
)

// TokenValidator checks a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// JWTMiddleware validates JWT tokens and extracts the billing subject
type JWTMiddleware struct {
	validator TokenValidator
	skipPaths []string
}

// NewJWTMiddleware creates a new JWT middleware
func NewJWTMiddleware(validator TokenValidator, skipPaths ...string) *JWTMiddleware {
	if len(skipPaths) == 0 {
		skipPaths = []string{"/health", "/ready", "/metrics", "/webhooks"}
	}
	return &JWTMiddleware{
		validator: validator,
		skipPaths: skipPaths,
	}
}

// Handle returns the middleware handler function
func (m *JWTMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skipPath := range m.skipPaths {
			if strings.HasPrefix(path, skipPath) {
				c.Next()
				return
			}
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		const bearerScheme = "Bearer "
		if !strings.HasPrefix(authHeader, bearerScheme) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := m.validator.ValidateToken(authHeader[len(bearerScheme):])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(subjectIDKey, claims.SubjectID)
		c.Set(emailKey, claims.Email)
		c.Set(rolesKey, claims.Roles)

		c.Next()
	}
}

// RequireRoles creates a middleware that checks if user has any of the required roles
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRoles, ok := GetRoles(c)
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "no roles found in context"})
			c.Abort()
			return
		}

		for _, required := range roles {
			for _, role := range userRoles {
				if role == required {
					c.Next()
					return
				}
			}
		}

		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
		c.Abort()
	}
}

// GetSubjectID extracts the billing subject ID from context
func GetSubjectID(c *gin.Context) (string, bool) {
	id := c.GetString(subjectIDKey)
	return id, id != ""
}

// GetRoles extracts user roles from context
func GetRoles(c *gin.Context) ([]string, bool) {
	roles, exists := c.Get(rolesKey)
	if !exists {
		return nil, false
	}

	list, ok := roles.([]string)
	return list, ok
}
