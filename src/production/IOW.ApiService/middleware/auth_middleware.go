package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jwt "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.ApiService/implementation/jwt"
)

// Key types for request context
type contextKey string

const (
	SubjectContextKey contextKey = "subject"
	RequestIDKey      contextKey = "request_id"
)

// TokenValidator checks a bearer token issued by the identity provider
type TokenValidator interface {
	ValidateAccessToken(tokenString string) (*jwt.AccessClaims, error)
}

// AuthMiddleware guards mutating routes
type AuthMiddleware struct {
	validator TokenValidator
	config    Config
}

// Config holds middleware configuration
type Config struct {
	AccessTokenHeader string
}

// DefaultConfig returns a default middleware configuration
func DefaultConfig() Config {
	return Config{AccessTokenHeader: "Authorization"}
}

func NewAuthMiddleware(validator TokenValidator, config Config) *AuthMiddleware {
	return &AuthMiddleware{validator: validator, config: config}
}

// extractToken only accepts the "Bearer <token>" form
func extractToken(r *http.Request, headerName string) string {
	header := r.Header.Get(headerName)
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}

// Authenticate middleware verifies the access token
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		accessToken := extractToken(c.Request, m.config.AccessTokenHeader)
		if accessToken == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}

		claims, err := m.validator.ValidateAccessToken(accessToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid access token"})
			c.Abort()
			return
		}

		c.Set(string(SubjectContextKey), claims.Subject)
		c.Next()
	}
}

// GetSubjectFromGinContext returns the authenticated subject, or "" on public routes
func GetSubjectFromGinContext(c *gin.Context) string {
	return c.GetString(string(SubjectContextKey))
}
