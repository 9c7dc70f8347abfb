// internal/middleware/auth_middleware.go
package middleware

import (
	"net/http"
	"strings"

	"cashier-service/internal/pkg/jwt"
	"cashier-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	customerIDKey    = "customer_id"
	customerEmailKey = "customer_email"
	customerNameKey  = "customer_name"
)

type AuthMiddleware struct {
	verifier *jwt.Verifier
}

func NewAuthMiddleware(verifier *jwt.Verifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Auth validates the bearer token and puts the customer on the context.
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Unauthorized(c, "missing authorization token")
			return
		}

		claims, err := m.verifier.Verify(token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "invalid or expired token", err)
			return
		}

		c.Set(customerIDKey, claims.CustomerID())
		c.Set(customerEmailKey, claims.Email)
		c.Set(customerNameKey, claims.Name)
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
