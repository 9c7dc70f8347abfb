// internal/pkg/jwt/claims.go
package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the customer a bearer token was issued to. Subject is the
// customer id.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// CustomerID returns the subject claim.
func (c *Claims) CustomerID() string {
	return c.Subject
}
