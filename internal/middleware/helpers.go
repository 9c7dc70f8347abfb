// internal/middleware/helpers.go
package middleware

import (
	"cashier-service/internal/domain/customer"

	"github.com/gin-gonic/gin"
)

// GetCustomerID gets the authenticated customer id from context
func GetCustomerID(c *gin.Context) (string, bool) {
	id := c.GetString(customerIDKey)
	return id, id != ""
}

// MustGetCustomerID gets the customer id from context or panics
func MustGetCustomerID(c *gin.Context) string {
	id, ok := GetCustomerID(c)
	if !ok {
		panic("customer_id not found in context")
	}
	return id
}

// Customer builds the authenticated customer from the token claims.
func Customer(c *gin.Context) *customer.Customer {
	return &customer.Customer{
		ID:    MustGetCustomerID(c),
		Email: c.GetString(customerEmailKey),
		Name:  c.GetString(customerNameKey),
	}
}
