// internal/domain/customer/entity.go
package customer

import "time"

// PaymentMethod tells which gateway bills the customer and how the gateway
// knows them.
type PaymentMethod struct {
	Method string            `json:"method"`
	UserID string            `json:"user_id,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// CardInfo is the display projection of a card on file.
type CardInfo struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

type Customer struct {
	ID            string         `json:"id" db:"id"`
	Email         string         `json:"email" db:"email"`
	Name          string         `json:"name" db:"name"`
	PaymentMethod *PaymentMethod `json:"payment_method,omitempty" db:"payment_method"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

func (c *Customer) BillableID() string    { return c.ID }
func (c *Customer) BillableEmail() string { return c.Email }

// RemoteID returns the id the given gateway stored for this customer.
func (c *Customer) RemoteID(gateway string) string {
	if c.PaymentMethod == nil || c.PaymentMethod.Method != gateway {
		return ""
	}
	return c.PaymentMethod.UserID
}

type UpdateCardRequest struct {
	Gateway string `json:"gateway" binding:"required"`
	Token   string `json:"token" binding:"required"`
}
