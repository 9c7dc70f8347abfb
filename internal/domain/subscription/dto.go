// internal/domain/subscription/dto.go
package subscription

import (
	"time"

	"github.com/shopspring/decimal"
)

type CreateSubscriptionRequest struct {
	PlanID  string `json:"plan_id" binding:"required"`
	Gateway string `json:"gateway" binding:"required"`
}

type ChangePlanRequest struct {
	PlanID string `json:"plan_id" form:"plan_id" binding:"required"`
}

// ChangePlanPreview is what a plan change would cost if started now.
type ChangePlanPreview struct {
	SubscriptionID string          `json:"subscription_id"`
	PlanID         string          `json:"plan_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	FormattedPrice string          `json:"formatted_price"`
	EndsAt         time.Time       `json:"ends_at"`
}

type SubscriptionView struct {
	*Subscription
	HasPending  bool   `json:"has_pending"`
	PlanName    string `json:"plan_name,omitempty"`
	PlanPrice   string `json:"plan_price,omitempty"`
	CheckoutURL string `json:"checkout_url,omitempty"`
}
