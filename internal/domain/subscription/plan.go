package subscription

import (
	"time"

	"github.com/shopspring/decimal"
)

type BillingCycle string

const (
	CycleDaily     BillingCycle = "daily"
	CycleWeekly    BillingCycle = "weekly"
	CycleMonthly   BillingCycle = "monthly"
	CycleQuarterly BillingCycle = "quarterly"
	CycleYearly    BillingCycle = "yearly"
)

type PlanStatus string

const (
	PlanActive   PlanStatus = "active"
	PlanInactive PlanStatus = "inactive"
)

type Plan struct {
	ID           string          `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Currency     string          `json:"currency" db:"currency"`
	BillingCycle BillingCycle    `json:"billing_cycle" db:"billing_cycle"`
	Status       PlanStatus      `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

func (p *Plan) BillableID() string              { return p.ID }
func (p *Plan) BillableName() string            { return p.Name }
func (p *Plan) BillableAmount() decimal.Decimal { return p.Price }
func (p *Plan) BillableCurrency() string        { return p.Currency }
func (p *Plan) BillableFormattedPrice() string  { return FormatPrice(p.Price, p.Currency) }
func (p *Plan) IsFree() bool                    { return p.Price.IsZero() }
func (p *Plan) IsActive() bool                  { return p.Status == PlanActive }

// PeriodEndsAt returns the end of one billing cycle starting at from.
func (p *Plan) PeriodEndsAt(from time.Time) time.Time {
	switch p.BillingCycle {
	case CycleDaily:
		return from.AddDate(0, 0, 1)
	case CycleWeekly:
		return from.AddDate(0, 0, 7)
	case CycleMonthly:
		return from.AddDate(0, 1, 0)
	case CycleQuarterly:
		return from.AddDate(0, 3, 0)
	case CycleYearly:
		return from.AddDate(1, 0, 0)
	default:
		return from.AddDate(0, 1, 0)
	}
}

// FormatPrice renders an amount as "12.50 USD".
func FormatPrice(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(2) + " " + currency
}
