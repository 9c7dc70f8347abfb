package cashier

import (
	"time"

	"github.com/shopspring/decimal"
)

// Billable is the paying customer.
type Billable interface {
	BillableID() string
	BillableEmail() string
}

// BillablePlan is what a customer subscribes to.
type BillablePlan interface {
	BillableID() string
	BillableName() string
	BillableAmount() decimal.Decimal
	BillableCurrency() string
	BillableFormattedPrice() string
	PeriodEndsAt(from time.Time) time.Time
}
