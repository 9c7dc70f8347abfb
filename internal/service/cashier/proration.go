package cashier

import (
	"fmt"
	"time"

	"cashier-service/internal/domain/subscription"
	xerrors "cashier-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
)

// Proration is the charge for switching plans now and the end of the new period.
type Proration struct {
	Amount decimal.Decimal `json:"amount"`
	EndsAt time.Time       `json:"ends_at"`
}

// CalcChangePlan credits the unused part of the current period against the
// price of next. The new plan's period starts at now.
func CalcChangePlan(sub *subscription.Subscription, current, next BillablePlan, now time.Time) (Proration, error) {
	if !sub.IsActive() && !sub.IsExpiring() {
		return Proration{}, xerrors.ValidationFailed(fmt.Sprintf("subscription is %s", sub.Status))
	}
	if current.BillableID() == next.BillableID() {
		return Proration{}, xerrors.ValidationFailed("subscription is already on plan " + next.BillableName())
	}
	if current.BillableCurrency() != next.BillableCurrency() {
		return Proration{}, xerrors.ValidationFailed(fmt.Sprintf("cannot change from %s to %s pricing",
			current.BillableCurrency(), next.BillableCurrency()))
	}

	periodEnd := sub.CurrentPeriodEndsAt
	if !periodEnd.After(now) {
		return Proration{}, xerrors.ValidationFailed("current period has already ended")
	}

	// One billing cycle of the current plan, measured from now.
	total := current.PeriodEndsAt(now).Sub(now)
	remaining := periodEnd.Sub(now)
	if remaining > total {
		remaining = total
	}

	credit := decimal.Zero
	if total > 0 {
		fraction := decimal.NewFromInt(int64(remaining)).Div(decimal.NewFromInt(int64(total)))
		credit = current.BillableAmount().Mul(fraction)
	}

	amount := next.BillableAmount().Sub(credit).Round(2)
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	return Proration{Amount: amount, EndsAt: next.PeriodEndsAt(now)}, nil
}
