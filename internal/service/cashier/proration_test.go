package cashier

import (
	"testing"
	"time"

	"cashier-service/internal/domain/subscription"
	xerrors "cashier-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var march1 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func plan(id string, price int64, currency string) *subscription.Plan {
	return &subscription.Plan{
		ID:           id,
		Name:         id,
		Price:        decimal.NewFromInt(price),
		Currency:     currency,
		BillingCycle: subscription.CycleMonthly,
		Status:       subscription.PlanActive,
	}
}

func activeSub() *subscription.Subscription {
	s := subscription.New("sub_1", "cus_1", "basic", "stripe", march1, march1.AddDate(0, 1, 0))
	s.Status = subscription.StatusActive
	return s
}

func TestCalcChangePlanAtPeriodStartCreditsFullPrice(t *testing.T) {
	p, err := CalcChangePlan(activeSub(), plan("basic", 10, "USD"), plan("pro", 25, "USD"), march1)

	require.NoError(t, err)
	assert.Equal(t, "15.00", p.Amount.StringFixed(2))
	assert.Equal(t, march1.AddDate(0, 1, 0), p.EndsAt)
}

func TestCalcChangePlanMidPeriod(t *testing.T) {
	now := march1.AddDate(0, 0, 15)

	p, err := CalcChangePlan(activeSub(), plan("basic", 10, "USD"), plan("pro", 25, "USD"), now)

	require.NoError(t, err)
	// 16 of 31 days unused: 25 - 10*16/31
	assert.Equal(t, "19.84", p.Amount.StringFixed(2))
	assert.Equal(t, now.AddDate(0, 1, 0), p.EndsAt)
}

func TestCalcChangePlanDowngradeIsFree(t *testing.T) {
	p, err := CalcChangePlan(activeSub(), plan("pro", 25, "USD"), plan("basic", 10, "USD"), march1)

	require.NoError(t, err)
	assert.True(t, p.Amount.IsZero())
}

func TestCalcChangePlanRejects(t *testing.T) {
	tests := []struct {
		name string
		sub  func() *subscription.Subscription
		next *subscription.Plan
		now  time.Time
	}{
		{"same plan", activeSub, plan("basic", 10, "USD"), march1},
		{"currency mismatch", activeSub, plan("pro", 25, "EUR"), march1},
		{"period over", activeSub, plan("pro", 25, "USD"), march1.AddDate(0, 2, 0)},
		{"not active", func() *subscription.Subscription {
			s := activeSub()
			s.Status = subscription.StatusPending
			return s
		}, plan("pro", 25, "USD"), march1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CalcChangePlan(tt.sub(), plan("basic", 10, "USD"), tt.next, tt.now)

			kind, ok := xerrors.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, xerrors.KindValidationFailed, kind)
		})
	}
}
