package subscription

import (
	"testing"
	"time"

	xerrors "cashier-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSub() *Subscription {
	return New("sub_1", "cus_1", "plan_basic", "coinpayments", t0, t0.AddDate(0, 1, 0))
}

func TestNewSubscriptionStartsNew(t *testing.T) {
	s := newSub()

	assert.True(t, s.IsNew())
	assert.Equal(t, s.EndsAt, s.CurrentPeriodEndsAt)
	assert.NoError(t, s.Validate())
}

func TestLifecycleTransitions(t *testing.T) {
	tests := []struct {
		name  string
		from  Status
		apply func(*Subscription) error
		want  Status
		ok    bool
	}{
		{"new to pending", StatusNew, (*Subscription).MarkPending, StatusPending, true},
		{"new to active", StatusNew, (*Subscription).SetActive, StatusActive, true},
		{"new to ended", StatusNew, (*Subscription).SetEnded, StatusEnded, true},
		{"pending to active", StatusPending, (*Subscription).SetActive, StatusActive, true},
		{"pending to cancelled", StatusPending, (*Subscription).CancelNow, StatusCancelled, true},
		{"active to expiring", StatusActive, (*Subscription).MarkExpiring, StatusExpiring, true},
		{"expiring to ended", StatusExpiring, (*Subscription).SetEnded, StatusEnded, true},
		{"active cannot be cancelled now", StatusActive, (*Subscription).CancelNow, StatusActive, false},
		{"pending cannot end", StatusPending, (*Subscription).SetEnded, StatusPending, false},
		{"cancelled is terminal", StatusCancelled, (*Subscription).SetActive, StatusCancelled, false},
		{"ended is terminal", StatusEnded, (*Subscription).MarkPending, StatusEnded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSub()
			s.Status = tt.from

			err := tt.apply(s)

			if tt.ok {
				require.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, xerrors.ErrInvalidTransition)
			}
			assert.Equal(t, tt.want, s.Status)
		})
	}
}

func TestApproveRenewalReactivatesExpiring(t *testing.T) {
	s := newSub()
	s.Status = StatusExpiring
	s.Fail(ErrorDescriptor{Status: ErrorStatusWarning, Type: ErrorTypeRenewFailed, Message: "declined"})
	next := s.EndsAt.AddDate(0, 1, 0)

	require.NoError(t, s.ApproveRenewal(next))

	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, next, s.EndsAt)
	assert.Equal(t, next, s.CurrentPeriodEndsAt)
	assert.Nil(t, s.Error)
}

func TestApprovePlanChangeRequiresActive(t *testing.T) {
	s := newSub()

	err := s.ApprovePlanChange("plan_pro", t0.AddDate(0, 2, 0))

	assert.ErrorIs(t, err, xerrors.ErrInvalidTransition)
	assert.Equal(t, "plan_basic", s.PlanID)
}

func TestRestartOnlyForNew(t *testing.T) {
	s := newSub()
	require.NoError(t, s.Restart("plan_pro", "stripe", t0.Add(time.Hour), t0.AddDate(1, 0, 0)))
	assert.Equal(t, "plan_pro", s.PlanID)
	assert.Equal(t, "stripe", s.Gateway)

	s.Status = StatusActive
	assert.ErrorIs(t, s.Restart("plan_basic", "stripe", t0, t0), xerrors.ErrInvalidTransition)
}

func TestValidateRejectsPeriodBeforeStart(t *testing.T) {
	s := newSub()
	s.CurrentPeriodEndsAt = t0.Add(-time.Second)

	assert.ErrorIs(t, s.Validate(), xerrors.ErrInvalidInput)
}

func TestPlanPeriodEndsAt(t *testing.T) {
	cases := map[BillingCycle]time.Time{
		CycleDaily:     t0.AddDate(0, 0, 1),
		CycleWeekly:    t0.AddDate(0, 0, 7),
		CycleMonthly:   t0.AddDate(0, 1, 0),
		CycleQuarterly: t0.AddDate(0, 3, 0),
		CycleYearly:    t0.AddDate(1, 0, 0),
		"":             t0.AddDate(0, 1, 0),
	}
	for cycle, want := range cases {
		p := &Plan{BillingCycle: cycle}
		assert.Equal(t, want, p.PeriodEndsAt(t0), string(cycle))
	}
}

func TestPlanFormattedPrice(t *testing.T) {
	p := &Plan{Price: decimal.RequireFromString("9.5"), Currency: "USD"}

	assert.Equal(t, "9.50 USD", p.BillableFormattedPrice())
	assert.False(t, p.IsFree())
	assert.True(t, (&Plan{Price: decimal.Zero}).IsFree())
}
