package app

import (
	"time"

	"cashier-service/internal/domain/subscription"
	"cashier-service/internal/repository/memory"

	"github.com/shopspring/decimal"
)

// SeedPlans loads a small catalogue into the in-memory store. Postgres
// deployments manage plans in the plans table.
func SeedPlans(store *memory.Store, now time.Time) {
	for _, p := range []*subscription.Plan{
		{ID: "free", Name: "Free", Price: decimal.Zero, BillingCycle: subscription.CycleMonthly},
		{ID: "basic", Name: "Basic", Price: decimal.NewFromInt(10), BillingCycle: subscription.CycleMonthly},
		{ID: "pro", Name: "Pro", Price: decimal.NewFromInt(25), BillingCycle: subscription.CycleMonthly},
		{ID: "pro-yearly", Name: "Pro (yearly)", Price: decimal.NewFromInt(250), BillingCycle: subscription.CycleYearly},
	} {
		p.Currency = "USD"
		p.Status = subscription.PlanActive
		p.CreatedAt = now
		p.UpdatedAt = now
		store.PutPlan(p)
	}
}
