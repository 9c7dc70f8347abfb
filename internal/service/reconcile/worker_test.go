package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cashier-service/internal/domain/customer"
	"cashier-service/internal/domain/invoice"
	"cashier-service/internal/domain/subscription"
	"cashier-service/internal/domain/transaction"
	"cashier-service/internal/gateway"
	"cashier-service/internal/pkg/lock"
	"cashier-service/internal/repository/memory"
	"cashier-service/internal/service/cashier"
	"cashier-service/internal/service/reconcile"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProvider struct {
	settle   transaction.Outcome // empty leaves the charge pending
	fetch    transaction.Outcome
	fetchErr error
	charges  int
}

func (p *fakeProvider) Charge(_ context.Context, inv *invoice.Invoice, _ *customer.Customer) (gateway.Receipt, error) {
	p.charges++
	r := gateway.Receipt{ChargeResult: cashier.ChargeResult{Reference: "ref-" + inv.ID}}
	if p.settle != "" {
		r.Settled = &transaction.RemoteStatus{Text: "card " + string(p.settle), Outcome: p.settle}
	}
	return r, nil
}

func (p *fakeProvider) FetchStatus(context.Context, *transaction.Transaction) (transaction.RemoteStatus, error) {
	if p.fetchErr != nil {
		return transaction.RemoteStatus{}, p.fetchErr
	}
	return transaction.RemoteStatus{Text: string(p.fetch), Outcome: p.fetch}, nil
}

// redirectGateway has no card on file and never bills on its own.
type redirectGateway struct {
	*gateway.Base
	gateway.NoCard
}

func (redirectGateway) Validate(context.Context) error { return nil }

// cardGateway bills the card on file automatically.
type cardGateway struct {
	*gateway.Base
}

func (cardGateway) Validate(context.Context) error { return nil }

func (cardGateway) BillableUserHasCard(context.Context, cashier.Billable) (bool, error) {
	return true, nil
}

func (cardGateway) GetCardInformation(context.Context, cashier.Billable) (*customer.CardInfo, error) {
	return &customer.CardInfo{Brand: "visa", Last4: "4242"}, nil
}

func (cardGateway) UpdateCard(context.Context, cashier.Billable, string) error { return nil }

type fixture struct {
	ctx      context.Context
	now      time.Time
	store    *memory.Store
	plan     *subscription.Plan
	redirect *fakeProvider
	card     *fakeProvider
	registry *gateway.Registry
	worker   *reconcile.Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		store:    memory.NewStore(),
		redirect: &fakeProvider{},
		card:     &fakeProvider{settle: transaction.OutcomeSuccess},
		plan: &subscription.Plan{ID: "basic", Name: "Basic", Price: decimal.NewFromInt(10), Currency: "USD",
			BillingCycle: subscription.CycleMonthly, Status: subscription.PlanActive},
	}
	f.store.PutPlan(f.plan)
	clock := func() time.Time { return f.now }
	engine := cashier.NewEngine(f.store, lock.NewMemory(), zap.NewNop(), cashier.WithClock(clock))

	f.registry = gateway.NewRegistry(
		redirectGateway{Base: gateway.NewBase("redirect", gateway.Capabilities{}, engine, f.redirect, zap.NewNop(), "")},
		cardGateway{Base: gateway.NewBase("card", gateway.Capabilities{AutoBilling: true, CardOnFile: true}, engine, f.card, zap.NewNop(), "")},
	)
	f.worker = reconcile.NewWorker(engine, f.registry, zap.NewNop(), time.Minute, 72*time.Hour, reconcile.WithClock(clock))
	return f
}

func (f *fixture) checkout(t *testing.T, customerID, gatewayName string) *subscription.Subscription {
	t.Helper()
	cust := &customer.Customer{ID: customerID, Email: customerID + "@example.com"}
	f.store.PutCustomer(cust)
	gw, err := f.registry.Get(gatewayName)
	require.NoError(t, err)
	sub, err := gw.Create(f.ctx, cust, f.plan)
	require.NoError(t, err)
	_, err = gw.Checkout(f.ctx, sub)
	require.NoError(t, err)
	return f.reload(t, sub.ID)
}

func (f *fixture) reload(t *testing.T, id string) *subscription.Subscription {
	t.Helper()
	sub, err := f.store.GetSubscription(f.ctx, id)
	require.NoError(t, err)
	return sub
}

func TestRunOnceSyncsPendingSubscriptions(t *testing.T) {
	f := newFixture(t)
	a := f.checkout(t, "cus_a", "redirect")
	b := f.checkout(t, "cus_b", "redirect")
	require.True(t, a.IsPending())
	require.True(t, b.IsPending())
	f.redirect.fetch = transaction.OutcomeSuccess

	report, err := f.worker.RunOnce(f.ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, report.Synced)
	assert.True(t, f.reload(t, a.ID).IsActive())
	assert.True(t, f.reload(t, b.ID).IsActive())

	report, err = f.worker.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Synced)
}

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	f := newFixture(t)
	a := f.checkout(t, "cus_a", "redirect")
	f.redirect.fetchErr = errors.New("connection reset")
	f.card.settle = ""
	f.card.fetch = transaction.OutcomeSuccess
	b := f.checkout(t, "cus_b", "card")

	report, err := f.worker.RunOnce(f.ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 1, report.SyncFailed)
	assert.True(t, f.reload(t, a.ID).IsPending())
	assert.True(t, f.reload(t, b.ID).IsActive())
}

func TestSweepFlagsThenEndsRedirectSubscriptions(t *testing.T) {
	f := newFixture(t)
	f.redirect.fetch = transaction.OutcomeSuccess
	sub := f.checkout(t, "cus_a", "redirect")
	_, err := f.worker.RunOnce(f.ctx)
	require.NoError(t, err)
	require.True(t, f.reload(t, sub.ID).IsActive())

	f.now = time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)
	report, err := f.worker.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.True(t, f.reload(t, sub.ID).IsExpiring())

	f.now = time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	_, err = f.worker.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.True(t, f.reload(t, sub.ID).IsEnded())
}

func TestSweepRenewsCardSubscriptions(t *testing.T) {
	f := newFixture(t)
	sub := f.checkout(t, "cus_a", "card")
	require.True(t, sub.IsActive())
	require.Equal(t, 1, f.card.charges)

	f.now = time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)
	report, err := f.worker.RunOnce(f.ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Renewed)
	assert.Equal(t, 2, f.card.charges)
	got := f.reload(t, sub.ID)
	assert.True(t, got.IsActive())
	assert.Equal(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), got.EndsAt)
}

func TestFailedRenewalIsNotRetried(t *testing.T) {
	f := newFixture(t)
	sub := f.checkout(t, "cus_a", "card")
	f.card.settle = transaction.OutcomeFailed

	f.now = time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)
	_, err := f.worker.RunOnce(f.ctx)
	require.NoError(t, err)
	got := f.reload(t, sub.ID)
	require.NotNil(t, got.Error)
	assert.Equal(t, subscription.ErrorTypeRenewFailed, got.Error.Type)

	report, err := f.worker.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Renewed)
	assert.Equal(t, 2, f.card.charges)
	assert.True(t, f.reload(t, sub.ID).IsActive())
}

func TestRunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan struct{})

	go func() {
		f.worker.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
