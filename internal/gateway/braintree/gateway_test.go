package braintree

import (
	"context"
	"errors"
	"testing"
	"time"

	"cashier-service/internal/domain/customer"
	"cashier-service/internal/domain/subscription"
	"cashier-service/internal/domain/transaction"
	xerrors "cashier-service/internal/pkg/errors"
	"cashier-service/internal/pkg/lock"
	"cashier-service/internal/repository/memory"
	"cashier-service/internal/service/cashier"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClient struct {
	customers map[string]*RemoteCustomer
	saleErr   error
	status    string
	sales     []decimal.Decimal
	found     string
}

func newFakeClient() *fakeClient {
	return &fakeClient{customers: map[string]*RemoteCustomer{}, status: "submitted_for_settlement"}
}

func (c *fakeClient) FindCustomer(_ context.Context, id string) (*RemoteCustomer, error) {
	rc, ok := c.customers[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return rc, nil
}

func (c *fakeClient) CreateCustomer(_ context.Context, email, nonce string) (*RemoteCustomer, error) {
	rc := &RemoteCustomer{ID: "bt_cus_1", DefaultCard: &Card{Token: "tok_" + nonce, Brand: "Visa", Last4: "1111", ExpMonth: 12, ExpYear: 2030}}
	c.customers[rc.ID] = rc
	return rc, nil
}

func (c *fakeClient) VaultNonce(_ context.Context, customerID, nonce string) (*RemoteCustomer, error) {
	rc := c.customers[customerID]
	rc.DefaultCard = &Card{Token: "tok_" + nonce, Brand: "Mastercard", Last4: "4444", ExpMonth: 1, ExpYear: 2031}
	return rc, nil
}

func (c *fakeClient) Sale(_ context.Context, token string, amount decimal.Decimal) (*Sale, error) {
	if c.saleErr != nil {
		return nil, c.saleErr
	}
	c.sales = append(c.sales, amount)
	return &Sale{ID: "bt_txn_1", Status: c.status, ProcessorResponseText: "Do Not Honor"}, nil
}

func (c *fakeClient) FindTransaction(_ context.Context, id string) (*Sale, error) {
	return &Sale{ID: id, Status: c.found}, nil
}

func (c *fakeClient) ClientToken(context.Context) (string, error) { return "client-token", nil }

type harness struct {
	store  *memory.Store
	client *fakeClient
	gw     *Gateway
	cust   *customer.Customer
	plan   *subscription.Plan
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  memory.NewStore(),
		client: newFakeClient(),
		cust:   &customer.Customer{ID: "cus_1", Email: "jane@example.com"},
		plan: &subscription.Plan{ID: "basic", Name: "Basic", Price: decimal.RequireFromString("9.99"), Currency: "USD",
			BillingCycle: subscription.CycleMonthly, Status: subscription.PlanActive},
	}
	h.store.PutCustomer(h.cust)
	h.store.PutPlan(h.plan)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := cashier.NewEngine(h.store, lock.NewMemory(), zap.NewNop(), cashier.WithClock(func() time.Time { return now }))
	h.gw = New(Config{MerchantID: "m", PublicKey: "pub", PrivateKey: "priv"}, h.client, engine, zap.NewNop(), "")
	return h
}

func (h *harness) subscribeWithCard(t *testing.T) *subscription.Subscription {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.gw.UpdateCard(ctx, h.cust, "nonce-1"))
	sub, err := h.gw.Create(ctx, h.cust, h.plan)
	require.NoError(t, err)
	return sub
}

func TestUpdateCardVaultsAndStoresToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	has, err := h.gw.BillableUserHasCard(ctx, h.cust)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, h.gw.UpdateCard(ctx, h.cust, "nonce-1"))

	has, err = h.gw.BillableUserHasCard(ctx, h.cust)
	require.NoError(t, err)
	assert.True(t, has)
	info, err := h.gw.GetCardInformation(ctx, h.cust)
	require.NoError(t, err)
	assert.Equal(t, "1111", info.Last4)

	require.NoError(t, h.gw.UpdateCard(ctx, h.cust, "nonce-2"))
	info, err = h.gw.GetCardInformation(ctx, h.cust)
	require.NoError(t, err)
	assert.Equal(t, "4444", info.Last4)

	stored, err := h.store.GetCustomer(ctx, h.cust.ID)
	require.NoError(t, err)
	assert.Equal(t, "bt_cus_1", stored.RemoteID(Name))
	assert.Equal(t, "tok_nonce-2", stored.PaymentMethod.Extra[tokenKey])
}

func TestCheckoutSettlesImmediately(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribeWithCard(t)

	inv, err := h.gw.Checkout(context.Background(), sub)

	require.NoError(t, err)
	assert.True(t, inv.IsPaid())
	require.Len(t, h.client.sales, 1)
	assert.Equal(t, "9.99", h.client.sales[0].StringFixed(2))
	got, err := h.store.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive())
}

func TestDeclinedSaleFailsTransaction(t *testing.T) {
	h := newHarness(t)
	h.client.status = "processor_declined"
	sub := h.subscribeWithCard(t)

	inv, err := h.gw.Checkout(context.Background(), sub)

	require.NoError(t, err)
	assert.True(t, inv.IsFailed())
	txn, err := h.gw.GetTransaction(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusFailed, txn.Status)
	assert.Equal(t, "Do Not Honor", txn.Error)
	got, err := h.store.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, got.IsCancelled())
}

func TestSaleErrorFailsTransaction(t *testing.T) {
	h := newHarness(t)
	h.client.saleErr = errors.New("gateway rejected: cvv")
	sub := h.subscribeWithCard(t)

	inv, err := h.gw.Checkout(context.Background(), sub)

	require.NoError(t, err)
	assert.True(t, inv.IsFailed())
	assert.Contains(t, inv.FailureMessage, "cvv")
}

func TestChargeWithoutCardFails(t *testing.T) {
	h := newHarness(t)
	sub, err := h.gw.Create(context.Background(), h.cust, h.plan)
	require.NoError(t, err)

	inv, err := h.gw.Checkout(context.Background(), sub)

	require.NoError(t, err)
	assert.True(t, inv.IsFailed())
	assert.Empty(t, h.client.sales)
}

func TestAuthorizingSaleSettlesOnSync(t *testing.T) {
	h := newHarness(t)
	h.client.status = "authorizing"
	sub := h.subscribeWithCard(t)
	_, err := h.gw.Checkout(context.Background(), sub)
	require.NoError(t, err)

	pending, err := h.gw.HasPending(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, pending)

	h.client.found = "settled"
	require.NoError(t, h.gw.Sync(context.Background(), sub))

	got, err := h.store.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive())
}

func TestRemoteStatus(t *testing.T) {
	for status, want := range statusOutcome {
		rs, err := remoteStatus(&Sale{Status: status})
		require.NoError(t, err)
		assert.Equal(t, want, rs.Outcome, status)
	}

	_, err := remoteStatus(&Sale{Status: "something_new"})
	kind, _ := xerrors.KindOf(err)
	assert.Equal(t, xerrors.KindUnmappedStatus, kind)
}
