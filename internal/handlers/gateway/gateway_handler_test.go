package gateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"cashier-service/internal/domain/customer"
	"cashier-service/internal/domain/invoice"
	"cashier-service/internal/domain/subscription"
	"cashier-service/internal/domain/transaction"
	"cashier-service/internal/gateway"
	"cashier-service/internal/gateway/coinpayments"
	handler "cashier-service/internal/handlers/gateway"
	xerrors "cashier-service/internal/pkg/errors"
	"cashier-service/internal/pkg/lock"
	"cashier-service/internal/repository/memory"
	"cashier-service/internal/service/cashier"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProvider struct{}

func (fakeProvider) Charge(_ context.Context, inv *invoice.Invoice, _ *customer.Customer) (gateway.Receipt, error) {
	return gateway.Receipt{ChargeResult: cashier.ChargeResult{
		Reference:   "ref-" + inv.ID,
		CheckoutURL: "https://pay.example/" + inv.ID,
	}}, nil
}

func (fakeProvider) FetchStatus(context.Context, *transaction.Transaction) (transaction.RemoteStatus, error) {
	return transaction.RemoteStatus{Text: "paid", Outcome: transaction.OutcomeSuccess}, nil
}

// hostedGateway accepts every callback the handler knows about.
type hostedGateway struct {
	*gateway.Base
	gateway.NoCard
	ipnBodies []string
	returned  []string
}

func (*hostedGateway) Validate(context.Context) error { return nil }

func (g *hostedGateway) HandleIPN(_ context.Context, signature string, body []byte) error {
	if signature != "good" {
		return fmt.Errorf("%w: bad signature", coinpayments.ErrInvalidIPN)
	}
	g.ipnBodies = append(g.ipnBodies, string(body))
	return nil
}

func (g *hostedGateway) HandleWebhook(_ context.Context, _ []byte, signature string) error {
	if signature == "" {
		return fmt.Errorf("%w: missing signature", xerrors.ErrUnauthorized)
	}
	return nil
}

func (g *hostedGateway) HandleReturn(ctx context.Context, invoiceID string) (*invoice.Invoice, error) {
	g.returned = append(g.returned, invoiceID)
	return g.Engine().Invoice(ctx, invoiceID)
}

func (g *hostedGateway) ClientToken(context.Context) (string, error) { return "client-token", nil }

// cardGateway keeps a card on file and has no callbacks.
type cardGateway struct {
	*gateway.Base
}

func (cardGateway) Validate(context.Context) error { return nil }
func (cardGateway) BillableUserHasCard(context.Context, cashier.Billable) (bool, error) {
	return true, nil
}
func (cardGateway) GetCardInformation(context.Context, cashier.Billable) (*customer.CardInfo, error) {
	return nil, nil
}
func (cardGateway) UpdateCard(context.Context, cashier.Billable, string) error { return nil }

type harness struct {
	router *gin.Engine
	engine *cashier.Engine
	hosted *hostedGateway
	store  *memory.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	store.PutPlan(&subscription.Plan{ID: "basic", Name: "Basic", Price: decimal.NewFromInt(10), Currency: "USD",
		BillingCycle: subscription.CycleMonthly, Status: subscription.PlanActive})
	store.PutCustomer(&customer.Customer{ID: "cus_1", Email: "jane@example.com"})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := cashier.NewEngine(store, lock.NewMemory(), zap.NewNop(), cashier.WithClock(func() time.Time { return now }))
	baseURL := "https://billing.example.com"
	hosted := &hostedGateway{Base: gateway.NewBase("hosted", gateway.Capabilities{}, engine, fakeProvider{}, zap.NewNop(), baseURL)}
	card := cardGateway{Base: gateway.NewBase("card", gateway.Capabilities{AutoBilling: true, CardOnFile: true},
		engine, fakeProvider{}, zap.NewNop(), baseURL)}
	registry := gateway.NewRegistry(hosted, card)

	h := handler.NewGatewayHandler(engine, registry, zap.NewNop(), baseURL)
	r := gin.New()
	g := r.Group("/api/v1/gateways")
	g.GET("", h.ListGateways)
	g.POST("/:name/ipn", h.IPN)
	g.POST("/:name/webhook", h.Webhook)
	g.GET("/:name/return", h.Return)
	g.GET("/:name/client-token", h.ClientToken)
	g.GET("/:name/checkout/:invoice_id", h.Checkout)
	g.GET("/:name/connect", h.Connect)

	return &harness{router: r, engine: engine, hosted: hosted, store: store}
}

func (h *harness) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) openInvoice(t *testing.T) *invoice.Invoice {
	t.Helper()
	ctx := context.Background()
	cust, err := h.store.GetCustomer(ctx, "cus_1")
	require.NoError(t, err)
	plan, err := h.engine.Plan(ctx, "basic")
	require.NoError(t, err)
	sub, err := h.hosted.Create(ctx, cust, plan)
	require.NoError(t, err)
	inv, err := h.hosted.Checkout(ctx, sub)
	require.NoError(t, err)
	return inv
}

func TestListGateways(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/gateways", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []handler.GatewayInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, "hosted", body.Data[0].Name)
	assert.Equal(t, "card", body.Data[1].Name)
	assert.True(t, body.Data[1].Capabilities.CardOnFile)
}

func TestIPN(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/v1/gateways/hosted/ipn", "status=100", map[string]string{"HMAC": "good"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "IPN OK", w.Body.String())
	assert.Equal(t, []string{"status=100"}, h.hosted.ipnBodies)

	w = h.do(http.MethodPost, "/api/v1/gateways/hosted/ipn", "status=100", map[string]string{"HMAC": "forged"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, h.hosted.ipnBodies, 1)

	w = h.do(http.MethodPost, "/api/v1/gateways/card/ipn", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodPost, "/api/v1/gateways/missing/ipn", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhook(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/v1/gateways/hosted/webhook", "{}", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/api/v1/gateways/hosted/webhook", "{}", map[string]string{"Stripe-Signature": "t=1,v1=abc"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckoutRedirect(t *testing.T) {
	h := newHarness(t)
	inv := h.openInvoice(t)

	w := h.do(http.MethodGet, "/api/v1/gateways/hosted/checkout/"+inv.ID, "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://pay.example/"+inv.ID, w.Header().Get("Location"))

	w = h.do(http.MethodGet, "/api/v1/gateways/card/checkout/"+inv.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodGet, "/api/v1/gateways/hosted/checkout/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReturnSettlesAndCheckoutSendsBack(t *testing.T) {
	h := newHarness(t)
	inv := h.openInvoice(t)

	w := h.do(http.MethodGet, "/api/v1/gateways/hosted/return?invoice_id="+inv.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{inv.ID}, h.hosted.returned)

	w = h.do(http.MethodGet, "/api/v1/gateways/hosted/return", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, h.hosted.Sync(context.Background(), &subscription.Subscription{ID: inv.SubscriptionID}))

	w = h.do(http.MethodGet, "/api/v1/gateways/hosted/checkout/"+inv.ID+"?return_url=/account", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/account", w.Header().Get("Location"))

	w = h.do(http.MethodGet, "/api/v1/gateways/hosted/checkout/"+inv.ID+"?return_url=https://evil.example/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, "foreign return urls are ignored")
}

func TestConnect(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/gateways/hosted/connect?return_url=https://billing.example.com/done", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://billing.example.com/done", w.Header().Get("Location"))

	w = h.do(http.MethodGet, "/api/v1/gateways/card/connect?return_url=/done", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	raw, _ := io.ReadAll(w.Body)
	assert.Contains(t, string(raw), "https://billing.example.com/api/v1/customers/me/card")
}

func TestConnectRefusesOffsiteReturnURLs(t *testing.T) {
	h := newHarness(t)

	for _, query := range []string{
		"return_url=" + url.QueryEscape(`/\evil.example/x`),
		"return_url=/%5Cevil.example",
		"return_url=/%5C%5Cevil.example",
		"return_url=%2F%2Fevil.example",
		"return_url=" + url.QueryEscape("/\t/evil.example"),
		"return_url=" + url.QueryEscape("https://billing.example.com.evil.example/x"),
		"return_url=" + url.QueryEscape("https://billing.example.com@evil.example/"),
		"return_url=" + url.QueryEscape("javascript:alert(1)"),
	} {
		w := h.do(http.MethodGet, "/api/v1/gateways/hosted/connect?"+query, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, query)
		assert.Empty(t, w.Header().Get("Location"), query)
	}

	w := h.do(http.MethodGet, "/api/v1/gateways/hosted/connect?return_url="+url.QueryEscape("/account?tab=billing"), "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/account?tab=billing", w.Header().Get("Location"))
}

func TestClientToken(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/gateways/hosted/client-token", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "client-token")

	w = h.do(http.MethodGet, "/api/v1/gateways/card/client-token", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
