// Package paypal takes redirect payments through PayPal Orders v2. The payer
// approves the order on PayPal; the next sync captures it.
package paypal

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"cashier-service/internal/domain/customer"
	"cashier-service/internal/domain/invoice"
	"cashier-service/internal/domain/transaction"
	"cashier-service/internal/gateway"
	xerrors "cashier-service/internal/pkg/errors"
	"cashier-service/internal/service/cashier"

	"go.uber.org/zap"
)

const Name = "paypal"

type Config struct {
	ClientID     string
	ClientSecret string
	APIURL       string
	// CancelURL is where PayPal sends a payer who abandons the order.
	CancelURL string
}

var orderOutcome = map[string]transaction.Outcome{
	"CREATED":               transaction.OutcomePending,
	"SAVED":                 transaction.OutcomePending,
	"APPROVED":              transaction.OutcomePending,
	"PAYER_ACTION_REQUIRED": transaction.OutcomePending,
	"COMPLETED":             transaction.OutcomeSuccess,
	"VOIDED":                transaction.OutcomeFailed,
}

func remoteStatus(o *Order) (transaction.RemoteStatus, error) {
	outcome, ok := orderOutcome[o.Status]
	if !ok {
		return transaction.RemoteStatus{}, xerrors.UnmappedStatus(0)
	}
	rs := transaction.RemoteStatus{Text: o.Status, Outcome: outcome, Raw: o.Raw}
	if outcome != transaction.OutcomeSuccess {
		return rs, nil
	}
	// A completed order can still carry a declined or held capture.
	for _, pu := range o.PurchaseUnits {
		for _, c := range pu.Payments.Captures {
			switch c.Status {
			case "DECLINED", "FAILED":
				rs.Outcome, rs.Text = transaction.OutcomeFailed, "capture "+strings.ToLower(c.Status)
			case "PENDING":
				rs.Outcome, rs.Text = transaction.OutcomePending, "capture pending"
			}
		}
	}
	return rs, nil
}

type Gateway struct {
	*gateway.Base
	gateway.NoCard

	cfg    Config
	client Client
	logger *zap.Logger
}

var _ gateway.PaymentGateway = (*Gateway)(nil)

func New(cfg Config, client Client, engine *cashier.Engine, logger *zap.Logger, baseURL string) *Gateway {
	if client == nil {
		client = NewClient(cfg.APIURL, cfg.ClientID, cfg.ClientSecret)
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if cfg.CancelURL == "" {
		cfg.CancelURL = baseURL + "/"
	}
	logger = logger.With(zap.String("gateway", Name))
	p := &provider{client: client, cfg: cfg, baseURL: baseURL, logger: logger}
	return &Gateway{
		Base:   gateway.NewBase(Name, gateway.Capabilities{}, engine, p, logger, baseURL),
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

func (g *Gateway) Validate(ctx context.Context) error {
	if g.cfg.ClientID == "" || g.cfg.ClientSecret == "" {
		return xerrors.ValidationFailed("paypal client id and secret are required")
	}
	if _, err := g.client.GetAccessToken(ctx); err != nil {
		return fmt.Errorf("paypal configuration rejected: %w", err)
	}
	return nil
}

// HandleReturn runs when the payer comes back from PayPal. It syncs the
// invoice's subscription, which captures an approved order.
func (g *Gateway) HandleReturn(ctx context.Context, invoiceID string) (*invoice.Invoice, error) {
	inv, err := g.Engine().Invoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	sub, err := g.Engine().Subscription(ctx, inv.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if err := g.Sync(ctx, sub); err != nil {
		return nil, err
	}
	return g.Engine().Invoice(ctx, invoiceID)
}

// ReturnURL is where PayPal sends the payer after approving inv.
func ReturnURL(baseURL, invoiceID string) string {
	return strings.TrimRight(baseURL, "/") + "/api/v1/gateways/paypal/return?" + url.Values{"invoice_id": {invoiceID}}.Encode()
}

type provider struct {
	client  Client
	cfg     Config
	baseURL string
	logger  *zap.Logger
}

func (p *provider) Charge(ctx context.Context, inv *invoice.Invoice, _ *customer.Customer) (gateway.Receipt, error) {
	order, err := p.client.CreateOrder(ctx, CreateOrderRequest{
		ReferenceID: inv.SubscriptionID,
		CustomID:    inv.ID,
		Description: inv.Description,
		Currency:    inv.Currency,
		Value:       inv.Total.StringFixed(2),
		ReturnURL:   ReturnURL(p.baseURL, inv.ID),
		CancelURL:   p.cfg.CancelURL,
	})
	if err != nil {
		return gateway.Receipt{}, err
	}
	approve := order.ApproveURL()
	if approve == "" {
		return gateway.Receipt{}, xerrors.RemoteRejected(0, "paypal order "+order.ID+" has no approve link")
	}
	return gateway.Receipt{ChargeResult: cashier.ChargeResult{
		Reference:   order.ID,
		CheckoutURL: approve,
	}}, nil
}

// FetchStatus captures an approved order before mapping its status.
func (p *provider) FetchStatus(ctx context.Context, txn *transaction.Transaction) (transaction.RemoteStatus, error) {
	if txn.Reference == "" {
		return transaction.RemoteStatus{}, xerrors.ValidationFailed("transaction " + txn.ID + " was never submitted to paypal")
	}
	order, err := p.client.GetOrder(ctx, txn.Reference)
	if err != nil {
		return transaction.RemoteStatus{}, err
	}
	if order.Status == "APPROVED" {
		p.logger.Info("capturing approved order", zap.String("order_id", order.ID), zap.String("transaction_id", txn.ID))
		if order, err = p.client.CaptureOrder(ctx, order.ID); err != nil {
			return transaction.RemoteStatus{}, err
		}
	}
	return remoteStatus(order)
}
