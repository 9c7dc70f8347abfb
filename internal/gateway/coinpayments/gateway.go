// Package coinpayments bills through CoinPayments hosted crypto checkout.
// Payments settle out of band; the gateway learns the result by polling
// get_tx_info or when an IPN callback prompts a sync.
package coinpayments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"cashier-service/internal/domain/customer"
	"cashier-service/internal/domain/invoice"
	"cashier-service/internal/domain/transaction"
	"cashier-service/internal/gateway"
	xerrors "cashier-service/internal/pkg/errors"
	"cashier-service/internal/service/cashier"

	"go.uber.org/zap"
)

const Name = "coinpayments"

type Config struct {
	MerchantID      string
	PublicKey       string
	PrivateKey      string
	IPNSecret       string
	ReceiveCurrency string
	APIURL          string
}

type Gateway struct {
	*gateway.Base
	gateway.NoCard

	cfg    Config
	client Client
	logger *zap.Logger
}

var _ gateway.PaymentGateway = (*Gateway)(nil)

// New builds the gateway. A nil client means the real HTTP API.
func New(cfg Config, client Client, engine *cashier.Engine, logger *zap.Logger, baseURL string) *Gateway {
	if client == nil {
		client = NewClient(cfg.APIURL, cfg.PublicKey, cfg.PrivateKey)
	}
	logger = logger.With(zap.String("gateway", Name))
	p := &provider{cfg: cfg, client: client}
	return &Gateway{
		Base:   gateway.NewBase(Name, gateway.Capabilities{}, engine, p, logger, baseURL),
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

func (g *Gateway) Validate(ctx context.Context) error {
	if g.cfg.PublicKey == "" || g.cfg.PrivateKey == "" {
		return xerrors.ValidationFailed("coinpayments public and private keys are required")
	}
	if err := g.client.GetBasicInfo(ctx); err != nil {
		return fmt.Errorf("coinpayments configuration rejected: %w", err)
	}
	return nil
}

// CheckPay refreshes the subscription that owns inv and returns the invoice
// as it stands afterwards.
func (g *Gateway) CheckPay(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, error) {
	sub, err := g.Engine().Subscription(ctx, inv.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if err := g.Sync(ctx, sub); err != nil {
		return nil, err
	}
	return g.Engine().Invoice(ctx, inv.ID)
}

type custom struct {
	InvoiceUID string `json:"invoice_uid"`
}

type provider struct {
	cfg    Config
	client Client
}

func (p *provider) Charge(ctx context.Context, inv *invoice.Invoice, cust *customer.Customer) (gateway.Receipt, error) {
	c, err := json.Marshal(custom{InvoiceUID: inv.ID})
	if err != nil {
		return gateway.Receipt{}, err
	}
	receive := p.cfg.ReceiveCurrency
	if receive == "" {
		receive = inv.Currency
	}

	created, err := p.client.CreateTransaction(ctx, CreateTransactionRequest{
		Amount:          inv.Total.StringFixed(2),
		Currency:        inv.Currency,
		ReceiveCurrency: receive,
		ItemName:        "Pay invoice " + inv.ID,
		ItemNumber:      inv.ID,
		BuyerEmail:      cust.Email,
		Custom:          string(c),
	})
	if err != nil {
		return gateway.Receipt{}, err
	}

	return gateway.Receipt{ChargeResult: cashier.ChargeResult{
		Reference:   created.TxnID,
		CheckoutURL: created.CheckoutURL,
		StatusURL:   created.StatusURL,
		QRCodeURL:   created.QRCodeURL,
		Extra: map[string]string{
			"address": created.Address,
			"amount":  created.Amount,
		},
	}}, nil
}

func (p *provider) FetchStatus(ctx context.Context, txn *transaction.Transaction) (transaction.RemoteStatus, error) {
	if txn.Reference == "" {
		return transaction.RemoteStatus{}, xerrors.ValidationFailed("transaction " + txn.ID + " was never submitted to coinpayments")
	}
	info, err := p.client.GetTxInfo(ctx, txn.Reference)
	if err != nil {
		return transaction.RemoteStatus{}, err
	}
	outcome, err := Outcome(info.Status)
	if err != nil {
		return transaction.RemoteStatus{}, err
	}
	text := info.StatusText
	if text == "" {
		text, _ = StatusText(info.Status)
	}
	return transaction.RemoteStatus{
		Code:    info.Status,
		Text:    text,
		Outcome: outcome,
		Raw:     info.Raw,
	}, nil
}

var ErrInvalidIPN = errors.New("invalid coinpayments ipn")

// IPN names what a callback is about. InvoiceID comes from our custom field
// or item number; TxnID is the CoinPayments transaction id.
type IPN struct {
	InvoiceID string
	TxnID     string
}

// ParseIPN authenticates an IPN body signed with the IPN secret.
func (g *Gateway) ParseIPN(signature string, body []byte) (IPN, error) {
	if g.cfg.IPNSecret == "" {
		return IPN{}, fmt.Errorf("%w: ipn secret not configured", ErrInvalidIPN)
	}
	if signature == "" || !hmacEqual(signature, Sign(g.cfg.IPNSecret, body)) {
		return IPN{}, fmt.Errorf("%w: bad signature", ErrInvalidIPN)
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return IPN{}, fmt.Errorf("%w: %v", ErrInvalidIPN, err)
	}
	if form.Get("ipn_mode") != "hmac" {
		return IPN{}, fmt.Errorf("%w: unsupported mode %q", ErrInvalidIPN, form.Get("ipn_mode"))
	}
	if form.Get("merchant") != g.cfg.MerchantID {
		return IPN{}, fmt.Errorf("%w: unknown merchant", ErrInvalidIPN)
	}

	var c custom
	if raw := form.Get("custom"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return IPN{}, fmt.Errorf("%w: custom: %v", ErrInvalidIPN, err)
		}
	}
	ipn := IPN{InvoiceID: c.InvoiceUID, TxnID: form.Get("txn_id")}
	if ipn.InvoiceID == "" {
		ipn.InvoiceID = form.Get("item_number")
	}
	if ipn.InvoiceID == "" && ipn.TxnID == "" {
		return IPN{}, fmt.Errorf("%w: no invoice or transaction reference", ErrInvalidIPN)
	}
	return ipn, nil
}

// HandleIPN verifies the callback and re-syncs the owning subscription. The
// callback payload itself never sets state, so replays and out of order
// deliveries only cause an extra fetch. A callback without our invoice id is
// matched on the CoinPayments transaction id instead.
func (g *Gateway) HandleIPN(ctx context.Context, signature string, body []byte) error {
	ipn, err := g.ParseIPN(signature, body)
	if err != nil {
		g.logger.Warn("rejected ipn", zap.Error(err))
		return err
	}

	if ipn.InvoiceID != "" {
		inv, err := g.Engine().Invoice(ctx, ipn.InvoiceID)
		if err != nil {
			return fmt.Errorf("ipn invoice %s: %w", ipn.InvoiceID, err)
		}
		g.logger.Info("ipn received", zap.String("invoice_id", inv.ID), zap.String("subscription_id", inv.SubscriptionID))
		_, err = g.CheckPay(ctx, inv)
		return err
	}

	txn, err := g.Engine().TransactionByReference(ctx, ipn.TxnID)
	if err != nil {
		return fmt.Errorf("ipn transaction %s: %w", ipn.TxnID, err)
	}
	sub, err := g.Engine().Subscription(ctx, txn.SubscriptionID)
	if err != nil {
		return err
	}
	g.logger.Info("ipn received", zap.String("txn_id", ipn.TxnID), zap.String("subscription_id", sub.ID))
	return g.Sync(ctx, sub)
}
