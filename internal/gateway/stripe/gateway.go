// Package stripe charges the customer's default card off session with
// Stripe PaymentIntents.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"

	"cashier-service/internal/domain/customer"
	"cashier-service/internal/domain/invoice"
	"cashier-service/internal/domain/transaction"
	"cashier-service/internal/gateway"
	xerrors "cashier-service/internal/pkg/errors"
	"cashier-service/internal/service/cashier"

	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const Name = "stripe"

const paymentMethodKey = "payment_method"

type Config struct {
	SecretKey     string
	WebhookSecret string
}

var intentOutcome = map[string]transaction.Outcome{
	"succeeded":               transaction.OutcomeSuccess,
	"processing":              transaction.OutcomePending,
	"requires_confirmation":   transaction.OutcomePending,
	"requires_capture":        transaction.OutcomePending,
	"requires_payment_method": transaction.OutcomeFailed,
	"requires_action":         transaction.OutcomeFailed,
	"canceled":                transaction.OutcomeFailed,
}

func remoteStatus(in *Intent) (transaction.RemoteStatus, error) {
	outcome, ok := intentOutcome[in.Status]
	if !ok {
		return transaction.RemoteStatus{}, xerrors.UnmappedStatus(0)
	}
	text := in.Status
	if outcome == transaction.OutcomeFailed && in.LastError != "" {
		text = in.LastError
	}
	return transaction.RemoteStatus{Text: text, Outcome: outcome}, nil
}

type Gateway struct {
	*gateway.Base

	cfg    Config
	client Client
	logger *zap.Logger
}

var _ gateway.PaymentGateway = (*Gateway)(nil)

func New(cfg Config, client Client, engine *cashier.Engine, logger *zap.Logger, baseURL string) *Gateway {
	if client == nil {
		client = NewClient(cfg.SecretKey)
	}
	logger = logger.With(zap.String("gateway", Name))
	caps := gateway.Capabilities{AutoBilling: true, Recurring: true, CardOnFile: true, SynchronousSettlement: true}
	return &Gateway{
		Base:   gateway.NewBase(Name, caps, engine, &provider{client: client}, logger, baseURL),
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

func (g *Gateway) Validate(ctx context.Context) error {
	if g.cfg.SecretKey == "" {
		return xerrors.ValidationFailed("stripe secret key is required")
	}
	if err := g.client.Ping(ctx); err != nil {
		return fmt.Errorf("stripe configuration rejected: %w", err)
	}
	return nil
}

func (g *Gateway) storedCustomer(ctx context.Context, cust cashier.Billable) (*customer.Customer, error) {
	return g.Engine().Customers().GetCustomer(ctx, cust.BillableID())
}

func (g *Gateway) BillableUserHasCard(ctx context.Context, cust cashier.Billable) (bool, error) {
	stored, err := g.storedCustomer(ctx, cust)
	if err != nil {
		return false, err
	}
	return stored.RemoteID(Name) != "" && stored.PaymentMethod.Extra[paymentMethodKey] != "", nil
}

func (g *Gateway) GetCardInformation(ctx context.Context, cust cashier.Billable) (*customer.CardInfo, error) {
	stored, err := g.storedCustomer(ctx, cust)
	if err != nil {
		return nil, err
	}
	if stored.RemoteID(Name) == "" || stored.PaymentMethod.Extra[paymentMethodKey] == "" {
		return nil, nil
	}
	card, err := g.client.Card(ctx, stored.PaymentMethod.Extra[paymentMethodKey])
	if err != nil || card == nil {
		return nil, err
	}
	return &customer.CardInfo{Brand: card.Brand, Last4: card.Last4, ExpMonth: card.ExpMonth, ExpYear: card.ExpYear}, nil
}

// UpdateCard attaches paymentMethodID and makes it the default for off
// session charges.
func (g *Gateway) UpdateCard(ctx context.Context, cust cashier.Billable, paymentMethodID string) error {
	stored, err := g.storedCustomer(ctx, cust)
	if err != nil {
		return err
	}
	remoteID := stored.RemoteID(Name)
	if remoteID == "" {
		if remoteID, err = g.client.CreateCustomer(ctx, cust.BillableID(), cust.BillableEmail()); err != nil {
			return err
		}
	}
	if err := g.client.AttachDefault(ctx, remoteID, paymentMethodID); err != nil {
		return err
	}

	pm := customer.PaymentMethod{
		Method: Name,
		UserID: remoteID,
		Extra:  map[string]string{paymentMethodKey: paymentMethodID},
	}
	if err := g.Engine().Customers().UpdatePaymentMethod(ctx, cust.BillableID(), pm); err != nil {
		return fmt.Errorf("failed to save payment method: %w", err)
	}
	g.logger.Info("card updated", zap.String("customer_id", cust.BillableID()), zap.String("remote_id", remoteID))
	return nil
}

// HandleWebhook verifies a Stripe event and re-syncs the subscription the
// payment intent belongs to. Intents created without our invoice id in their
// metadata are matched on the intent id.
func (g *Gateway) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, g.cfg.WebhookSecret)
	if err != nil {
		return fmt.Errorf("%w: stripe webhook signature verification failed: %v", xerrors.ErrUnauthorized, err)
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
	default:
		return nil
	}

	var pi stripego.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("parse payment intent event: %w", err)
	}

	subID, err := g.intentSubscription(ctx, &pi)
	if err != nil {
		return err
	}
	sub, err := g.Engine().Subscription(ctx, subID)
	if err != nil {
		return err
	}
	g.logger.Info("webhook received",
		zap.String("type", string(event.Type)),
		zap.String("payment_intent", pi.ID),
		zap.String("subscription_id", sub.ID),
	)
	return g.Sync(ctx, sub)
}

func (g *Gateway) intentSubscription(ctx context.Context, pi *stripego.PaymentIntent) (string, error) {
	if invoiceID := pi.Metadata["invoice_id"]; invoiceID != "" {
		inv, err := g.Engine().Invoice(ctx, invoiceID)
		if err != nil {
			return "", fmt.Errorf("webhook invoice %s: %w", invoiceID, err)
		}
		return inv.SubscriptionID, nil
	}
	txn, err := g.Engine().TransactionByReference(ctx, pi.ID)
	if err != nil {
		return "", fmt.Errorf("webhook payment intent %s: %w", pi.ID, err)
	}
	return txn.SubscriptionID, nil
}

type provider struct {
	client Client
}

func (p *provider) Charge(ctx context.Context, inv *invoice.Invoice, cust *customer.Customer) (gateway.Receipt, error) {
	remoteID := cust.RemoteID(Name)
	if remoteID == "" || cust.PaymentMethod.Extra[paymentMethodKey] == "" {
		return gateway.Receipt{}, xerrors.ValidationFailed("no card on file")
	}

	intent, err := p.client.ChargeOffSession(ctx, ChargeRequest{
		RemoteCustomerID: remoteID,
		PaymentMethodID:  cust.PaymentMethod.Extra[paymentMethodKey],
		Amount:           inv.Total,
		Currency:         inv.Currency,
		Description:      inv.Description,
		InvoiceID:        inv.ID,
	})
	if err != nil {
		return gateway.Receipt{}, err
	}

	receipt := gateway.Receipt{ChargeResult: cashier.ChargeResult{Reference: intent.ID}}
	if rs, err := remoteStatus(intent); err == nil && rs.Outcome != transaction.OutcomePending {
		receipt.Settled = &rs
	}
	return receipt, nil
}

func (p *provider) FetchStatus(ctx context.Context, txn *transaction.Transaction) (transaction.RemoteStatus, error) {
	if txn.Reference == "" {
		return transaction.RemoteStatus{}, xerrors.ValidationFailed("transaction " + txn.ID + " was never submitted to stripe")
	}
	intent, err := p.client.GetIntent(ctx, txn.Reference)
	if err != nil {
		return transaction.RemoteStatus{}, err
	}
	return remoteStatus(intent)
}
