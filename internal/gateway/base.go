package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cashier-service/internal/domain/customer"
	"cashier-service/internal/domain/invoice"
	"cashier-service/internal/domain/subscription"
	"cashier-service/internal/domain/transaction"
	"cashier-service/internal/service/cashier"

	"go.uber.org/zap"
)

// SubmitGrace is how long a pending transaction may go without a provider
// reference before sync fails it.
const SubmitGrace = time.Hour

// Base implements the provider independent part of PaymentGateway on top of
// the cashier engine. Concrete gateways embed it and add Validate and the
// card methods.
type Base struct {
	name     string
	caps     Capabilities
	engine   *cashier.Engine
	provider Provider
	logger   *zap.Logger
	baseURL  string
}

func NewBase(name string, caps Capabilities, engine *cashier.Engine, provider Provider, logger *zap.Logger, baseURL string) *Base {
	return &Base{
		name:     name,
		caps:     caps,
		engine:   engine,
		provider: provider,
		logger:   logger,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

func (b *Base) Name() string { return b.name }

func (b *Base) Capabilities() Capabilities { return b.caps }

func (b *Base) Engine() *cashier.Engine { return b.engine }

// Create keeps the customer's remote id when they already pay through this gateway.
func (b *Base) Create(ctx context.Context, cust cashier.Billable, plan cashier.BillablePlan) (*subscription.Subscription, error) {
	pm := customer.PaymentMethod{Method: b.name}
	stored, err := b.engine.Customers().GetCustomer(ctx, cust.BillableID())
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}
	if stored.PaymentMethod != nil && stored.PaymentMethod.Method == b.name {
		pm = *stored.PaymentMethod
	}
	return b.engine.Create(ctx, cust, plan, b.name, pm)
}

func (b *Base) Checkout(ctx context.Context, sub *subscription.Subscription) (*invoice.Invoice, error) {
	inv, err := b.engine.OpenCheckout(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	return b.chargeAndReload(ctx, inv)
}

func (b *Base) Renew(ctx context.Context, sub *subscription.Subscription) (*invoice.Invoice, error) {
	inv, err := b.engine.OpenRenewal(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	return b.chargeAndReload(ctx, inv)
}

func (b *Base) ChangePlan(ctx context.Context, sub *subscription.Subscription, plan cashier.BillablePlan) (*invoice.Invoice, error) {
	inv, err := b.engine.OpenPlanChange(ctx, sub.ID, plan.BillableID())
	if err != nil {
		return nil, err
	}
	return b.chargeAndReload(ctx, inv)
}

func (b *Base) chargeAndReload(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, error) {
	if inv.IsPaid() {
		return inv, nil
	}
	if err := b.Charge(ctx, inv); err != nil {
		return nil, err
	}
	return b.engine.Invoice(ctx, inv.ID)
}

// Charge submits inv to the provider and records what came back. A provider
// error fails the invoice through the engine; only storage errors are returned.
// An invoice that is settled or already carries a provider reference is not
// submitted again.
func (b *Base) Charge(ctx context.Context, inv *invoice.Invoice) error {
	current, err := b.engine.Invoice(ctx, inv.ID)
	if err != nil {
		return fmt.Errorf("failed to load invoice: %w", err)
	}
	if current.IsPaid() || current.IsFailed() {
		return nil
	}
	if current.Metadata.TxnID != "" {
		b.logger.Info("invoice already submitted",
			zap.String("invoice_id", current.ID),
			zap.String("reference", current.Metadata.TxnID),
		)
		return nil
	}
	cust, err := b.engine.Customers().GetCustomer(ctx, current.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to load customer: %w", err)
	}

	receipt, err := b.provider.Charge(ctx, current, cust)
	if err != nil {
		b.logger.Warn("provider rejected charge",
			zap.String("invoice_id", current.ID),
			zap.String("subscription_id", current.SubscriptionID),
			zap.Error(err),
		)
		return b.engine.PayFailed(ctx, current.ID, err.Error())
	}

	if err := b.engine.RecordCharge(ctx, current.ID, receipt.ChargeResult); err != nil {
		return err
	}
	if receipt.Settled != nil {
		return b.engine.Settle(ctx, current.SubscriptionID, current.TransactionID, *receipt.Settled)
	}
	return nil
}

func (b *Base) Sync(ctx context.Context, sub *subscription.Subscription) error {
	return b.engine.Sync(ctx, sub.ID, b.fetchStatus)
}

// fetchStatus asks the provider about txn. A transaction that never got a
// provider reference within SubmitGrace is failed instead, since there is
// nothing to ask about.
func (b *Base) fetchStatus(ctx context.Context, txn *transaction.Transaction) (transaction.RemoteStatus, error) {
	if txn.Reference == "" && b.engine.Now().Sub(txn.CreatedAt) >= SubmitGrace {
		b.logger.Warn("failing transaction that was never submitted",
			zap.String("subscription_id", txn.SubscriptionID),
			zap.String("transaction_id", txn.ID),
		)
		return transaction.RemoteStatus{
			Code:    -1,
			Text:    "payment was never submitted to " + b.name,
			Outcome: transaction.OutcomeFailed,
		}, nil
	}
	return b.provider.FetchStatus(ctx, txn)
}

func (b *Base) CancelNow(ctx context.Context, sub *subscription.Subscription) error {
	return b.engine.CancelNow(ctx, sub.ID)
}

func (b *Base) HasPending(ctx context.Context, sub *subscription.Subscription) (bool, error) {
	return b.engine.HasPending(ctx, sub.ID)
}

func (b *Base) GetTransaction(ctx context.Context, sub *subscription.Subscription) (*transaction.Transaction, error) {
	return b.engine.LastTransaction(ctx, sub.ID)
}

// GetInitTransaction returns the SUBSCRIBE transaction, or nil before checkout.
func (b *Base) GetInitTransaction(ctx context.Context, sub *subscription.Subscription) (*transaction.Transaction, error) {
	return b.engine.InitTransaction(ctx, sub.ID)
}

func (b *Base) GetTransactions(ctx context.Context, sub *subscription.Subscription) ([]*transaction.Transaction, error) {
	return b.engine.Transactions(ctx, sub.ID)
}

// GetCheckoutURL points at this service's checkout redirect for inv.
func (b *Base) GetCheckoutURL(inv *invoice.Invoice, returnURL string) string {
	return b.link("/gateways/"+b.name+"/checkout/"+url.PathEscape(inv.ID), returnURL)
}

func (b *Base) GetConnectURL(returnURL string) string {
	return b.link("/gateways/"+b.name+"/connect", returnURL)
}

func (b *Base) link(path, returnURL string) string {
	if returnURL == "" {
		returnURL = "/"
	}
	return b.baseURL + "/api/v1" + path + "?" + url.Values{"return_url": {returnURL}}.Encode()
}
