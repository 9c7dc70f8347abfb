// Package cashier drives subscriptions through their lifecycle and keeps the
// transaction ledger in step with what payment providers report.
package cashier

import (
	"context"
	"fmt"
	"time"

	"cashier-service/internal/domain/auditlog"
	"cashier-service/internal/domain/invoice"
	"cashier-service/internal/domain/subscription"
	"cashier-service/internal/domain/transaction"
	xerrors "cashier-service/internal/pkg/errors"
	"cashier-service/internal/pkg/ids"
	"cashier-service/internal/pkg/lock"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LinkBuilder returns the URL a customer follows to retry action on sub.
type LinkBuilder func(sub *subscription.Subscription, action string) string

// Fetcher asks the provider for the current status of txn.
type Fetcher func(ctx context.Context, txn *transaction.Transaction) (transaction.RemoteStatus, error)

// ChargeResult is what a provider returned for a newly created payment.
type ChargeResult struct {
	Reference   string
	CheckoutURL string
	StatusURL   string
	QRCodeURL   string
	Extra       map[string]string
}

type Engine struct {
	store  Store
	locker lock.Locker
	logger *zap.Logger
	now    func() time.Time
	links  LinkBuilder
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLinks(links LinkBuilder) Option {
	return func(e *Engine) { e.links = links }
}

func NewEngine(store Store, locker lock.Locker, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		locker: locker,
		logger: logger,
		now:    time.Now,
		links: func(sub *subscription.Subscription, action string) string {
			return "/api/v1/subscriptions/" + sub.ID + "/" + action
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now reads the engine clock.
func (e *Engine) Now() time.Time { return e.now() }

// withSubscription runs fn while holding the subscription's lock, passing a
// copy loaded after the lock was taken.
func (e *Engine) withSubscription(ctx context.Context, id string, fn func(sub *subscription.Subscription) error) error {
	unlock, err := e.locker.Lock(ctx, lock.SubscriptionKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	sub, err := e.store.GetSubscription(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load subscription %s: %w", id, err)
	}
	return fn(sub)
}

func (e *Engine) pending(ctx context.Context, subID string) (*transaction.Transaction, error) {
	txns, err := e.store.ListTransactions(ctx, subID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return transaction.Pending(txns), nil
}

func (e *Engine) newTransaction(sub *subscription.Subscription, typ transaction.Type, amount decimal.Decimal, currency, planID string, endsAt time.Time, title string, now time.Time) *transaction.Transaction {
	txn := transaction.New(ids.NewAt(now), sub.ID, typ, amount, currency, planID, endsAt, now)
	txn.Title = title
	return txn
}

func (e *Engine) newInvoice(sub *subscription.Subscription, txn *transaction.Transaction, now time.Time) *invoice.Invoice {
	inv := invoice.New(ids.NewAt(now), sub.CustomerID, sub.ID, txn.ID, txn.Amount, txn.Currency, txn.Title, now)
	txn.InvoiceID = inv.ID
	return inv
}

// appendLogs writes entries in order. Audit failures are logged, never returned.
func (e *Engine) appendLogs(ctx context.Context, subID string, entries ...*auditlog.Entry) {
	if len(entries) == 0 {
		return
	}
	now := e.now()
	for _, entry := range entries {
		entry.ID = ids.NewAt(now)
		entry.SubscriptionID = subID
		entry.CreatedAt = now
	}
	if err := e.store.AppendLogs(ctx, subID, entries); err != nil {
		e.logger.Error("failed to write audit log",
			zap.String("subscription_id", subID),
			zap.Any("types", auditlog.Types(entries)),
			zap.Error(err),
		)
	}
}

func planPayload(name, price string) map[string]string {
	return map[string]string{"plan": name, "price": price}
}

func (e *Engine) planLogs(plan BillablePlan, price string, types ...auditlog.Type) []*auditlog.Entry {
	if price == "" {
		price = plan.BillableFormattedPrice()
	}
	entries := make([]*auditlog.Entry, 0, len(types))
	for _, typ := range types {
		entries = append(entries, auditlog.New(typ, planPayload(plan.BillableName(), price)))
	}
	return entries
}

func errorLog(message string) *auditlog.Entry {
	return auditlog.New(auditlog.TypeError, map[string]string{"message": message})
}

// Queries

func (e *Engine) Subscription(ctx context.Context, id string) (*subscription.Subscription, error) {
	return e.store.GetSubscription(ctx, id)
}

func (e *Engine) CurrentSubscription(ctx context.Context, customerID string) (*subscription.Subscription, error) {
	return e.store.GetCurrentSubscription(ctx, customerID)
}

func (e *Engine) Plan(ctx context.Context, id string) (*subscription.Plan, error) {
	return e.store.GetPlan(ctx, id)
}

func (e *Engine) Invoice(ctx context.Context, id string) (*invoice.Invoice, error) {
	return e.store.GetInvoice(ctx, id)
}

func (e *Engine) Customers() CustomerStore { return e.store }

// HasPending reports whether the subscription has a transaction in flight.
func (e *Engine) HasPending(ctx context.Context, subID string) (bool, error) {
	txn, err := e.pending(ctx, subID)
	if err != nil {
		return false, err
	}
	return txn != nil, nil
}

func (e *Engine) Transactions(ctx context.Context, subID string) ([]*transaction.Transaction, error) {
	return e.store.ListTransactions(ctx, subID)
}

// LastTransaction returns nil, nil when the ledger is empty.
func (e *Engine) LastTransaction(ctx context.Context, subID string) (*transaction.Transaction, error) {
	txns, err := e.store.ListTransactions(ctx, subID)
	if err != nil {
		return nil, err
	}
	return transaction.Last(txns), nil
}

// PendingTransaction returns the transaction in flight, or nil, nil.
func (e *Engine) PendingTransaction(ctx context.Context, subID string) (*transaction.Transaction, error) {
	return e.pending(ctx, subID)
}

// TransactionByReference finds a transaction by the id its provider gave it.
func (e *Engine) TransactionByReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	if reference == "" {
		return nil, fmt.Errorf("empty provider reference: %w", xerrors.ErrInvalidInput)
	}
	return e.store.FindTransactionByReference(ctx, reference)
}

// InitTransaction returns nil, nil when the subscription was never checked out.
func (e *Engine) InitTransaction(ctx context.Context, subID string) (*transaction.Transaction, error) {
	txns, err := e.store.ListTransactions(ctx, subID)
	if err != nil {
		return nil, err
	}
	return transaction.Init(txns), nil
}

func (e *Engine) Logs(ctx context.Context, subID string) ([]*auditlog.Entry, error) {
	return e.store.ListLogs(ctx, subID)
}

// ListSyncable returns subscriptions with reconciliation work outstanding.
func (e *Engine) ListSyncable(ctx context.Context, limit int) ([]*subscription.Subscription, error) {
	return e.store.ListSyncable(ctx, limit)
}

// ListEndingBefore returns active or expiring subscriptions whose period ends before t.
func (e *Engine) ListEndingBefore(ctx context.Context, t time.Time, limit int) ([]*subscription.Subscription, error) {
	return e.store.ListEndingBefore(ctx, t, limit)
}

func invalidState(sub *subscription.Subscription, action string) error {
	return fmt.Errorf("%s %s subscription: %w", action, sub.Status, xerrors.ErrInvalidTransition)
}
