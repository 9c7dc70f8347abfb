package cashier

import (
	"context"
	"time"

	"cashier-service/internal/domain/auditlog"
	"cashier-service/internal/domain/customer"
	"cashier-service/internal/domain/invoice"
	"cashier-service/internal/domain/subscription"
	"cashier-service/internal/domain/transaction"
)

// Changeset is persisted atomically by Store.Commit.
//
// Subscription and Invoice are upserted. Append is inserted only if the
// subscription has no pending transaction, otherwise Commit fails with
// xerrors.ErrAlreadyPending. Each of Update must still be pending in the
// store; its new status, remote payload and provider fields are written.
type Changeset struct {
	Subscription *subscription.Subscription
	Append       *transaction.Transaction
	Update       []*transaction.Transaction
	Invoice      *invoice.Invoice
}

type SubscriptionReader interface {
	GetSubscription(ctx context.Context, id string) (*subscription.Subscription, error)
	// GetCurrentSubscription returns the customer's most recently created subscription.
	GetCurrentSubscription(ctx context.Context, customerID string) (*subscription.Subscription, error)
	// ListSyncable returns subscriptions that are pending or own a pending transaction.
	ListSyncable(ctx context.Context, limit int) ([]*subscription.Subscription, error)
	// ListEndingBefore returns active or expiring subscriptions whose period ends before t.
	ListEndingBefore(ctx context.Context, t time.Time, limit int) ([]*subscription.Subscription, error)
}

type TransactionReader interface {
	GetTransaction(ctx context.Context, id string) (*transaction.Transaction, error)
	// ListTransactions returns the ledger oldest first.
	ListTransactions(ctx context.Context, subscriptionID string) ([]*transaction.Transaction, error)
	// FindTransactionByReference looks a transaction up by provider reference.
	FindTransactionByReference(ctx context.Context, reference string) (*transaction.Transaction, error)
}

type InvoiceReader interface {
	GetInvoice(ctx context.Context, id string) (*invoice.Invoice, error)
}

type CustomerStore interface {
	GetCustomer(ctx context.Context, id string) (*customer.Customer, error)
	UpdatePaymentMethod(ctx context.Context, customerID string, pm customer.PaymentMethod) error
}

type PlanReader interface {
	GetPlan(ctx context.Context, id string) (*subscription.Plan, error)
}

// AuditLog stores the audit trail. AppendLogs assigns consecutive sequence
// numbers to entries in the order given.
type AuditLog interface {
	AppendLogs(ctx context.Context, subscriptionID string, entries []*auditlog.Entry) error
	ListLogs(ctx context.Context, subscriptionID string) ([]*auditlog.Entry, error)
}

type Store interface {
	SubscriptionReader
	TransactionReader
	InvoiceReader
	CustomerStore
	PlanReader
	AuditLog
	Commit(ctx context.Context, cs *Changeset) error
}
