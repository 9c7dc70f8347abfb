// internal/repository/postgres/store.go
package postgres

import (
	"context"
	"time"

	"cashier-service/internal/domain/auditlog"
	"cashier-service/internal/domain/customer"
	"cashier-service/internal/domain/invoice"
	"cashier-service/internal/domain/subscription"
	"cashier-service/internal/domain/transaction"
	"cashier-service/internal/service/cashier"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres backed cashier.Store.
type Store struct {
	db            *DB
	subscriptions *SubscriptionRepository
	transactions  *TransactionRepository
	invoices      *InvoiceRepository
	customers     *CustomerRepository
	plans         *PlanRepository
	logs          *AuditLogRepository
}

var _ cashier.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		db:            NewDB(pool),
		subscriptions: NewSubscriptionRepository(pool),
		transactions:  NewTransactionRepository(pool),
		invoices:      NewInvoiceRepository(pool),
		customers:     NewCustomerRepository(pool),
		plans:         NewPlanRepository(pool),
		logs:          NewAuditLogRepository(pool),
	}
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*subscription.Subscription, error) {
	return s.subscriptions.FindByID(ctx, id)
}

func (s *Store) GetCurrentSubscription(ctx context.Context, customerID string) (*subscription.Subscription, error) {
	return s.subscriptions.FindCurrentByCustomer(ctx, customerID)
}

func (s *Store) ListSyncable(ctx context.Context, limit int) ([]*subscription.Subscription, error) {
	return s.subscriptions.ListSyncable(ctx, limit)
}

func (s *Store) ListEndingBefore(ctx context.Context, t time.Time, limit int) ([]*subscription.Subscription, error) {
	return s.subscriptions.ListEndingBefore(ctx, t, limit)
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*transaction.Transaction, error) {
	return s.transactions.FindByID(ctx, id)
}

func (s *Store) ListTransactions(ctx context.Context, subscriptionID string) ([]*transaction.Transaction, error) {
	return s.transactions.ListBySubscription(ctx, subscriptionID)
}

func (s *Store) FindTransactionByReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	return s.transactions.FindByReference(ctx, reference)
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*invoice.Invoice, error) {
	return s.invoices.FindByID(ctx, id)
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*customer.Customer, error) {
	return s.customers.FindByID(ctx, id)
}

// EnsureCustomer records the customer, keeping any payment method on file.
func (s *Store) EnsureCustomer(ctx context.Context, c *customer.Customer) error {
	return s.customers.Upsert(ctx, c)
}

func (s *Store) UpdatePaymentMethod(ctx context.Context, customerID string, pm customer.PaymentMethod) error {
	return s.customers.UpdatePaymentMethod(ctx, customerID, pm)
}

func (s *Store) GetPlan(ctx context.Context, id string) (*subscription.Plan, error) {
	return s.plans.FindByID(ctx, id)
}

func (s *Store) ListPlans(ctx context.Context) ([]*subscription.Plan, error) {
	return s.plans.ListActive(ctx)
}

func (s *Store) AppendLogs(ctx context.Context, subscriptionID string, entries []*auditlog.Entry) error {
	return s.logs.Append(ctx, subscriptionID, entries)
}

func (s *Store) ListLogs(ctx context.Context, subscriptionID string) ([]*auditlog.Entry, error) {
	return s.logs.ListBySubscription(ctx, subscriptionID)
}

// Commit writes cs in one database transaction. Rows are written parent
// first so foreign keys hold at every statement.
func (s *Store) Commit(ctx context.Context, cs *cashier.Changeset) error {
	if cs.Subscription != nil {
		if err := cs.Subscription.Validate(); err != nil {
			return err
		}
	}

	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if cs.Subscription != nil {
			if err := s.subscriptions.UpsertWithTx(ctx, tx, cs.Subscription); err != nil {
				return err
			}
		}
		for _, t := range cs.Update {
			if err := s.transactions.UpdatePendingWithTx(ctx, tx, t); err != nil {
				return err
			}
		}
		if cs.Append != nil {
			if err := s.transactions.CreateWithTx(ctx, tx, cs.Append); err != nil {
				return err
			}
		}
		if cs.Invoice != nil {
			if err := s.invoices.UpsertWithTx(ctx, tx, cs.Invoice); err != nil {
				return err
			}
		}
		return nil
	})
}
