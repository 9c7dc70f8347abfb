package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"cashier-service/internal/domain/auditlog"
	"cashier-service/internal/domain/customer"
	"cashier-service/internal/domain/invoice"
	"cashier-service/internal/domain/subscription"
	"cashier-service/internal/domain/transaction"
	xerrors "cashier-service/internal/pkg/errors"
	"cashier-service/internal/pkg/ids"
	"cashier-service/internal/service/cashier"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testStore migrates a throwaway schema on the database named by
// DATABASE_URL. Tests are skipped when it is unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	schemaName := "cashier_test_" + strings.ToLower(ids.New())

	admin, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schemaName)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schemaName+" CASCADE")
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schemaName
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `INSERT INTO plans (id, name, price, currency, billing_cycle) VALUES ('plan_basic', 'Basic', 10, 'USD', 'monthly')`)
	require.NoError(t, err)

	s := NewStore(pool)
	require.NoError(t, s.EnsureCustomer(ctx, &customer.Customer{ID: "cus_1", Email: "jane@example.com"}))
	sub := subscription.New("sub_1", "cus_1", "plan_basic", "coinpayments", t0, t0.AddDate(0, 1, 0))
	require.NoError(t, s.Commit(ctx, &cashier.Changeset{Subscription: sub}))
	return s
}

func newPending(id string) *transaction.Transaction {
	return transaction.New(id, "sub_1", transaction.TypeRenew, decimal.NewFromInt(10), "USD", "plan_basic", t0.AddDate(0, 2, 0), t0)
}

func TestPostgresCommitAllowsOnePendingTransaction(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Commit(ctx, &cashier.Changeset{Append: newPending(fmt.Sprintf("txn_%d", i))})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, xerrors.ErrAlreadyPending):
				rejected++
			default:
				t.Errorf("unexpected commit error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 7, rejected)
	txns, err := s.ListTransactions(ctx, "sub_1")
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestPostgresCommitIsAtomic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, &cashier.Changeset{Append: newPending("txn_1")}))

	sub, err := s.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	require.NoError(t, sub.MarkPending())
	err = s.Commit(ctx, &cashier.Changeset{Subscription: sub, Append: newPending("txn_2")})
	assert.ErrorIs(t, err, xerrors.ErrAlreadyPending)

	got, err := s.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.True(t, got.IsNew(), "subscription change rolled back with the rejected append")
}

func TestPostgresUpdateOnlyTouchesPendingTransactions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	txn := newPending("txn_1")
	inv := invoice.New("inv_1", "cus_1", "sub_1", txn.ID, txn.Amount, txn.Currency, "Renew plan Basic", t0)
	txn.InvoiceID = inv.ID
	require.NoError(t, s.Commit(ctx, &cashier.Changeset{Append: txn, Invoice: inv}))

	txn.Reference = "CPTX1"
	require.NoError(t, s.Commit(ctx, &cashier.Changeset{Update: []*transaction.Transaction{txn}}))
	require.NoError(t, txn.SetSuccess(t0))
	require.NoError(t, s.Commit(ctx, &cashier.Changeset{Update: []*transaction.Transaction{txn}}))

	stale := newPending("txn_1")
	require.NoError(t, stale.SetFailed("late", t0))
	err := s.Commit(ctx, &cashier.Changeset{Update: []*transaction.Transaction{stale}})
	assert.ErrorIs(t, err, xerrors.ErrInvalidTransition)

	retyped := newPending("txn_1")
	retyped.Type = transaction.TypeChangePlan
	err = s.Commit(ctx, &cashier.Changeset{Update: []*transaction.Transaction{retyped}})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	err = s.Commit(ctx, &cashier.Changeset{Update: []*transaction.Transaction{newPending("txn_404")}})
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	got, err := s.FindTransactionByReference(ctx, "CPTX1")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusSuccess, got.Status)
	assert.Equal(t, "inv_1", got.InvoiceID)
	_, err = s.FindTransactionByReference(ctx, "CPTX2")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestPostgresAuditLogSequenceUnderConcurrency(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries := []*auditlog.Entry{
				auditlog.New(auditlog.TypePaid, map[string]string{"plan": "Basic"}),
				auditlog.New(auditlog.TypeRenewed, map[string]string{"plan": "Basic"}),
			}
			for _, e := range entries {
				e.ID = ids.New()
				e.SubscriptionID = "sub_1"
				e.CreatedAt = t0
			}
			assert.NoError(t, s.AppendLogs(ctx, "sub_1", entries))
		}()
	}
	wg.Wait()

	logs, err := s.ListLogs(ctx, "sub_1")
	require.NoError(t, err)
	require.Len(t, logs, 10)
	for i, e := range logs {
		assert.Equal(t, int64(i+1), e.Seq)
		// Each batch lands contiguously, PAID before RENEWED.
		if i%2 == 0 {
			assert.Equal(t, auditlog.TypePaid, e.Type)
		} else {
			assert.Equal(t, auditlog.TypeRenewed, e.Type)
		}
	}
}
