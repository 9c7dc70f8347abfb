// internal/repository/postgres/transaction_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"cashier-service/internal/domain/transaction"
	xerrors "cashier-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const transactionColumns = `
	id, subscription_id, invoice_id, type, status, amount::text, currency,
	title, description, plan_id, ends_at,
	reference, checkout_url, status_url, qrcode_url,
	remote, error, metadata, created_at, updated_at`

type TransactionRepository struct {
	db *pgxpool.Pool
}

func NewTransactionRepository(db *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func scanTransaction(row pgx.Row) (*transaction.Transaction, error) {
	var t transaction.Transaction
	var amount string
	var remoteJSON, metadataJSON []byte

	err := row.Scan(
		&t.ID, &t.SubscriptionID, &t.InvoiceID, &t.Type, &t.Status, &amount, &t.Currency,
		&t.Title, &t.Description, &t.PlanID, &t.EndsAt,
		&t.Reference, &t.CheckoutURL, &t.StatusURL, &t.QRCodeURL,
		&remoteJSON, &t.Error, &metadataJSON, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	if len(remoteJSON) > 0 && string(remoteJSON) != "null" {
		t.Remote = &transaction.RemoteStatus{}
		if err := json.Unmarshal(remoteJSON, t.Remote); err != nil {
			return nil, fmt.Errorf("failed to unmarshal remote status: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &t, nil
}

func marshalTransactionJSON(t *transaction.Transaction) (remoteJSON, metadataJSON []byte, err error) {
	if t.Remote != nil {
		if remoteJSON, err = json.Marshal(t.Remote); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal remote status: %w", err)
		}
	}
	if t.Metadata != nil {
		if metadataJSON, err = json.Marshal(t.Metadata); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	return remoteJSON, metadataJSON, nil
}

// CreateWithTx appends a transaction to the ledger. The partial unique index
// on pending rows turns a second pending transaction into AlreadyPending.
func (r *TransactionRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, t *transaction.Transaction) error {
	query := `
		INSERT INTO subscription_transactions (
			id, subscription_id, invoice_id, type, status, amount, currency,
			title, description, plan_id, ends_at,
			reference, checkout_url, status_url, qrcode_url,
			remote, error, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	remoteJSON, metadataJSON, err := marshalTransactionJSON(t)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, query,
		t.ID, t.SubscriptionID, t.InvoiceID, t.Type, t.Status, t.Amount.String(), t.Currency,
		t.Title, t.Description, t.PlanID, t.EndsAt,
		t.Reference, t.CheckoutURL, t.StatusURL, t.QRCodeURL,
		remoteJSON, t.Error, metadataJSON, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", translateInsert(err, t.SubscriptionID))
	}
	return nil
}

// UpdatePendingWithTx writes the outcome and provider fields of a transaction
// that is still pending. Type and amount never change.
func (r *TransactionRepository) UpdatePendingWithTx(ctx context.Context, tx pgx.Tx, t *transaction.Transaction) error {
	query := `
		UPDATE subscription_transactions
		SET invoice_id = $1, status = $2, description = $3,
		    reference = $4, checkout_url = $5, status_url = $6, qrcode_url = $7,
		    remote = $8, error = $9, metadata = $10, updated_at = $11
		WHERE id = $12 AND status = 'pending' AND type = $13
	`

	remoteJSON, metadataJSON, err := marshalTransactionJSON(t)
	if err != nil {
		return err
	}

	result, err := tx.Exec(ctx, query,
		t.InvoiceID, t.Status, t.Description,
		t.Reference, t.CheckoutURL, t.StatusURL, t.QRCodeURL,
		remoteJSON, t.Error, metadataJSON, t.UpdatedAt,
		t.ID, t.Type,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var status transaction.Status
	var typ transaction.Type
	err = tx.QueryRow(ctx, `SELECT status, type FROM subscription_transactions WHERE id = $1`, t.ID).Scan(&status, &typ)
	switch {
	case isNoRows(err):
		return fmt.Errorf("transaction %s: %w", t.ID, xerrors.ErrNotFound)
	case err != nil:
		return fmt.Errorf("failed to load transaction: %w", err)
	case typ != t.Type:
		return fmt.Errorf("transaction %s type is immutable: %w", t.ID, xerrors.ErrInvalidInput)
	default:
		return fmt.Errorf("transaction %s is %s: %w", t.ID, status, xerrors.ErrInvalidTransition)
	}
}

func (r *TransactionRepository) FindByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM subscription_transactions WHERE id = $1`

	t, err := scanTransaction(r.db.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return t, nil
}

// FindByReference looks a transaction up by the provider's id for it.
func (r *TransactionRepository) FindByReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM subscription_transactions
		WHERE reference = $1
		ORDER BY id DESC
		LIMIT 1
	`

	t, err := scanTransaction(r.db.QueryRow(ctx, query, reference))
	if isNoRows(err) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction by reference: %w", err)
	}
	return t, nil
}

// ListBySubscription returns the ledger oldest first.
func (r *TransactionRepository) ListBySubscription(ctx context.Context, subscriptionID string) ([]*transaction.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM subscription_transactions
		WHERE subscription_id = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txns := []*transaction.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
