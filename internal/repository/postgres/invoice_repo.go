// internal/repository/postgres/invoice_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"cashier-service/internal/domain/invoice"
	xerrors "cashier-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type InvoiceRepository struct {
	db *pgxpool.Pool
}

func NewInvoiceRepository(db *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// UpsertWithTx inserts the invoice or overwrites its status and provider metadata.
func (r *InvoiceRepository) UpsertWithTx(ctx context.Context, tx pgx.Tx, inv *invoice.Invoice) error {
	query := `
		INSERT INTO invoices (
			id, customer_id, subscription_id, transaction_id, total, currency,
			description, status, metadata, failure_message, paid_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata,
			failure_message = EXCLUDED.failure_message,
			paid_at = EXCLUDED.paid_at,
			updated_at = EXCLUDED.updated_at
	`

	metadataJSON, err := json.Marshal(inv.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal invoice metadata: %w", err)
	}

	_, err = tx.Exec(ctx, query,
		inv.ID, inv.CustomerID, inv.SubscriptionID, inv.TransactionID, inv.Total.String(), inv.Currency,
		inv.Description, inv.Status, metadataJSON, inv.FailureMessage, inv.PaidAt, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	return nil
}

func (r *InvoiceRepository) FindByID(ctx context.Context, id string) (*invoice.Invoice, error) {
	query := `
		SELECT id, customer_id, subscription_id, transaction_id, total::text, currency,
		       description, status, metadata, failure_message, paid_at, created_at, updated_at
		FROM invoices
		WHERE id = $1
	`

	var inv invoice.Invoice
	var total string
	var metadataJSON []byte

	err := r.db.QueryRow(ctx, query, id).Scan(
		&inv.ID, &inv.CustomerID, &inv.SubscriptionID, &inv.TransactionID, &total, &inv.Currency,
		&inv.Description, &inv.Status, &metadataJSON, &inv.FailureMessage, &inv.PaidAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find invoice: %w", err)
	}

	if inv.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("failed to parse invoice total: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &inv.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal invoice metadata: %w", err)
		}
	}
	return &inv, nil
}
