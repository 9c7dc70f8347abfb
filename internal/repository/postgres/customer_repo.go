// internal/repository/postgres/customer_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cashier-service/internal/domain/customer"
	xerrors "cashier-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

type CustomerRepository struct {
	db *pgxpool.Pool
}

func NewCustomerRepository(db *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// Upsert creates the customer or refreshes their contact details. The payment
// method is only written by UpdatePaymentMethod.
func (r *CustomerRepository) Upsert(ctx context.Context, c *customer.Customer) error {
	query := `
		INSERT INTO customers (id, email, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query, c.ID, c.Email, c.Name, time.Now()).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

func (r *CustomerRepository) FindByID(ctx context.Context, id string) (*customer.Customer, error) {
	query := `
		SELECT id, email, name, payment_method, created_at, updated_at
		FROM customers
		WHERE id = $1
	`

	var c customer.Customer
	var pmJSON []byte

	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.Email, &c.Name, &pmJSON, &c.CreatedAt, &c.UpdatedAt)
	if isNoRows(err) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find customer: %w", err)
	}

	if len(pmJSON) > 0 && string(pmJSON) != "null" {
		c.PaymentMethod = &customer.PaymentMethod{}
		if err := json.Unmarshal(pmJSON, c.PaymentMethod); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment method: %w", err)
		}
	}
	return &c, nil
}

func (r *CustomerRepository) UpdatePaymentMethod(ctx context.Context, customerID string, pm customer.PaymentMethod) error {
	pmJSON, err := json.Marshal(pm)
	if err != nil {
		return fmt.Errorf("failed to marshal payment method: %w", err)
	}

	result, err := r.db.Exec(ctx,
		`UPDATE customers SET payment_method = $1, updated_at = $2 WHERE id = $3`,
		pmJSON, time.Now(), customerID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment method: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
