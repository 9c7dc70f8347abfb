// internal/repository/postgres/subscription_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cashier-service/internal/domain/subscription"
	xerrors "cashier-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const subscriptionColumns = `
	id, customer_id, plan_id, gateway, status,
	started_at, ends_at, current_period_ends_at,
	error, metadata, created_at, updated_at`

type SubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	var errorJSON, metadataJSON []byte

	err := row.Scan(
		&sub.ID, &sub.CustomerID, &sub.PlanID, &sub.Gateway, &sub.Status,
		&sub.StartedAt, &sub.EndsAt, &sub.CurrentPeriodEndsAt,
		&errorJSON, &metadataJSON, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(errorJSON) > 0 && string(errorJSON) != "null" {
		sub.Error = &subscription.ErrorDescriptor{}
		if err := json.Unmarshal(errorJSON, sub.Error); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error descriptor: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &sub.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &sub, nil
}

func (r *SubscriptionRepository) list(ctx context.Context, query string, args ...any) ([]*subscription.Subscription, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// UpsertWithTx inserts the subscription or overwrites its mutable fields.
func (r *SubscriptionRepository) UpsertWithTx(ctx context.Context, tx pgx.Tx, sub *subscription.Subscription) error {
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			gateway = EXCLUDED.gateway,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			ends_at = EXCLUDED.ends_at,
			current_period_ends_at = EXCLUDED.current_period_ends_at,
			error = EXCLUDED.error,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`

	var errorJSON, metadataJSON []byte
	var err error
	if sub.Error != nil {
		if errorJSON, err = json.Marshal(sub.Error); err != nil {
			return fmt.Errorf("failed to marshal error descriptor: %w", err)
		}
	}
	if sub.Metadata != nil {
		if metadataJSON, err = json.Marshal(sub.Metadata); err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = sub.UpdatedAt
	}

	_, err = tx.Exec(ctx, query,
		sub.ID, sub.CustomerID, sub.PlanID, sub.Gateway, sub.Status,
		sub.StartedAt, sub.EndsAt, sub.CurrentPeriodEndsAt,
		errorJSON, metadataJSON, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) FindByID(ctx context.Context, id string) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return sub, nil
}

// FindCurrentByCustomer returns the customer's most recently created subscription.
func (r *SubscriptionRepository) FindCurrentByCustomer(ctx context.Context, customerID string) (*subscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE customer_id = $1
		ORDER BY id DESC
		LIMIT 1
	`

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, customerID))
	if isNoRows(err) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find current subscription: %w", err)
	}
	return sub, nil
}

func (r *SubscriptionRepository) ListSyncable(ctx context.Context, limit int) ([]*subscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions s
		WHERE s.status = 'pending'
		   OR EXISTS (
			SELECT 1 FROM subscription_transactions t
			WHERE t.subscription_id = s.id AND t.status = 'pending'
		   )
		ORDER BY s.id
		LIMIT $1
	`
	return r.list(ctx, query, limit)
}

func (r *SubscriptionRepository) ListEndingBefore(ctx context.Context, t time.Time, limit int) ([]*subscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status IN ('active', 'expiring') AND ends_at < $1
		ORDER BY id
		LIMIT $2
	`
	return r.list(ctx, query, t, limit)
}
