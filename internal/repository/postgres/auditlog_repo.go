// internal/repository/postgres/auditlog_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"cashier-service/internal/domain/auditlog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditLogRepository struct {
	db *DB
}

func NewAuditLogRepository(pool *pgxpool.Pool) *AuditLogRepository {
	return &AuditLogRepository{db: NewDB(pool)}
}

// Append writes entries with consecutive sequence numbers. Appends for the
// same subscription are serialized with a transaction-scoped advisory lock.
func (r *AuditLogRepository) Append(ctx context.Context, subscriptionID string, entries []*auditlog.Entry) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, subscriptionID); err != nil {
			return fmt.Errorf("failed to lock audit log: %w", err)
		}

		var seq int64
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(seq), 0) FROM subscription_logs WHERE subscription_id = $1`,
			subscriptionID,
		).Scan(&seq)
		if err != nil {
			return fmt.Errorf("failed to read audit sequence: %w", err)
		}

		batch := &pgx.Batch{}
		for _, e := range entries {
			seq++
			e.Seq = seq
			payload, err := json.Marshal(e.Payload)
			if err != nil {
				return fmt.Errorf("failed to marshal audit payload: %w", err)
			}
			batch.Queue(`
				INSERT INTO subscription_logs (id, subscription_id, seq, type, payload, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, e.ID, subscriptionID, e.Seq, e.Type, payload, e.CreatedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		return nil
	})
}

func (r *AuditLogRepository) ListBySubscription(ctx context.Context, subscriptionID string) ([]*auditlog.Entry, error) {
	query := `
		SELECT id, subscription_id, seq, type, payload, created_at
		FROM subscription_logs
		WHERE subscription_id = $1
		ORDER BY seq
	`

	rows, err := r.db.Pool().Query(ctx, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	defer rows.Close()

	entries := []*auditlog.Entry{}
	for rows.Next() {
		var e auditlog.Entry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.SubscriptionID, &e.Seq, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit payload: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
