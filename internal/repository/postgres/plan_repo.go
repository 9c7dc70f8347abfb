// internal/repository/postgres/plan_repo.go
package postgres

import (
	"context"
	"fmt"

	"cashier-service/internal/domain/subscription"
	xerrors "cashier-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type PlanRepository struct {
	db *pgxpool.Pool
}

func NewPlanRepository(db *pgxpool.Pool) *PlanRepository {
	return &PlanRepository{db: db}
}

func scanPlan(row pgx.Row) (*subscription.Plan, error) {
	var p subscription.Plan
	var price string

	if err := row.Scan(&p.ID, &p.Name, &price, &p.Currency, &p.BillingCycle, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("failed to parse plan price: %w", err)
	}
	return &p, nil
}

func (r *PlanRepository) FindByID(ctx context.Context, id string) (*subscription.Plan, error) {
	query := `
		SELECT id, name, price::text, currency, billing_cycle, status, created_at, updated_at
		FROM plans
		WHERE id = $1
	`

	p, err := scanPlan(r.db.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find plan: %w", err)
	}
	return p, nil
}

// ListActive returns the plans customers can subscribe to, cheapest first.
func (r *PlanRepository) ListActive(ctx context.Context) ([]*subscription.Plan, error) {
	query := `
		SELECT id, name, price::text, currency, billing_cycle, status, created_at, updated_at
		FROM plans
		WHERE status = 'active'
		ORDER BY price, id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := []*subscription.Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}
