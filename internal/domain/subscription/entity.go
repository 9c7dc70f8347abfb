// internal/domain/subscription/entity.go
package subscription

import (
	"fmt"
	"time"

	xerrors "cashier-service/internal/pkg/errors"
)

type Status string

const (
	StatusNew       Status = "new"
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusExpiring  Status = "expiring"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

// transitions lists every status a subscription may move to from a given status.
var transitions = map[Status][]Status{
	StatusNew:      {StatusPending, StatusActive, StatusEnded},
	StatusPending:  {StatusActive, StatusCancelled},
	StatusActive:   {StatusExpiring, StatusEnded},
	StatusExpiring: {StatusActive, StatusEnded},
}

const (
	ErrorTypeRenewFailed      = "renew_failed"
	ErrorTypeChangePlanFailed = "change_plan_failed"

	ErrorStatusWarning = "warning"
	ErrorStatusError   = "error"
)

// ErrorDescriptor is the last user-facing failure attached to a subscription.
type ErrorDescriptor struct {
	Status    string `json:"status"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	ActionURL string `json:"action_url,omitempty"`
}

type Subscription struct {
	ID                  string            `json:"id" db:"id"`
	CustomerID          string            `json:"customer_id" db:"customer_id"`
	PlanID              string            `json:"plan_id" db:"plan_id"`
	Gateway             string            `json:"gateway" db:"gateway"`
	Status              Status            `json:"status" db:"status"`
	StartedAt           time.Time         `json:"started_at" db:"started_at"`
	EndsAt              time.Time         `json:"ends_at" db:"ends_at"`
	CurrentPeriodEndsAt time.Time         `json:"current_period_ends_at" db:"current_period_ends_at"`
	Error               *ErrorDescriptor  `json:"error,omitempty" db:"error"`
	Metadata            map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at" db:"updated_at"`
}

// New returns a NEW subscription whose first period runs from startedAt to endsAt.
func New(id, customerID, planID, gateway string, startedAt, endsAt time.Time) *Subscription {
	return &Subscription{
		ID:                  id,
		CustomerID:          customerID,
		PlanID:              planID,
		Gateway:             gateway,
		Status:              StatusNew,
		StartedAt:           startedAt,
		EndsAt:              endsAt,
		CurrentPeriodEndsAt: endsAt,
	}
}

// Restart re-initialises a subscription that was never activated so the
// customer's existing row can be reused for a new plan or gateway.
func (s *Subscription) Restart(planID, gateway string, startedAt, endsAt time.Time) error {
	if s.Status != StatusNew {
		return fmt.Errorf("restart %s subscription: %w", s.Status, xerrors.ErrInvalidTransition)
	}
	s.PlanID = planID
	s.Gateway = gateway
	s.StartedAt = startedAt
	s.EndsAt = endsAt
	s.CurrentPeriodEndsAt = endsAt
	s.Error = nil
	return nil
}

func (s *Subscription) CanTransitionTo(next Status) bool {
	for _, st := range transitions[s.Status] {
		if st == next {
			return true
		}
	}
	return false
}

func (s *Subscription) transition(next Status) error {
	if !s.CanTransitionTo(next) {
		return fmt.Errorf("%s -> %s: %w", s.Status, next, xerrors.ErrInvalidTransition)
	}
	s.Status = next
	return nil
}

// MarkPending records that the initial charge is awaiting confirmation.
func (s *Subscription) MarkPending() error { return s.transition(StatusPending) }

func (s *Subscription) SetActive() error { return s.transition(StatusActive) }

func (s *Subscription) MarkExpiring() error { return s.transition(StatusExpiring) }

// CancelNow cancels a subscription whose initial payment failed.
func (s *Subscription) CancelNow() error { return s.transition(StatusCancelled) }

func (s *Subscription) SetEnded() error { return s.transition(StatusEnded) }

// ApproveRenewal extends the paid period to endsAt.
func (s *Subscription) ApproveRenewal(endsAt time.Time) error {
	if !s.IsActive() && !s.IsExpiring() {
		return fmt.Errorf("renew %s subscription: %w", s.Status, xerrors.ErrInvalidTransition)
	}
	if s.IsExpiring() {
		if err := s.SetActive(); err != nil {
			return err
		}
	}
	s.EndsAt = endsAt
	s.CurrentPeriodEndsAt = endsAt
	s.Error = nil
	return nil
}

// ApprovePlanChange swaps the plan and starts its period ending at endsAt.
func (s *Subscription) ApprovePlanChange(planID string, endsAt time.Time) error {
	if err := s.ApproveRenewal(endsAt); err != nil {
		return err
	}
	s.PlanID = planID
	return nil
}

func (s *Subscription) Fail(desc ErrorDescriptor) { s.Error = &desc }

func (s *Subscription) IsNew() bool       { return s.Status == StatusNew }
func (s *Subscription) IsPending() bool   { return s.Status == StatusPending }
func (s *Subscription) IsActive() bool    { return s.Status == StatusActive }
func (s *Subscription) IsExpiring() bool  { return s.Status == StatusExpiring }
func (s *Subscription) IsEnded() bool     { return s.Status == StatusEnded }
func (s *Subscription) IsCancelled() bool { return s.Status == StatusCancelled }

// IsTerminal reports whether the subscription is ENDED or CANCELLED.
func (s *Subscription) IsTerminal() bool { return s.IsEnded() || s.IsCancelled() }

// Validate checks the invariants every persisted subscription must satisfy.
func (s *Subscription) Validate() error {
	if s.ID == "" || s.CustomerID == "" || s.PlanID == "" {
		return fmt.Errorf("subscription requires id, customer and plan: %w", xerrors.ErrInvalidInput)
	}
	if s.CurrentPeriodEndsAt.Before(s.StartedAt) {
		return fmt.Errorf("current period ends before start: %w", xerrors.ErrInvalidInput)
	}
	return nil
}
