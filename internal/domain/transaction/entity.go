// internal/domain/transaction/entity.go
package transaction

import (
	"encoding/json"
	"fmt"
	"time"

	xerrors "cashier-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeSubscribe  Type = "subscribe"
	TypeRenew      Type = "renew"
	TypeChangePlan Type = "change_plan"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Outcome is what a provider status means for the ledger.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// RemoteStatus is the last status a provider reported for a transaction.
type RemoteStatus struct {
	Code      int             `json:"code"`
	Text      string          `json:"text"`
	Outcome   Outcome         `json:"outcome"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Transaction is one billable attempt against a subscription. Rows are only
// ever appended; Type is fixed at creation and Status moves once from pending.
type Transaction struct {
	ID             string            `json:"id" db:"id"`
	SubscriptionID string            `json:"subscription_id" db:"subscription_id"`
	InvoiceID      string            `json:"invoice_id,omitempty" db:"invoice_id"`
	Type           Type              `json:"type" db:"type"`
	Status         Status            `json:"status" db:"status"`
	Amount         decimal.Decimal   `json:"amount" db:"amount"`
	Currency       string            `json:"currency" db:"currency"`
	Title          string            `json:"title" db:"title"`
	Description    string            `json:"description,omitempty" db:"description"`
	PlanID         string            `json:"plan_id" db:"plan_id"`
	EndsAt         time.Time         `json:"ends_at" db:"ends_at"`
	Reference      string            `json:"reference,omitempty" db:"reference"`
	CheckoutURL    string            `json:"checkout_url,omitempty" db:"checkout_url"`
	StatusURL      string            `json:"status_url,omitempty" db:"status_url"`
	QRCodeURL      string            `json:"qrcode_url,omitempty" db:"qrcode_url"`
	Remote         *RemoteStatus     `json:"remote,omitempty" db:"remote"`
	Error          string            `json:"error,omitempty" db:"error"`
	Metadata       map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// New returns a pending transaction that, once successful, moves the
// subscription onto planID until endsAt.
func New(id, subscriptionID string, typ Type, amount decimal.Decimal, currency, planID string, endsAt, now time.Time) *Transaction {
	return &Transaction{
		ID:             id,
		SubscriptionID: subscriptionID,
		Type:           typ,
		Status:         StatusPending,
		Amount:         amount,
		Currency:       currency,
		PlanID:         planID,
		EndsAt:         endsAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (t *Transaction) IsPending() bool { return t.Status == StatusPending }
func (t *Transaction) IsSuccess() bool { return t.Status == StatusSuccess }
func (t *Transaction) IsFailed() bool  { return t.Status == StatusFailed }

func (t *Transaction) SetSuccess(now time.Time) error {
	if !t.IsPending() {
		return fmt.Errorf("transaction %s is %s: %w", t.ID, t.Status, xerrors.ErrInvalidTransition)
	}
	t.Status = StatusSuccess
	t.UpdatedAt = now
	return nil
}

func (t *Transaction) SetFailed(reason string, now time.Time) error {
	if !t.IsPending() {
		return fmt.Errorf("transaction %s is %s: %w", t.ID, t.Status, xerrors.ErrInvalidTransition)
	}
	t.Status = StatusFailed
	t.Error = reason
	t.UpdatedAt = now
	return nil
}

// RecordRemote stores the provider's view and uses its text as the description.
func (t *Transaction) RecordRemote(rs RemoteStatus) {
	t.Remote = &rs
	if rs.Text != "" {
		t.Description = rs.Text
	}
	t.UpdatedAt = rs.FetchedAt
}

// Last returns the most recently created transaction, or nil.
func Last(txns []*Transaction) *Transaction {
	if len(txns) == 0 {
		return nil
	}
	return txns[len(txns)-1]
}

// Init returns the latest SUBSCRIBE transaction, or nil.
func Init(txns []*Transaction) *Transaction {
	for i := len(txns) - 1; i >= 0; i-- {
		if txns[i].Type == TypeSubscribe {
			return txns[i]
		}
	}
	return nil
}

// Pending returns the pending transaction, or nil.
func Pending(txns []*Transaction) *Transaction {
	for i := len(txns) - 1; i >= 0; i-- {
		if txns[i].IsPending() {
			return txns[i]
		}
	}
	return nil
}
