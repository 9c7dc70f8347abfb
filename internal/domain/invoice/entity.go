package invoice

import (
	"fmt"
	"time"

	xerrors "cashier-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusNew    Status = "new"
	StatusPaid   Status = "paid"
	StatusFailed Status = "failed"
)

// Metadata holds what the provider returned when the charge was created.
type Metadata struct {
	TxnID       string            `json:"txn_id,omitempty"`
	CheckoutURL string            `json:"checkout_url,omitempty"`
	StatusURL   string            `json:"status_url,omitempty"`
	QRCodeURL   string            `json:"qrcode_url,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

type Invoice struct {
	ID             string          `json:"id" db:"id"`
	CustomerID     string          `json:"customer_id" db:"customer_id"`
	SubscriptionID string          `json:"subscription_id" db:"subscription_id"`
	TransactionID  string          `json:"transaction_id" db:"transaction_id"`
	Total          decimal.Decimal `json:"total" db:"total"`
	Currency       string          `json:"currency" db:"currency"`
	Description    string          `json:"description" db:"description"`
	Status         Status          `json:"status" db:"status"`
	Metadata       Metadata        `json:"metadata" db:"metadata"`
	FailureMessage string          `json:"failure_message,omitempty" db:"failure_message"`
	PaidAt         *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

func New(id, customerID, subscriptionID, transactionID string, total decimal.Decimal, currency, description string, now time.Time) *Invoice {
	return &Invoice{
		ID:             id,
		CustomerID:     customerID,
		SubscriptionID: subscriptionID,
		TransactionID:  transactionID,
		Total:          total,
		Currency:       currency,
		Description:    description,
		Status:         StatusNew,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (i *Invoice) IsPaid() bool   { return i.Status == StatusPaid }
func (i *Invoice) IsFailed() bool { return i.Status == StatusFailed }

// UpdateMetadata merges m into the invoice metadata. Empty fields in m are ignored.
func (i *Invoice) UpdateMetadata(m Metadata, now time.Time) error {
	if i.IsPaid() {
		return fmt.Errorf("invoice %s: %w", i.ID, xerrors.ErrInvoiceFulfilled)
	}
	if m.TxnID != "" {
		i.Metadata.TxnID = m.TxnID
	}
	if m.CheckoutURL != "" {
		i.Metadata.CheckoutURL = m.CheckoutURL
	}
	if m.StatusURL != "" {
		i.Metadata.StatusURL = m.StatusURL
	}
	if m.QRCodeURL != "" {
		i.Metadata.QRCodeURL = m.QRCodeURL
	}
	for k, v := range m.Extra {
		if i.Metadata.Extra == nil {
			i.Metadata.Extra = make(map[string]string)
		}
		i.Metadata.Extra[k] = v
	}
	i.UpdatedAt = now
	return nil
}

// Fulfill marks the invoice paid. A paid invoice is never modified again.
func (i *Invoice) Fulfill(now time.Time) error {
	if i.IsPaid() {
		return fmt.Errorf("invoice %s: %w", i.ID, xerrors.ErrInvoiceFulfilled)
	}
	i.Status = StatusPaid
	i.FailureMessage = ""
	i.PaidAt = &now
	i.UpdatedAt = now
	return nil
}

func (i *Invoice) PayFailed(message string, now time.Time) error {
	if i.IsPaid() {
		return fmt.Errorf("invoice %s: %w", i.ID, xerrors.ErrInvoiceFulfilled)
	}
	i.Status = StatusFailed
	i.FailureMessage = message
	i.UpdatedAt = now
	return nil
}
