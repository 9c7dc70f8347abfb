// Package gateway defines the payment gateway contract and the parts every
// provider shares.
package gateway

import (
	"context"

	"cashier-service/internal/domain/customer"
	"cashier-service/internal/domain/invoice"
	"cashier-service/internal/domain/subscription"
	"cashier-service/internal/domain/transaction"
	"cashier-service/internal/service/cashier"
)

// Capabilities describes what a gateway can do without customer interaction.
type Capabilities struct {
	AutoBilling           bool `json:"auto_billing"`
	Recurring             bool `json:"recurring"`
	CardOnFile            bool `json:"card_on_file"`
	SynchronousSettlement bool `json:"synchronous_settlement"`
}

type PaymentGateway interface {
	Name() string
	Capabilities() Capabilities
	// Validate checks the gateway configuration against the provider.
	Validate(ctx context.Context) error

	Create(ctx context.Context, cust cashier.Billable, plan cashier.BillablePlan) (*subscription.Subscription, error)
	Checkout(ctx context.Context, sub *subscription.Subscription) (*invoice.Invoice, error)
	// Charge submits the invoice to the provider. Provider failures fail the
	// invoice and are not returned.
	Charge(ctx context.Context, inv *invoice.Invoice) error
	Renew(ctx context.Context, sub *subscription.Subscription) (*invoice.Invoice, error)
	ChangePlan(ctx context.Context, sub *subscription.Subscription, plan cashier.BillablePlan) (*invoice.Invoice, error)
	Sync(ctx context.Context, sub *subscription.Subscription) error
	CancelNow(ctx context.Context, sub *subscription.Subscription) error

	HasPending(ctx context.Context, sub *subscription.Subscription) (bool, error)
	GetTransaction(ctx context.Context, sub *subscription.Subscription) (*transaction.Transaction, error)
	GetInitTransaction(ctx context.Context, sub *subscription.Subscription) (*transaction.Transaction, error)
	GetTransactions(ctx context.Context, sub *subscription.Subscription) ([]*transaction.Transaction, error)

	BillableUserHasCard(ctx context.Context, cust cashier.Billable) (bool, error)
	GetCardInformation(ctx context.Context, cust cashier.Billable) (*customer.CardInfo, error)
	UpdateCard(ctx context.Context, cust cashier.Billable, token string) error

	GetCheckoutURL(inv *invoice.Invoice, returnURL string) string
	GetConnectURL(returnURL string) string
}

// Receipt is the provider's answer to a charge. Settled is set when the
// provider already knows the final outcome.
type Receipt struct {
	cashier.ChargeResult
	Settled *transaction.RemoteStatus
}

// Provider is the provider specific half of a gateway.
type Provider interface {
	Charge(ctx context.Context, inv *invoice.Invoice, cust *customer.Customer) (Receipt, error)
	FetchStatus(ctx context.Context, txn *transaction.Transaction) (transaction.RemoteStatus, error)
}
