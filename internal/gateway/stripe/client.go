package stripe

import (
	"context"
	"fmt"
	"strings"

	xerrors "cashier-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/balance"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/paymentmethod"
)

// Client is the part of the Stripe API the gateway uses.
type Client interface {
	Ping(ctx context.Context) error
	CreateCustomer(ctx context.Context, customerID, email string) (string, error)
	// AttachDefault attaches the payment method and makes it the customer's default.
	AttachDefault(ctx context.Context, remoteCustomerID, paymentMethodID string) error
	Card(ctx context.Context, paymentMethodID string) (*Card, error)
	ChargeOffSession(ctx context.Context, req ChargeRequest) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
}

type Card struct {
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

type ChargeRequest struct {
	RemoteCustomerID string
	PaymentMethodID  string
	Amount           decimal.Decimal
	Currency         string
	Description      string
	InvoiceID        string
}

type Intent struct {
	ID        string
	Status    string
	LastError string
}

type sdkClient struct{}

// NewClient configures the package level Stripe key.
func NewClient(apiKey string) Client {
	stripego.Key = apiKey
	return &sdkClient{}
}

func (c *sdkClient) Ping(_ context.Context) error {
	if _, err := balance.Get(nil); err != nil {
		return xerrors.ProviderUnavailable("stripe balance", err)
	}
	return nil
}

func (c *sdkClient) CreateCustomer(_ context.Context, customerID, email string) (string, error) {
	cus, err := customer.New(&stripego.CustomerParams{
		Email:    stripego.String(email),
		Metadata: map[string]string{"customer_id": customerID},
	})
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cus.ID, nil
}

func (c *sdkClient) AttachDefault(_ context.Context, remoteCustomerID, paymentMethodID string) error {
	if _, err := paymentmethod.Attach(paymentMethodID, &stripego.PaymentMethodAttachParams{
		Customer: stripego.String(remoteCustomerID),
	}); err != nil {
		return fmt.Errorf("attach payment method: %w", err)
	}
	if _, err := customer.Update(remoteCustomerID, &stripego.CustomerParams{
		InvoiceSettings: &stripego.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripego.String(paymentMethodID),
		},
	}); err != nil {
		return fmt.Errorf("set default payment method: %w", err)
	}
	return nil
}

func (c *sdkClient) Card(_ context.Context, paymentMethodID string) (*Card, error) {
	pm, err := paymentmethod.Get(paymentMethodID, nil)
	if err != nil {
		return nil, xerrors.ProviderUnavailable("stripe payment method", err)
	}
	if pm.Card == nil {
		return nil, nil
	}
	return &Card{
		Brand:    string(pm.Card.Brand),
		Last4:    pm.Card.Last4,
		ExpMonth: int(pm.Card.ExpMonth),
		ExpYear:  int(pm.Card.ExpYear),
	}, nil
}

func toIntent(pi *stripego.PaymentIntent) *Intent {
	out := &Intent{ID: pi.ID, Status: string(pi.Status)}
	if pi.LastPaymentError != nil {
		out.LastError = pi.LastPaymentError.Msg
	}
	return out
}

func (c *sdkClient) ChargeOffSession(_ context.Context, r ChargeRequest) (*Intent, error) {
	params := &stripego.PaymentIntentParams{
		Amount:        stripego.Int64(r.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()),
		Currency:      stripego.String(strings.ToLower(r.Currency)),
		Customer:      stripego.String(r.RemoteCustomerID),
		PaymentMethod: stripego.String(r.PaymentMethodID),
		Description:   stripego.String(r.Description),
		OffSession:    stripego.Bool(true),
		Confirm:       stripego.Bool(true),
	}
	params.AddMetadata("invoice_id", r.InvoiceID)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return toIntent(pi), nil
}

func (c *sdkClient) GetIntent(_ context.Context, id string) (*Intent, error) {
	pi, err := paymentintent.Get(id, nil)
	if err != nil {
		return nil, xerrors.ProviderUnavailable("stripe payment intent", err)
	}
	return toIntent(pi), nil
}
