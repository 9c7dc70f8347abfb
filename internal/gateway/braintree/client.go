package braintree

import (
	"context"
	"fmt"
	"strconv"

	xerrors "cashier-service/internal/pkg/errors"

	bt "github.com/braintree-go/braintree-go"
	"github.com/shopspring/decimal"
)

// Client is the slice of the Braintree API the gateway needs.
type Client interface {
	FindCustomer(ctx context.Context, id string) (*RemoteCustomer, error)
	// CreateCustomer creates a vault customer with nonce as the default card.
	CreateCustomer(ctx context.Context, email, nonce string) (*RemoteCustomer, error)
	// VaultNonce stores nonce as the customer's default card.
	VaultNonce(ctx context.Context, customerID, nonce string) (*RemoteCustomer, error)
	Sale(ctx context.Context, paymentToken string, amount decimal.Decimal) (*Sale, error)
	FindTransaction(ctx context.Context, id string) (*Sale, error)
	ClientToken(ctx context.Context) (string, error)
}

type Card struct {
	Token    string
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

type RemoteCustomer struct {
	ID          string
	DefaultCard *Card
}

type Sale struct {
	ID                    string
	Status                string
	ProcessorResponseText string
}

type Environment string

const (
	Sandbox    Environment = "sandbox"
	Production Environment = "production"
)

type sdkClient struct {
	gateway *bt.Braintree
}

func NewClient(env Environment, merchantID, publicKey, privateKey string) Client {
	e := bt.Sandbox
	if env == Production {
		e = bt.Production
	}
	return &sdkClient{gateway: bt.New(e, merchantID, publicKey, privateKey)}
}

func toRemoteCustomer(c *bt.Customer) *RemoteCustomer {
	out := &RemoteCustomer{ID: c.Id}
	if card := c.DefaultCreditCard(); card != nil {
		month, _ := strconv.Atoi(card.ExpirationMonth)
		year, _ := strconv.Atoi(card.ExpirationYear)
		out.DefaultCard = &Card{
			Token:    card.Token,
			Brand:    card.CardType,
			Last4:    card.Last4,
			ExpMonth: month,
			ExpYear:  year,
		}
	}
	return out
}

func (c *sdkClient) FindCustomer(ctx context.Context, id string) (*RemoteCustomer, error) {
	cust, err := c.gateway.Customer().Find(ctx, id)
	if err != nil {
		return nil, xerrors.ProviderUnavailable("braintree find customer", err)
	}
	return toRemoteCustomer(cust), nil
}

func (c *sdkClient) CreateCustomer(ctx context.Context, email, nonce string) (*RemoteCustomer, error) {
	cust, err := c.gateway.Customer().Create(ctx, &bt.CustomerRequest{
		Email:              email,
		PaymentMethodNonce: nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to vault payment method: %w", err)
	}
	if cust.DefaultPaymentMethod() == nil {
		return nil, xerrors.ValidationFailed("no default payment method returned from vault")
	}
	return toRemoteCustomer(cust), nil
}

func (c *sdkClient) VaultNonce(ctx context.Context, customerID, nonce string) (*RemoteCustomer, error) {
	_, err := c.gateway.PaymentMethod().Create(ctx, &bt.PaymentMethodRequest{
		CustomerId:         customerID,
		PaymentMethodNonce: nonce,
		Options:            &bt.PaymentMethodRequestOptions{MakeDefault: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to vault payment method: %w", err)
	}
	return c.FindCustomer(ctx, customerID)
}

func (c *sdkClient) Sale(ctx context.Context, paymentToken string, amount decimal.Decimal) (*Sale, error) {
	// Braintree amounts are unscaled integers with an explicit scale.
	cents := amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	tx, err := c.gateway.Transaction().Create(ctx, &bt.TransactionRequest{
		Type:               "sale",
		Amount:             bt.NewDecimal(cents, 2),
		PaymentMethodToken: paymentToken,
		Options: &bt.TransactionOptions{
			SubmitForSettlement: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("transaction creation failed: %w", err)
	}
	return &Sale{ID: tx.Id, Status: string(tx.Status), ProcessorResponseText: tx.ProcessorResponseText}, nil
}

func (c *sdkClient) FindTransaction(ctx context.Context, id string) (*Sale, error) {
	tx, err := c.gateway.Transaction().Find(ctx, id)
	if err != nil {
		return nil, xerrors.ProviderUnavailable("braintree find transaction", err)
	}
	return &Sale{ID: tx.Id, Status: string(tx.Status), ProcessorResponseText: tx.ProcessorResponseText}, nil
}

func (c *sdkClient) ClientToken(ctx context.Context) (string, error) {
	token, err := c.gateway.ClientToken().Generate(ctx)
	if err != nil {
		return "", xerrors.ProviderUnavailable("braintree client token", err)
	}
	return token, nil
}
