// Package braintree charges a vaulted card through Braintree. Sales are
// submitted for settlement and their outcome is applied immediately.
package braintree

import (
	"context"
	"fmt"

	"cashier-service/internal/domain/customer"
	"cashier-service/internal/domain/invoice"
	"cashier-service/internal/domain/transaction"
	"cashier-service/internal/gateway"
	xerrors "cashier-service/internal/pkg/errors"
	"cashier-service/internal/service/cashier"

	"go.uber.org/zap"
)

const Name = "braintree"

const tokenKey = "token"

type Config struct {
	Environment Environment
	MerchantID  string
	PublicKey   string
	PrivateKey  string
}

var statusOutcome = map[string]transaction.Outcome{
	"authorized":               transaction.OutcomeSuccess,
	"submitted_for_settlement": transaction.OutcomeSuccess,
	"settling":                 transaction.OutcomeSuccess,
	"settlement_pending":       transaction.OutcomeSuccess,
	"settled":                  transaction.OutcomeSuccess,
	"authorizing":              transaction.OutcomePending,
	"processor_declined":       transaction.OutcomeFailed,
	"gateway_rejected":         transaction.OutcomeFailed,
	"failed":                   transaction.OutcomeFailed,
	"voided":                   transaction.OutcomeFailed,
	"settlement_declined":      transaction.OutcomeFailed,
	"authorization_expired":    transaction.OutcomeFailed,
}

func remoteStatus(s *Sale) (transaction.RemoteStatus, error) {
	outcome, ok := statusOutcome[s.Status]
	if !ok {
		return transaction.RemoteStatus{}, xerrors.UnmappedStatus(0)
	}
	text := s.Status
	if outcome == transaction.OutcomeFailed && s.ProcessorResponseText != "" {
		text = s.ProcessorResponseText
	}
	return transaction.RemoteStatus{Text: text, Outcome: outcome}, nil
}

type Gateway struct {
	*gateway.Base

	cfg    Config
	client Client
	logger *zap.Logger
}

var _ gateway.PaymentGateway = (*Gateway)(nil)

func New(cfg Config, client Client, engine *cashier.Engine, logger *zap.Logger, baseURL string) *Gateway {
	if client == nil {
		client = NewClient(cfg.Environment, cfg.MerchantID, cfg.PublicKey, cfg.PrivateKey)
	}
	logger = logger.With(zap.String("gateway", Name))
	caps := gateway.Capabilities{CardOnFile: true, SynchronousSettlement: true}
	return &Gateway{
		Base:   gateway.NewBase(Name, caps, engine, &provider{client: client, logger: logger}, logger, baseURL),
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

func (g *Gateway) Validate(ctx context.Context) error {
	if g.cfg.MerchantID == "" || g.cfg.PublicKey == "" || g.cfg.PrivateKey == "" {
		return xerrors.ValidationFailed("braintree merchant id, public and private keys are required")
	}
	if _, err := g.client.ClientToken(ctx); err != nil {
		return fmt.Errorf("braintree configuration rejected: %w", err)
	}
	return nil
}

// ClientToken authorizes the hosted card form.
func (g *Gateway) ClientToken(ctx context.Context) (string, error) {
	return g.client.ClientToken(ctx)
}

func (g *Gateway) storedCustomer(ctx context.Context, cust cashier.Billable) (*customer.Customer, error) {
	return g.Engine().Customers().GetCustomer(ctx, cust.BillableID())
}

func (g *Gateway) BillableUserHasCard(ctx context.Context, cust cashier.Billable) (bool, error) {
	stored, err := g.storedCustomer(ctx, cust)
	if err != nil {
		return false, err
	}
	return stored.RemoteID(Name) != "" && stored.PaymentMethod.Extra[tokenKey] != "", nil
}

func (g *Gateway) GetCardInformation(ctx context.Context, cust cashier.Billable) (*customer.CardInfo, error) {
	stored, err := g.storedCustomer(ctx, cust)
	if err != nil {
		return nil, err
	}
	remoteID := stored.RemoteID(Name)
	if remoteID == "" {
		return nil, nil
	}
	remote, err := g.client.FindCustomer(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	if remote.DefaultCard == nil {
		return nil, nil
	}
	c := remote.DefaultCard
	return &customer.CardInfo{Brand: c.Brand, Last4: c.Last4, ExpMonth: c.ExpMonth, ExpYear: c.ExpYear}, nil
}

// UpdateCard vaults nonce as the customer's default card, creating the
// Braintree customer on first use.
func (g *Gateway) UpdateCard(ctx context.Context, cust cashier.Billable, nonce string) error {
	stored, err := g.storedCustomer(ctx, cust)
	if err != nil {
		return err
	}

	var remote *RemoteCustomer
	if remoteID := stored.RemoteID(Name); remoteID != "" {
		remote, err = g.client.VaultNonce(ctx, remoteID, nonce)
	} else {
		remote, err = g.client.CreateCustomer(ctx, cust.BillableEmail(), nonce)
	}
	if err != nil {
		return err
	}
	if remote.DefaultCard == nil {
		return xerrors.ValidationFailed("braintree did not return a default card")
	}

	pm := customer.PaymentMethod{
		Method: Name,
		UserID: remote.ID,
		Extra:  map[string]string{tokenKey: remote.DefaultCard.Token},
	}
	if err := g.Engine().Customers().UpdatePaymentMethod(ctx, cust.BillableID(), pm); err != nil {
		return fmt.Errorf("failed to save payment method: %w", err)
	}
	g.logger.Info("card updated", zap.String("customer_id", cust.BillableID()), zap.String("remote_id", remote.ID))
	return nil
}

type provider struct {
	client Client
	logger *zap.Logger
}

func (p *provider) Charge(ctx context.Context, inv *invoice.Invoice, cust *customer.Customer) (gateway.Receipt, error) {
	if cust.RemoteID(Name) == "" || cust.PaymentMethod.Extra[tokenKey] == "" {
		return gateway.Receipt{}, xerrors.ValidationFailed("no card on file")
	}

	sale, err := p.client.Sale(ctx, cust.PaymentMethod.Extra[tokenKey], inv.Total)
	if err != nil {
		return gateway.Receipt{}, err
	}

	receipt := gateway.Receipt{ChargeResult: cashier.ChargeResult{Reference: sale.ID}}
	rs, err := remoteStatus(sale)
	if err != nil {
		// Left pending; the next sync reports the unknown status.
		p.logger.Error("unmapped braintree status", zap.String("status", sale.Status), zap.String("transaction", sale.ID))
		return receipt, nil
	}
	if rs.Outcome != transaction.OutcomePending {
		receipt.Settled = &rs
	}
	return receipt, nil
}

func (p *provider) FetchStatus(ctx context.Context, txn *transaction.Transaction) (transaction.RemoteStatus, error) {
	if txn.Reference == "" {
		return transaction.RemoteStatus{}, xerrors.ValidationFailed("transaction " + txn.ID + " was never submitted to braintree")
	}
	sale, err := p.client.FindTransaction(ctx, txn.Reference)
	if err != nil {
		return transaction.RemoteStatus{}, err
	}
	return remoteStatus(sale)
}
