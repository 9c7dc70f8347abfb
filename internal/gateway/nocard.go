package gateway

import (
	"context"

	"cashier-service/internal/domain/customer"
	"cashier-service/internal/service/cashier"
)

// NoCard is embedded by gateways that never keep a card on file.
type NoCard struct{}

func (NoCard) BillableUserHasCard(context.Context, cashier.Billable) (bool, error) {
	return false, nil
}

func (NoCard) GetCardInformation(context.Context, cashier.Billable) (*customer.CardInfo, error) {
	return nil, nil
}

func (NoCard) UpdateCard(context.Context, cashier.Billable, string) error { return nil }
