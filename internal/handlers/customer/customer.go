// internal/handlers/customer/customer.go
package customer

import (
	"context"
	"net/http"

	"cashier-service/internal/domain/customer"
	"cashier-service/internal/gateway"
	"cashier-service/internal/middleware"
	xerrors "cashier-service/internal/pkg/errors"
	"cashier-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// Store reads and registers customers.
type Store interface {
	GetCustomer(ctx context.Context, id string) (*customer.Customer, error)
	EnsureCustomer(ctx context.Context, c *customer.Customer) error
}

type CustomerHandler struct {
	store    Store
	gateways *gateway.Registry
}

func NewCustomerHandler(store Store, gateways *gateway.Registry) *CustomerHandler {
	return &CustomerHandler{
		store:    store,
		gateways: gateways,
	}
}

// GetCard shows the card on file with the gateway the caller pays through.
func (h *CustomerHandler) GetCard(c *gin.Context) {
	ctx := c.Request.Context()
	cust, err := h.store.GetCustomer(ctx, middleware.MustGetCustomerID(c))
	if err != nil {
		response.FromError(c, "customer not found", err)
		return
	}
	if cust.PaymentMethod == nil {
		response.Success(c, http.StatusOK, "no card on file", nil)
		return
	}
	gw, err := h.gateways.Get(cust.PaymentMethod.Method)
	if err != nil {
		response.FromError(c, "failed to load card", err)
		return
	}
	card, err := gw.GetCardInformation(ctx, cust)
	if err != nil {
		response.FromError(c, "failed to load card", err)
		return
	}
	if card == nil {
		response.Success(c, http.StatusOK, "no card on file", nil)
		return
	}
	response.Success(c, http.StatusOK, "card retrieved", card)
}

// UpdateCard vaults a card token with a card-on-file gateway.
func (h *CustomerHandler) UpdateCard(c *gin.Context) {
	ctx := c.Request.Context()
	cust := middleware.Customer(c)

	var req customer.UpdateCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	gw, err := h.gateways.Get(req.Gateway)
	if err != nil {
		response.FromError(c, "failed to update card", err)
		return
	}
	if !gw.Capabilities().CardOnFile {
		response.FromError(c, "failed to update card", xerrors.ValidationFailed(gw.Name()+" does not store cards"))
		return
	}
	if err := h.store.EnsureCustomer(ctx, cust); err != nil {
		response.FromError(c, "failed to register customer", err)
		return
	}
	if err := gw.UpdateCard(ctx, cust, req.Token); err != nil {
		response.FromError(c, "failed to update card", err)
		return
	}
	card, err := gw.GetCardInformation(ctx, cust)
	if err != nil {
		response.FromError(c, "card saved but could not be read back", err)
		return
	}
	response.Success(c, http.StatusOK, "card updated", card)
}
