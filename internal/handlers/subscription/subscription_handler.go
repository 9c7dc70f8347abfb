// internal/handlers/subscription/subscription_handler.go
package subscription

import (
	"context"
	"net/http"

	"cashier-service/internal/domain/customer"
	"cashier-service/internal/domain/invoice"
	"cashier-service/internal/domain/subscription"
	"cashier-service/internal/domain/transaction"
	"cashier-service/internal/gateway"
	"cashier-service/internal/middleware"
	xerrors "cashier-service/internal/pkg/errors"
	"cashier-service/internal/pkg/response"
	"cashier-service/internal/service/cashier"

	"github.com/gin-gonic/gin"
)

// Directory registers callers as customers before they subscribe.
type Directory interface {
	EnsureCustomer(ctx context.Context, c *customer.Customer) error
}

type SubscriptionHandler struct {
	engine    *cashier.Engine
	gateways  *gateway.Registry
	directory Directory
}

func NewSubscriptionHandler(engine *cashier.Engine, gateways *gateway.Registry, directory Directory) *SubscriptionHandler {
	return &SubscriptionHandler{
		engine:    engine,
		gateways:  gateways,
		directory: directory,
	}
}

// CheckoutResponse is an opened invoice and where the customer pays it.
type CheckoutResponse struct {
	Invoice     *invoice.Invoice `json:"invoice"`
	CheckoutURL string           `json:"checkout_url,omitempty"`
}

// ========== Subscriptions ==========

// CreateSubscription subscribes the caller to a plan through a gateway.
func (h *SubscriptionHandler) CreateSubscription(c *gin.Context) {
	ctx := c.Request.Context()
	cust := middleware.Customer(c)

	var req subscription.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	gw, err := h.gateways.Get(req.Gateway)
	if err != nil {
		response.FromError(c, "failed to create subscription", err)
		return
	}
	plan, err := h.engine.Plan(ctx, req.PlanID)
	if err != nil {
		response.FromError(c, "plan not found", err)
		return
	}
	if !plan.IsActive() {
		response.FromError(c, "failed to create subscription", xerrors.ValidationFailed("plan "+plan.ID+" is not available"))
		return
	}

	if err := h.directory.EnsureCustomer(ctx, cust); err != nil {
		response.FromError(c, "failed to register customer", err)
		return
	}

	sub, err := gw.Create(ctx, cust, plan)
	if err != nil {
		response.FromError(c, "failed to create subscription", err)
		return
	}

	response.Success(c, http.StatusCreated, "subscription created successfully", h.view(c, sub))
}

// GetCurrentSubscription returns the caller's latest subscription.
func (h *SubscriptionHandler) GetCurrentSubscription(c *gin.Context) {
	customerID := middleware.MustGetCustomerID(c)

	sub, err := h.engine.CurrentSubscription(c.Request.Context(), customerID)
	if err != nil {
		response.FromError(c, "no subscription found", err)
		return
	}
	response.Success(c, http.StatusOK, "subscription retrieved", h.view(c, sub))
}

func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	sub, _, ok := h.owned(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, "subscription retrieved", h.view(c, sub))
}

func (h *SubscriptionHandler) ListTransactions(c *gin.Context) {
	sub, gw, ok := h.owned(c)
	if !ok {
		return
	}
	txns, err := gw.GetTransactions(c.Request.Context(), sub)
	if err != nil {
		response.FromError(c, "failed to list transactions", err)
		return
	}
	response.Success(c, http.StatusOK, "transactions retrieved", txns)
}

// GetLastTransaction returns the newest transaction on the ledger.
func (h *SubscriptionHandler) GetLastTransaction(c *gin.Context) {
	sub, gw, ok := h.owned(c)
	if !ok {
		return
	}
	txn, err := gw.GetTransaction(c.Request.Context(), sub)
	respondTransaction(c, "last transaction", txn, err)
}

// GetInitTransaction returns the transaction that first paid for the subscription.
func (h *SubscriptionHandler) GetInitTransaction(c *gin.Context) {
	sub, gw, ok := h.owned(c)
	if !ok {
		return
	}
	txn, err := gw.GetInitTransaction(c.Request.Context(), sub)
	respondTransaction(c, "init transaction", txn, err)
}

func respondTransaction(c *gin.Context, what string, txn *transaction.Transaction, err error) {
	switch {
	case err != nil:
		response.FromError(c, "failed to load "+what, err)
	case txn == nil:
		response.NotFound(c, "no "+what)
	default:
		response.Success(c, http.StatusOK, what+" retrieved", txn)
	}
}

func (h *SubscriptionHandler) ListLogs(c *gin.Context) {
	sub, _, ok := h.owned(c)
	if !ok {
		return
	}
	logs, err := h.engine.Logs(c.Request.Context(), sub.ID)
	if err != nil {
		response.FromError(c, "failed to list logs", err)
		return
	}
	response.Success(c, http.StatusOK, "logs retrieved", logs)
}

// Checkout opens the first payment of a NEW subscription.
func (h *SubscriptionHandler) Checkout(c *gin.Context) {
	sub, gw, ok := h.owned(c)
	if !ok {
		return
	}
	inv, err := gw.Checkout(c.Request.Context(), sub)
	if err != nil {
		response.FromError(c, "failed to start checkout", err)
		return
	}
	response.Success(c, http.StatusCreated, "checkout started", h.checkout(c, gw, inv))
}

func (h *SubscriptionHandler) Renew(c *gin.Context) {
	sub, gw, ok := h.owned(c)
	if !ok {
		return
	}
	inv, err := gw.Renew(c.Request.Context(), sub)
	if err != nil {
		response.FromError(c, "failed to renew subscription", err)
		return
	}
	response.Success(c, http.StatusCreated, "renewal started", h.checkout(c, gw, inv))
}

// PreviewChangePlan prices a plan change without starting it.
func (h *SubscriptionHandler) PreviewChangePlan(c *gin.Context) {
	sub, _, ok := h.owned(c)
	if !ok {
		return
	}
	var req subscription.ChangePlanRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "plan_id is required", err)
		return
	}

	p, plan, err := h.engine.PreviewPlanChange(c.Request.Context(), sub.ID, req.PlanID)
	if err != nil {
		response.FromError(c, "cannot change plan", err)
		return
	}
	response.Success(c, http.StatusOK, "plan change priced", subscription.ChangePlanPreview{
		SubscriptionID: sub.ID,
		PlanID:         plan.ID,
		Amount:         p.Amount,
		Currency:       plan.Currency,
		FormattedPrice: subscription.FormatPrice(p.Amount, plan.Currency),
		EndsAt:         p.EndsAt,
	})
}

func (h *SubscriptionHandler) ChangePlan(c *gin.Context) {
	sub, gw, ok := h.owned(c)
	if !ok {
		return
	}
	var req subscription.ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	ctx := c.Request.Context()
	plan, err := h.engine.Plan(ctx, req.PlanID)
	if err != nil {
		response.FromError(c, "plan not found", err)
		return
	}
	inv, err := gw.ChangePlan(ctx, sub, plan)
	if err != nil {
		response.FromError(c, "failed to change plan", err)
		return
	}
	response.Success(c, http.StatusCreated, "plan change started", h.checkout(c, gw, inv))
}

// Sync asks the gateway for the state of the pending payment.
func (h *SubscriptionHandler) Sync(c *gin.Context) {
	sub, gw, ok := h.owned(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := gw.Sync(ctx, sub); err != nil {
		response.FromError(c, "failed to sync subscription", err)
		return
	}
	sub, err := h.engine.Subscription(ctx, sub.ID)
	if err != nil {
		response.FromError(c, "failed to reload subscription", err)
		return
	}
	response.Success(c, http.StatusOK, "subscription synced", h.view(c, sub))
}

func (h *SubscriptionHandler) CancelNow(c *gin.Context) {
	sub, gw, ok := h.owned(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := gw.CancelNow(ctx, sub); err != nil {
		response.FromError(c, "failed to cancel subscription", err)
		return
	}
	sub, err := h.engine.Subscription(ctx, sub.ID)
	if err != nil {
		response.FromError(c, "failed to reload subscription", err)
		return
	}
	response.Success(c, http.StatusOK, "subscription cancelled", h.view(c, sub))
}

// ========== helpers ==========

// owned loads the :id subscription and its gateway. Subscriptions of other
// customers are reported as missing.
func (h *SubscriptionHandler) owned(c *gin.Context) (*subscription.Subscription, gateway.PaymentGateway, bool) {
	customerID := middleware.MustGetCustomerID(c)

	sub, err := h.engine.Subscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, "subscription not found", err)
		return nil, nil, false
	}
	if sub.CustomerID != customerID {
		response.NotFound(c, "subscription not found")
		return nil, nil, false
	}
	gw, err := h.gateways.Get(sub.Gateway)
	if err != nil {
		response.FromError(c, "subscription gateway is not enabled", err)
		return nil, nil, false
	}
	return sub, gw, true
}

func (h *SubscriptionHandler) view(c *gin.Context, sub *subscription.Subscription) *subscription.SubscriptionView {
	ctx := c.Request.Context()
	v := &subscription.SubscriptionView{Subscription: sub}
	if plan, err := h.engine.Plan(ctx, sub.PlanID); err == nil {
		v.PlanName = plan.Name
		v.PlanPrice = plan.BillableFormattedPrice()
	}
	if pending, err := h.engine.HasPending(ctx, sub.ID); err == nil {
		v.HasPending = pending
	}
	if v.HasPending {
		if txn, err := h.engine.PendingTransaction(ctx, sub.ID); err == nil && txn != nil && txn.CheckoutURL != "" {
			v.CheckoutURL = txn.CheckoutURL
		}
	}
	return v
}

func (h *SubscriptionHandler) checkout(c *gin.Context, gw gateway.PaymentGateway, inv *invoice.Invoice) CheckoutResponse {
	out := CheckoutResponse{Invoice: inv}
	if !inv.IsPaid() && inv.Status != invoice.StatusFailed && inv.Metadata.CheckoutURL != "" {
		out.CheckoutURL = gw.GetCheckoutURL(inv, c.Query("return_url"))
	}
	return out
}
