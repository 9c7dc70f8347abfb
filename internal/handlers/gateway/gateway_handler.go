// internal/handlers/gateway/gateway_handler.go
package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"cashier-service/internal/domain/invoice"
	"cashier-service/internal/gateway"
	"cashier-service/internal/gateway/coinpayments"
	"cashier-service/internal/pkg/response"
	"cashier-service/internal/service/cashier"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxCallbackBody = 1 << 20

// Callbacks a gateway may accept. A gateway that does not implement one
// answers 404 on the matching route.
type (
	ipnReceiver interface {
		HandleIPN(ctx context.Context, signature string, body []byte) error
	}
	webhookReceiver interface {
		HandleWebhook(ctx context.Context, payload []byte, signature string) error
	}
	returnReceiver interface {
		HandleReturn(ctx context.Context, invoiceID string) (*invoice.Invoice, error)
	}
	clientTokener interface {
		ClientToken(ctx context.Context) (string, error)
	}
)

type GatewayHandler struct {
	engine   *cashier.Engine
	gateways *gateway.Registry
	logger   *zap.Logger
	baseURL  string
}

func NewGatewayHandler(engine *cashier.Engine, gateways *gateway.Registry, logger *zap.Logger, baseURL string) *GatewayHandler {
	return &GatewayHandler{
		engine:   engine,
		gateways: gateways,
		logger:   logger,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

type GatewayInfo struct {
	Name         string               `json:"name"`
	Capabilities gateway.Capabilities `json:"capabilities"`
}

// ListGateways returns the enabled gateways and what they support.
func (h *GatewayHandler) ListGateways(c *gin.Context) {
	out := make([]GatewayInfo, 0)
	for _, g := range h.gateways.All() {
		out = append(out, GatewayInfo{Name: g.Name(), Capabilities: g.Capabilities()})
	}
	response.Success(c, http.StatusOK, "gateways retrieved", out)
}

// IPN accepts an instant payment notification signed in the HMAC header.
func (h *GatewayHandler) IPN(c *gin.Context) {
	gw, ok := h.lookup(c)
	if !ok {
		return
	}
	receiver, ok := gw.(ipnReceiver)
	if !ok {
		response.NotFound(c, gw.Name()+" does not accept ipn")
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "failed to read body", err)
		return
	}

	if err := receiver.HandleIPN(c.Request.Context(), c.GetHeader("HMAC"), body); err != nil {
		h.logger.Warn("ipn failed", zap.String("gateway", gw.Name()), zap.Error(err))
		if errors.Is(err, coinpayments.ErrInvalidIPN) {
			response.Error(c, http.StatusBadRequest, "invalid ipn", err)
			return
		}
		response.FromError(c, "failed to process ipn", err)
		return
	}
	c.String(http.StatusOK, "IPN OK")
}

func (h *GatewayHandler) Webhook(c *gin.Context) {
	gw, ok := h.lookup(c)
	if !ok {
		return
	}
	receiver, ok := gw.(webhookReceiver)
	if !ok {
		response.NotFound(c, gw.Name()+" does not accept webhooks")
		return
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "failed to read body", err)
		return
	}

	if err := receiver.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		h.logger.Warn("webhook failed", zap.String("gateway", gw.Name()), zap.Error(err))
		response.FromError(c, "failed to process webhook", err)
		return
	}
	response.Success(c, http.StatusOK, "webhook processed", nil)
}

// Return handles the payer coming back from a hosted payment page.
func (h *GatewayHandler) Return(c *gin.Context) {
	gw, ok := h.lookup(c)
	if !ok {
		return
	}
	receiver, ok := gw.(returnReceiver)
	if !ok {
		response.NotFound(c, gw.Name()+" has no return page")
		return
	}
	invoiceID := c.Query("invoice_id")
	if invoiceID == "" {
		response.Error(c, http.StatusBadRequest, "invoice_id is required", nil)
		return
	}

	inv, err := receiver.HandleReturn(c.Request.Context(), invoiceID)
	if err != nil {
		response.FromError(c, "failed to confirm payment", err)
		return
	}
	response.Success(c, http.StatusOK, "payment "+string(inv.Status), inv)
}

// ClientToken hands the drop-in UI a token for vaulting a card.
func (h *GatewayHandler) ClientToken(c *gin.Context) {
	gw, ok := h.lookup(c)
	if !ok {
		return
	}
	tokener, ok := gw.(clientTokener)
	if !ok {
		response.NotFound(c, gw.Name()+" does not issue client tokens")
		return
	}
	token, err := tokener.ClientToken(c.Request.Context())
	if err != nil {
		response.FromError(c, "failed to create client token", err)
		return
	}
	response.Success(c, http.StatusOK, "client token created", gin.H{"client_token": token})
}

// Checkout redirects to the provider page for an open invoice, or back to
// return_url once there is nothing left to pay.
func (h *GatewayHandler) Checkout(c *gin.Context) {
	gw, ok := h.lookup(c)
	if !ok {
		return
	}
	inv, err := h.engine.Invoice(c.Request.Context(), c.Param("invoice_id"))
	if err != nil {
		response.FromError(c, "invoice not found", err)
		return
	}
	sub, err := h.engine.Subscription(c.Request.Context(), inv.SubscriptionID)
	if err != nil || sub.Gateway != gw.Name() {
		response.NotFound(c, "invoice not found")
		return
	}

	if inv.Status == invoice.StatusNew && inv.Metadata.CheckoutURL != "" {
		c.Redirect(http.StatusFound, inv.Metadata.CheckoutURL)
		return
	}
	if target := h.returnURL(c); target != "" {
		c.Redirect(http.StatusFound, target)
		return
	}
	response.Success(c, http.StatusOK, "invoice "+string(inv.Status), inv)
}

// Connect is where a customer sets up a gateway. Gateways without a card on
// file need no setup and send the customer straight back.
func (h *GatewayHandler) Connect(c *gin.Context) {
	gw, ok := h.lookup(c)
	if !ok {
		return
	}
	if !gw.Capabilities().CardOnFile {
		if target := h.returnURL(c); target != "" {
			c.Redirect(http.StatusFound, target)
			return
		}
	}
	response.Success(c, http.StatusOK, "gateway connect", gin.H{
		"gateway":      gw.Name(),
		"capabilities": gw.Capabilities(),
		"card_url":     h.baseURL + "/api/v1/customers/me/card",
		"return_url":   h.returnURL(c),
	})
}

func (h *GatewayHandler) lookup(c *gin.Context) (gateway.PaymentGateway, bool) {
	gw, err := h.gateways.Get(c.Param("name"))
	if err != nil {
		response.NotFound(c, "unknown gateway")
		return nil, false
	}
	return gw, true
}

// returnURL accepts only local paths and links back into this service.
// Browsers read a backslash as a slash and drop control characters, so a
// target holding either is refused before it is parsed.
func (h *GatewayHandler) returnURL(c *gin.Context) string {
	target := c.Query("return_url")
	if target == "" || strings.ContainsRune(target, '\\') || strings.IndexFunc(target, unicode.IsControl) >= 0 {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	if u.Scheme == "" && u.Host == "" && u.Opaque == "" && u.User == nil {
		if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") {
			return target
		}
		return ""
	}
	if h.baseURL == "" || !strings.HasPrefix(target, h.baseURL+"/") {
		return ""
	}
	base, err := url.Parse(h.baseURL)
	if err != nil || u.Scheme != base.Scheme || u.Host != base.Host || u.User != nil {
		return ""
	}
	return target
}
