// internal/app/router.go
package app

import (
	"net/http"

	customerHandler "cashier-service/internal/handlers/customer"
	gatewayHandler "cashier-service/internal/handlers/gateway"
	subscriptionHandler "cashier-service/internal/handlers/subscription"
	planHandler "cashier-service/internal/handlers/subscription_plans"
	"cashier-service/internal/middleware"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	SubscriptionHandler *subscriptionHandler.SubscriptionHandler
	PlanHandler         *planHandler.PlanHandler
	CustomerHandler     *customerHandler.CustomerHandler
	GatewayHandler      *gatewayHandler.GatewayHandler
	AuthMiddleware      *middleware.AuthMiddleware
}

func SetupRouter(r *gin.Engine, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ==================== Public Plan Routes ====================
	plans := api.Group("/plans")
	{
		plans.GET("", h.PlanHandler.ListPlans)
		plans.GET("/:id", h.PlanHandler.GetPlan)
	}

	// ==================== Gateway Routes ====================
	gateways := api.Group("/gateways")
	{
		gateways.GET("", h.GatewayHandler.ListGateways)

		// provider callbacks, authenticated by signature
		gateways.POST("/:name/ipn", h.GatewayHandler.IPN)
		gateways.POST("/:name/webhook", h.GatewayHandler.Webhook)

		// browser redirects
		gateways.GET("/:name/return", h.GatewayHandler.Return)
		gateways.GET("/:name/checkout/:invoice_id", h.GatewayHandler.Checkout)
		gateways.GET("/:name/connect", h.GatewayHandler.Connect)

		gateways.GET("/:name/client-token", h.AuthMiddleware.Auth(), h.GatewayHandler.ClientToken)
	}

	// ==================== Subscription Routes ====================
	subs := api.Group("/subscriptions")
	subs.Use(h.AuthMiddleware.Auth())
	{
		subs.POST("", h.SubscriptionHandler.CreateSubscription)
		subs.GET("/current", h.SubscriptionHandler.GetCurrentSubscription)
		subs.GET("/:id", h.SubscriptionHandler.GetSubscription)
		subs.GET("/:id/transactions", h.SubscriptionHandler.ListTransactions)
		subs.GET("/:id/transactions/last", h.SubscriptionHandler.GetLastTransaction)
		subs.GET("/:id/transactions/init", h.SubscriptionHandler.GetInitTransaction)
		subs.GET("/:id/logs", h.SubscriptionHandler.ListLogs)
		subs.POST("/:id/checkout", h.SubscriptionHandler.Checkout)
		subs.POST("/:id/renew", h.SubscriptionHandler.Renew)
		subs.GET("/:id/change-plan", h.SubscriptionHandler.PreviewChangePlan)
		subs.POST("/:id/change-plan", h.SubscriptionHandler.ChangePlan)
		subs.POST("/:id/sync", h.SubscriptionHandler.Sync)
		subs.POST("/:id/cancel-now", h.SubscriptionHandler.CancelNow)
	}

	// ==================== Customer Routes ====================
	customers := api.Group("/customers/me")
	customers.Use(h.AuthMiddleware.Auth())
	{
		customers.GET("/card", h.CustomerHandler.GetCard)
		customers.PUT("/card", h.CustomerHandler.UpdateCard)
	}
}
