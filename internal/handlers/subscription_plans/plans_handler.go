// internal/handlers/subscription_plans/plans_handler.go
package subscription_plans

import (
	"context"
	"net/http"

	"cashier-service/internal/domain/subscription"
	"cashier-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type PlanLister interface {
	ListPlans(ctx context.Context) ([]*subscription.Plan, error)
	GetPlan(ctx context.Context, id string) (*subscription.Plan, error)
}

type PlanHandler struct {
	plans PlanLister
}

func NewPlanHandler(plans PlanLister) *PlanHandler {
	return &PlanHandler{plans: plans}
}

// ListPlans returns the active plans, cheapest first.
func (h *PlanHandler) ListPlans(c *gin.Context) {
	plans, err := h.plans.ListPlans(c.Request.Context())
	if err != nil {
		response.FromError(c, "failed to list plans", err)
		return
	}
	response.Success(c, http.StatusOK, "plans retrieved", plans)
}

func (h *PlanHandler) GetPlan(c *gin.Context) {
	plan, err := h.plans.GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, "plan not found", err)
		return
	}
	response.Success(c, http.StatusOK, "plan retrieved", plan)
}
