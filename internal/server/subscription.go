package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/billingcore/internal/billing/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
)

type changePlanRequest struct {
	PlanID   snowflake.ID `json:"plan_id"`
	Quantity int64        `json:"quantity"`
}

type paymentMethodRequest struct {
	PaymentMethodRef string `json:"payment_method_ref"`
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req subscriptiondomain.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sub, err := s.subscriptionSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": sub})
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	var req subscriptiondomain.ListSubscriptionRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Subscriptions, "page_info": resp.PageInfo})
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) ChangeSubscriptionPlan(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.billingSvc.ChangePlan(c.Request.Context(), billingdomain.ChangePlanRequest{
		SubscriptionID: id,
		PlanID:         req.PlanID,
		Quantity:       req.Quantity,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// CancelSubscription cancels immediately unless ?at_period_end=true, which
// keeps the subscription running until the current period closes.
func (s *Server) CancelSubscription(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	atPeriodEnd, err := parseOptionalBool(c.Query("at_period_end"))
	if err != nil {
		AbortWithError(c, newValidationError("at_period_end", "invalid_bool", "at_period_end must be a boolean"))
		return
	}

	sub, err := s.subscriptionSvc.Cancel(c.Request.Context(), id, atPeriodEnd != nil && *atPeriodEnd)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) ResumeSubscription(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.Resume(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) UpdatePaymentMethod(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req paymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	if err := s.paymentSvc.UpdatePaymentMethod(ctx, id, req.PaymentMethodRef); err != nil {
		AbortWithError(c, err)
		return
	}

	sub, err := s.subscriptionSvc.GetByID(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) RolloverSubscription(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := s.billingSvc.RolloverCycle(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
