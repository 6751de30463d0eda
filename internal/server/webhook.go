package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/smallbiznis/billingcore/internal/webhook/domain"
)

func (s *Server) RegisterWebhookEndpoint(c *gin.Context) {
	var req webhookdomain.RegisterEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	endpoint, err := s.webhookSvc.RegisterEndpoint(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// The secret is returned once, at registration.
	c.JSON(http.StatusCreated, gin.H{"data": endpoint, "secret": endpoint.Secret})
}

func (s *Server) ListWebhookEndpoints(c *gin.Context) {
	endpoints, err := s.webhookSvc.ListEndpoints(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": endpoints})
}

func (s *Server) DisableWebhookEndpoint(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	endpoint, err := s.webhookSvc.DisableEndpoint(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": endpoint})
}

func (s *Server) ListWebhookDeliveries(c *gin.Context) {
	var req webhookdomain.ListDeliveriesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.webhookSvc.ListDeliveries(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Deliveries, "page_info": resp.PageInfo})
}

func (s *Server) GetWebhookDelivery(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	delivery, err := s.webhookSvc.GetDelivery(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": delivery})
}

func (s *Server) RetryWebhookDelivery(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	delivery, err := s.webhookSvc.RetryDelivery(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": delivery})
}
