package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/billingcore/internal/ledger/domain"
)

type balanceQuery struct {
	CustomerID snowflake.ID `form:"customer_id"`
	Currency   string       `form:"currency"`
}

func (s *Server) IssueCredit(c *gin.Context) {
	var req ledgerdomain.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if key := strings.TrimSpace(c.GetHeader("Idempotency-Key")); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	adjustment, err := s.ledgerSvc.IssueCredit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": adjustment})
}

func (s *Server) GetCreditBalance(c *gin.Context) {
	var q balanceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	balance, err := s.ledgerSvc.Balance(c.Request.Context(), q.CustomerID, q.Currency)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"customer_id": q.CustomerID,
		"currency":    strings.ToUpper(strings.TrimSpace(q.Currency)),
		"balance":     balance,
	}})
}

func (s *Server) ListCreditAdjustments(c *gin.Context) {
	var req ledgerdomain.ListAdjustmentsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.ListAdjustments(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Adjustments, "page_info": resp.PageInfo})
}
