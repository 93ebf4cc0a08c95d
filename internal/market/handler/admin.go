package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clawdlabs/clawd-domains/internal/identity"
	"github.com/clawdlabs/clawd-domains/internal/market/repository"
	"github.com/clawdlabs/clawd-domains/internal/market/service"
)

// AdminHandler exposes the operator reconciliation API: the queue of
// purchases where funds moved but no domain was delivered, and the two ways
// to resolve them.
type AdminHandler struct {
	purchases *service.PurchaseService
	tokens    *identity.AdminTokenIssuer
	logger    *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(purchases *service.PurchaseService, tokens *identity.AdminTokenIssuer, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{purchases: purchases, tokens: tokens, logger: logger}
}

// Register registers the admin routes. Everything except login requires an
// operator token.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	admin := rg.Group("/admin")
	admin.POST("/login", h.Login)

	protected := admin.Group("", h.requireOperator())
	{
		protected.GET("/reconciliation", h.ReconciliationQueue)
		protected.POST("/reconciliation/:id/retry", h.RetryRegistration)
		protected.POST("/reconciliation/:id/refund", h.MarkRefunded)
	}
}

func (h *AdminHandler) requireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "operator token required"})
			return
		}
		claims, err := h.tokens.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid operator token"})
			return
		}
		c.Set("operator_claims", claims)
		c.Next()
	}
}

type adminLoginRequest struct {
	Secret string `json:"secret" binding:"required"`
}

// Login handles POST /admin/login — exchanges the admin secret for a token.
func (h *AdminHandler) Login(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := h.tokens.Exchange(req.Secret)
	if err != nil {
		h.logger.Warn("admin login rejected", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// ReconciliationQueue handles GET /admin/reconciliation.
func (h *AdminHandler) ReconciliationQueue(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	queue, err := h.purchases.ReconciliationQueue(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list reconciliation queue", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": queue, "count": len(queue)})
}

// RetryRegistration handles POST /admin/reconciliation/:id/retry.
func (h *AdminHandler) RetryRegistration(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid purchase id"})
		return
	}

	result, err := h.purchases.RetryRegistration(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPurchaseNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "purchase not found"})
		case errors.Is(err, service.ErrWrongState):
			c.JSON(http.StatusConflict, gin.H{"error": "purchase is not awaiting reconciliation"})
		case errors.Is(err, service.ErrRegistrationFailed):
			c.JSON(http.StatusBadGateway, gin.H{"error": "registration failed again, purchase remains queued"})
		default:
			h.logger.Error("retry registration", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "retry failed"})
		}
		return
	}

	resp := gin.H{"purchase": result.Purchase, "state": result.Purchase.State}
	if result.Record != nil {
		resp["domain"] = result.Record
	}
	c.JSON(http.StatusOK, resp)
}

type refundRequest struct {
	Note string `json:"note" binding:"required"`
}

// MarkRefunded handles POST /admin/reconciliation/:id/refund — records that
// the operator refunded the payer out of band.
func (h *AdminHandler) MarkRefunded(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid purchase id"})
		return
	}
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.purchases.MarkRefunded(c.Request.Context(), id, req.Note); err != nil {
		switch {
		case errors.Is(err, repository.ErrPurchaseNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "purchase not found"})
		case errors.Is(err, service.ErrWrongState):
			c.JSON(http.StatusConflict, gin.H{"error": "purchase is not awaiting reconciliation"})
		default:
			h.logger.Error("mark refunded", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not record refund"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"refunded": true})
}
