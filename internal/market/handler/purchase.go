// Package handler is the HTTP surface of the domain market: search,
// purchase lifecycle with the 402 payment flow, domain management and the
// operator reconciliation API.
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clawdlabs/clawd-domains/internal/market/repository"
	"github.com/clawdlabs/clawd-domains/internal/market/service"
	"github.com/clawdlabs/clawd-domains/internal/payment"
	"github.com/clawdlabs/clawd-domains/internal/relayer"
)

// PaymentHeader carries the payer's base64 payment payload.
const PaymentHeader = "X-Payment"

// PurchaseHandler handles search and the purchase lifecycle endpoints.
type PurchaseHandler struct {
	purchases *service.PurchaseService
	search    *service.SearchService
	logger    *zap.Logger
}

// NewPurchaseHandler creates a PurchaseHandler.
func NewPurchaseHandler(purchases *service.PurchaseService, search *service.SearchService, logger *zap.Logger) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases, search: search, logger: logger}
}

// Register registers the public market routes. searchLimit and
// purchaseLimit are per-IP requests per minute.
func (h *PurchaseHandler) Register(rg *gin.RouterGroup, searchLimit, purchaseLimit int) {
	rg.POST("/search", RateLimiter(searchLimit, searchLimit), h.Search)

	purchase := rg.Group("/purchase", RateLimiter(purchaseLimit, purchaseLimit))
	{
		purchase.POST("/initiate", h.Initiate)
		purchase.GET("/pay/:id", h.Pay)
		purchase.GET("/:id", h.Status)
	}
}

type searchRequest struct {
	Query string   `json:"query" binding:"required"`
	TLDs  []string `json:"tlds"`
}

// Search handles POST /search — availability and pricing across TLDs.
func (h *PurchaseHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := h.search.Search(c.Request.Context(), req.Query, req.TLDs)
	if err != nil {
		if errors.Is(err, service.ErrInvalidDomain) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid search query"})
			return
		}
		h.logger.Error("search failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": req.Query, "results": results})
}

type initiateRequest struct {
	Domain string `json:"domain" binding:"required"`
	Years  int    `json:"years"`
}

// Initiate handles POST /purchase/initiate — creates the purchase and
// points the client at the payment endpoint.
func (h *PurchaseHandler) Initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.purchases.CreatePurchase(c.Request.Context(), req.Domain, req.Years)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidDomain):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid domain name"})
		case errors.Is(err, service.ErrDomainUnavailable):
			c.JSON(http.StatusConflict, gin.H{"error": "domain is not available"})
		default:
			h.logger.Error("create purchase", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create purchase"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"purchase":    p,
		"amount_usdc": p.AmountUSDC(),
		"payment_url": fmt.Sprintf("/purchase/pay/%s", p.ID),
	})
}

// Pay handles GET /purchase/pay/:id — the 402 flow. Without an X-Payment
// header the response is 402 with the payment requirements; with one, the
// payload is verified and settled and the final purchase state returned.
func (h *PurchaseHandler) Pay(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid purchase id"})
		return
	}
	ctx := c.Request.Context()

	header := strings.TrimSpace(c.GetHeader(PaymentHeader))
	if header == "" {
		h.issueChallenge(c, id)
		return
	}

	payload, err := payment.DecodePayload(header)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payment payload"})
		return
	}

	result, err := h.purchases.SubmitAuthorization(ctx, id, payload)
	if err != nil {
		h.renderSubmitError(c, id, result, err)
		return
	}

	resp := gin.H{
		"purchase": result.Purchase,
		"state":    result.Purchase.State,
	}
	if result.Record != nil {
		resp["domain"] = result.Record
	}
	c.JSON(http.StatusOK, resp)
}

func (h *PurchaseHandler) issueChallenge(c *gin.Context, id uuid.UUID) {
	req, err := h.purchases.IssueChallenge(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPurchaseNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "purchase not found"})
		case errors.Is(err, service.ErrPurchaseExpired):
			c.JSON(http.StatusGone, gin.H{"error": "purchase expired, start a new one"})
		case errors.Is(err, service.ErrWrongState):
			c.JSON(http.StatusConflict, gin.H{"error": "purchase is past the payment stage"})
		default:
			h.logger.Error("issue challenge", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue payment challenge"})
		}
		return
	}

	recordChallengeIssued()
	c.Header("WWW-Authenticate",
		fmt.Sprintf(`X-Payment scheme=%q, network=%q, amount=%q, recipient=%q, nonce=%q`,
			req.Scheme, req.Network, req.Amount, req.Recipient, req.Nonce))
	c.JSON(http.StatusPaymentRequired, gin.H{
		"error":   "payment required",
		"accepts": []*payment.Requirements{req},
	})
}

// renderSubmitError maps orchestrator failures to HTTP statuses. Sub-reasons
// stay in the logs; clients see sanitized, uniform messages.
func (h *PurchaseHandler) renderSubmitError(c *gin.Context, id uuid.UUID, result *service.SubmitResult, err error) {
	var invalid *payment.InvalidAuthorizationError
	switch {
	case errors.Is(err, repository.ErrPurchaseNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "purchase not found"})
	case errors.As(err, &invalid):
		h.logger.Warn("authorization rejected",
			zap.String("purchase_id", id.String()),
			zap.String("reason", invalid.Reason))
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment authorization rejected"})
	case errors.Is(err, service.ErrPurchaseExpired):
		c.JSON(http.StatusGone, gin.H{"error": "purchase expired, start a new one"})
	case errors.Is(err, relayer.ErrUnderfunded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "settlement temporarily unavailable, please retry shortly"})
	case errors.Is(err, relayer.ErrPayerUnderfunded):
		// Nothing was submitted; the challenge is still open for a retry.
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet balance cannot cover the payment amount"})
	case errors.Is(err, service.ErrSettlementFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrRegistrationFailed):
		resp := gin.H{
			"error":   "registration is pending manual resolution; your payment is recorded and will be honored or refunded",
			"support": "contact support with your purchase id",
		}
		if result != nil && result.Purchase != nil {
			resp["purchase_id"] = result.Purchase.ID
			resp["tx_hash"] = result.Purchase.TxHash
		}
		c.JSON(http.StatusBadGateway, resp)
	case errors.Is(err, service.ErrWrongState):
		c.JSON(http.StatusConflict, gin.H{"error": "purchase is not payable in its current state"})
	default:
		h.logger.Error("submit authorization", zap.String("purchase_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment processing failed"})
	}
}

// Status handles GET /purchase/:id — current purchase state.
func (h *PurchaseHandler) Status(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid purchase id"})
		return
	}

	p, err := h.purchases.GetPurchase(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrPurchaseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "purchase not found"})
			return
		}
		h.logger.Error("get purchase", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load purchase"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchase": p, "state": p.State})
}
