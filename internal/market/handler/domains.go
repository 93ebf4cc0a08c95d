package handler

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clawdlabs/clawd-domains/internal/market/service"
	"github.com/clawdlabs/clawd-domains/internal/registrar"
)

var walletRe = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// DomainHandler handles post-registration domain management. Every mutating
// route is gated by the ownership ledger; failures are a uniform 403 so the
// ledger cannot be enumerated.
type DomainHandler struct {
	domains *service.DomainService
	logger  *zap.Logger
}

// NewDomainHandler creates a DomainHandler.
func NewDomainHandler(domains *service.DomainService, logger *zap.Logger) *DomainHandler {
	return &DomainHandler{domains: domains, logger: logger}
}

// Register registers the domain management routes. dnsLimit is per-IP
// requests per minute for the DNS surface.
func (h *DomainHandler) Register(rg *gin.RouterGroup, dnsLimit int) {
	rg.GET("/wallets/:wallet/domains", h.ListOwned)

	domains := rg.Group("/domains/:domain", RateLimiter(dnsLimit, dnsLimit))
	{
		domains.GET("/dns", h.ListDNS)
		domains.POST("/dns", h.CreateDNS)
		domains.DELETE("/dns/:recordId", h.DeleteDNS)
		domains.PUT("/nameservers", h.UpdateNameservers)
		domains.GET("/auth-code", h.AuthCode)
	}
}

func validWallet(c *gin.Context, wallet string) bool {
	if !walletRe.MatchString(wallet) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet address"})
		return false
	}
	return true
}

// renderDomainError maps domain-management failures to HTTP statuses.
func (h *DomainHandler) renderDomainError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrNotPermitted):
		c.JSON(http.StatusForbidden, gin.H{"error": "not permitted"})
	case errors.Is(err, service.ErrInvalidDomain):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, registrar.ErrManualStep):
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
	default:
		h.logger.Error(op, zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "registrar operation failed"})
	}
}

// ListOwned handles GET /wallets/:wallet/domains.
func (h *DomainHandler) ListOwned(c *gin.Context) {
	wallet := c.Param("wallet")
	if !validWallet(c, wallet) {
		return
	}
	records, err := h.domains.ListOwned(c.Request.Context(), wallet)
	if err != nil {
		h.logger.Error("list domains", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list domains"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"domains": records})
}

// ListDNS handles GET /domains/:domain/dns?wallet=0x...
func (h *DomainHandler) ListDNS(c *gin.Context) {
	wallet := c.Query("wallet")
	if !validWallet(c, wallet) {
		return
	}
	records, err := h.domains.ListDNSRecords(c.Request.Context(), c.Param("domain"), wallet)
	if err != nil {
		h.renderDomainError(c, "list dns records", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

type dnsCreateRequest struct {
	Wallet  string `json:"wallet" binding:"required"`
	Type    string `json:"type" binding:"required"`
	Name    string `json:"name"`
	Content string `json:"content" binding:"required"`
	TTL     int    `json:"ttl"`
}

// CreateDNS handles POST /domains/:domain/dns.
func (h *DomainHandler) CreateDNS(c *gin.Context) {
	var req dnsCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validWallet(c, req.Wallet) {
		return
	}

	id, err := h.domains.CreateDNSRecord(c.Request.Context(), c.Param("domain"), req.Wallet, registrar.DNSRecord{
		Type:    req.Type,
		Name:    req.Name,
		Content: req.Content,
		TTL:     req.TTL,
	})
	if err != nil {
		h.renderDomainError(c, "create dns record", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"record_id": id})
}

// DeleteDNS handles DELETE /domains/:domain/dns/:recordId?wallet=0x...
func (h *DomainHandler) DeleteDNS(c *gin.Context) {
	wallet := c.Query("wallet")
	if !validWallet(c, wallet) {
		return
	}
	err := h.domains.DeleteDNSRecord(c.Request.Context(), c.Param("domain"), wallet, c.Param("recordId"))
	if err != nil {
		h.renderDomainError(c, "delete dns record", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type nameserverRequest struct {
	Wallet      string   `json:"wallet" binding:"required"`
	Nameservers []string `json:"nameservers" binding:"required"`
}

// UpdateNameservers handles PUT /domains/:domain/nameservers.
func (h *DomainHandler) UpdateNameservers(c *gin.Context) {
	var req nameserverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validWallet(c, req.Wallet) {
		return
	}
	err := h.domains.UpdateNameservers(c.Request.Context(), c.Param("domain"), req.Wallet, req.Nameservers)
	if err != nil {
		h.renderDomainError(c, "update nameservers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// AuthCode handles GET /domains/:domain/auth-code?wallet=0x...
func (h *DomainHandler) AuthCode(c *gin.Context) {
	wallet := c.Query("wallet")
	if !validWallet(c, wallet) {
		return
	}
	code, err := h.domains.AuthCode(c.Request.Context(), c.Param("domain"), wallet)
	if err != nil {
		h.renderDomainError(c, "get auth code", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auth_code": code})
}
