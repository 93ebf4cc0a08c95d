// Package client is the Go SDK for the Clawd Domains API: domain search,
// the 402 purchase flow, and post-registration domain management.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ErrPaymentRequired is returned by GetChallenge's underlying call when the
// server answers 402; callers normally never see it because the challenge
// body is parsed and returned.
var ErrPaymentRequired = errors.New("payment required")

// ErrNotPermitted is returned for ownership-gated operations the wallet may
// not perform.
var ErrNotPermitted = errors.New("not permitted")

// SearchResult is one domain's availability and pricing.
type SearchResult struct {
	Domain         string `json:"domain"`
	Available      bool   `json:"available"`
	Premium        bool   `json:"premium"`
	FirstYearPrice string `json:"first_year_price_usdc,omitempty"`
	RenewalPrice   string `json:"renewal_price_usdc,omitempty"`
}

// Purchase mirrors the server's purchase record.
type Purchase struct {
	ID          string    `json:"id"`
	Domain      string    `json:"domain"`
	Years       int       `json:"years"`
	AmountMicro int64     `json:"amount_micro"`
	Recipient   string    `json:"recipient"`
	Nonce       string    `json:"nonce"`
	ValidAfter  time.Time `json:"valid_after"`
	ValidBefore time.Time `json:"valid_before"`
	State       string    `json:"state"`
	Payer       string    `json:"payer,omitempty"`
	TxHash      string    `json:"tx_hash,omitempty"`
}

// Challenge is the payment requirement returned with a 402.
type Challenge struct {
	Scheme      string    `json:"scheme"`
	Network     string    `json:"network"`
	Asset       string    `json:"asset"`
	Amount      string    `json:"amount"`
	AmountMicro int64     `json:"amount_micro"`
	Recipient   string    `json:"recipient"`
	Nonce       string    `json:"nonce"`
	ValidAfter  time.Time `json:"valid_after"`
	ValidBefore time.Time `json:"valid_before"`
	Description string    `json:"description,omitempty"`
}

// DomainRecord is an ownership ledger row.
type DomainRecord struct {
	Domain       string    `json:"domain"`
	OwnerWallet  string    `json:"owner_wallet"`
	PurchaseID   string    `json:"purchase_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	Nameservers  []string  `json:"nameservers"`
	RegisteredAt time.Time `json:"registered_at"`
}

// DNSRecord is a zone record at the registrar.
type DNSRecord struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
}

// PayResult is the outcome of submitting a payment.
type PayResult struct {
	Purchase *Purchase     `json:"purchase"`
	State    string        `json:"state"`
	Domain   *DomainRecord `json:"domain,omitempty"`
}

// Client is the SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu         sync.Mutex
	adminToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// WithAdminToken attaches a pre-obtained operator token to admin requests.
func WithAdminToken(token string) Option {
	return func(c *Client) error {
		c.adminToken = token
		return nil
	}
}

// New creates a Client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Search checks availability and pricing of query across TLDs. An empty
// tlds slice uses the server defaults.
func (c *Client) Search(ctx context.Context, query string, tlds []string) ([]SearchResult, error) {
	var out struct {
		Results []SearchResult `json:"results"`
	}
	err := c.postJSON(ctx, "/api/v1/search", map[string]any{"query": query, "tlds": tlds}, &out)
	if err != nil {
		return nil, err
	}
	return out.Results, nil
}

// InitiatePurchase creates a purchase intent and returns it.
func (c *Client) InitiatePurchase(ctx context.Context, domain string, years int) (*Purchase, error) {
	var out struct {
		Purchase *Purchase `json:"purchase"`
	}
	err := c.postJSON(ctx, "/api/v1/purchase/initiate", map[string]any{"domain": domain, "years": years}, &out)
	if err != nil {
		return nil, err
	}
	return out.Purchase, nil
}

// GetChallenge fetches the payment requirements for a purchase. The server
// answers 402; the challenge body is parsed out of it.
func (c *Client) GetChallenge(ctx context.Context, purchaseID string) (*Challenge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/purchase/pay/"+url.PathEscape(purchaseID), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	status, body, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusPaymentRequired {
		return nil, fmt.Errorf("expected 402 challenge, got %d: %s", status, string(body))
	}

	var out struct {
		Accepts []*Challenge `json:"accepts"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse challenge: %w", err)
	}
	if len(out.Accepts) == 0 {
		return nil, fmt.Errorf("challenge response carried no payment requirements")
	}
	return out.Accepts[0], nil
}

// Pay submits a base64 payment payload (as produced by a wallet-side
// signer) for a purchase and returns the resulting state.
func (c *Client) Pay(ctx context.Context, purchaseID, paymentPayload string) (*PayResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/purchase/pay/"+url.PathEscape(purchaseID), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Payment", paymentPayload)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var out PayResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse payment result: %w", err)
	}
	return &out, nil
}

// PurchaseStatus returns the current state of a purchase.
func (c *Client) PurchaseStatus(ctx context.Context, purchaseID string) (*Purchase, error) {
	var out struct {
		Purchase *Purchase `json:"purchase"`
	}
	err := c.getJSON(ctx, "/api/v1/purchase/"+url.PathEscape(purchaseID), &out)
	if err != nil {
		return nil, err
	}
	return out.Purchase, nil
}

// ListDomains returns the domains owned by a wallet.
func (c *Client) ListDomains(ctx context.Context, wallet string) ([]DomainRecord, error) {
	var out struct {
		Domains []DomainRecord `json:"domains"`
	}
	err := c.getJSON(ctx, "/api/v1/wallets/"+url.PathEscape(wallet)+"/domains", &out)
	if err != nil {
		return nil, err
	}
	return out.Domains, nil
}

// ListDNSRecords returns the zone records for an owned domain.
func (c *Client) ListDNSRecords(ctx context.Context, domain, wallet string) ([]DNSRecord, error) {
	var out struct {
		Records []DNSRecord `json:"records"`
	}
	path := "/api/v1/domains/" + url.PathEscape(domain) + "/dns?wallet=" + url.QueryEscape(wallet)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// CreateDNSRecord adds a zone record and returns its registrar id.
func (c *Client) CreateDNSRecord(ctx context.Context, domain, wallet string, rec DNSRecord) (string, error) {
	var out struct {
		RecordID string `json:"record_id"`
	}
	err := c.postJSON(ctx, "/api/v1/domains/"+url.PathEscape(domain)+"/dns", map[string]any{
		"wallet":  wallet,
		"type":    rec.Type,
		"name":    rec.Name,
		"content": rec.Content,
		"ttl":     rec.TTL,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.RecordID, nil
}

// DeleteDNSRecord removes a zone record.
func (c *Client) DeleteDNSRecord(ctx context.Context, domain, wallet, recordID string) error {
	path := c.baseURL + "/api/v1/domains/" + url.PathEscape(domain) + "/dns/" +
		url.PathEscape(recordID) + "?wallet=" + url.QueryEscape(wallet)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	_, err = c.do(req)
	return err
}

// UpdateNameservers points an owned domain at new nameservers.
func (c *Client) UpdateNameservers(ctx context.Context, domain, wallet string, nameservers []string) error {
	body, err := json.Marshal(map[string]any{"wallet": wallet, "nameservers": nameservers})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/api/v1/domains/"+url.PathEscape(domain)+"/nameservers", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	_, err = c.do(req)
	return err
}

// AdminLogin exchanges the admin secret for an operator token and attaches
// it to subsequent admin requests.
func (c *Client) AdminLogin(ctx context.Context, secret string) error {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.postJSON(ctx, "/api/v1/admin/login", map[string]any{"secret": secret}, &out); err != nil {
		return err
	}
	c.mu.Lock()
	c.adminToken = out.Token
	c.mu.Unlock()
	return nil
}

// ReconciliationQueue lists purchases awaiting operator resolution.
func (c *Client) ReconciliationQueue(ctx context.Context) ([]Purchase, error) {
	var out struct {
		Purchases []Purchase `json:"purchases"`
	}
	if err := c.getJSON(ctx, "/api/v1/admin/reconciliation", &out); err != nil {
		return nil, err
	}
	return out.Purchases, nil
}

// RetryRegistration re-runs the registrar step for a reconciliation-queued
// purchase.
func (c *Client) RetryRegistration(ctx context.Context, purchaseID string) (*PayResult, error) {
	var out PayResult
	err := c.postJSON(ctx, "/api/v1/admin/reconciliation/"+url.PathEscape(purchaseID)+"/retry", nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// do executes an HTTP request, attaching the operator token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	c.mu.Lock()
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return body, ErrPaymentRequired
	case resp.StatusCode == http.StatusForbidden:
		return nil, ErrNotPermitted
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("not found: %s", req.URL.Path)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// doStatusBody is a lower-level HTTP call that returns (statusCode, body,
// error) without failing on 4xx responses. The caller interprets the status.
func (c *Client) doStatusBody(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
