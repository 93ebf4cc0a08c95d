package mcpbridge

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/clawdlabs/clawd-domains/internal/payment"
	"github.com/clawdlabs/clawd-domains/pkg/client"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
)

// ToolDefinition is the MCP tool descriptor sent in tools/list responses.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func ok(text string) (string, bool)   { return text, false }
func fail(text string) (string, bool) { return text, true }
func failf(format string, a ...any) (string, bool) {
	return fmt.Sprintf(format, a...), true
}

// ToolRegistry holds the broker client, an optional payer wallet, and the
// definitions/handlers for all tools.
type ToolRegistry struct {
	c      *client.Client
	wallet *secp256k1.KeyPair // nil = search/status only, buying disabled
	defs   []ToolDefinition
}

// NewToolRegistry creates a ToolRegistry backed by the given broker client.
// walletKeyHex, when non-empty, is the payer's private key; it enables the
// buy_domain tool to sign and settle payments without leaving the bridge.
func NewToolRegistry(c *client.Client, walletKeyHex string) (*ToolRegistry, error) {
	r := &ToolRegistry{c: c}
	if walletKeyHex != "" {
		raw, err := hex.DecodeString(strings.TrimPrefix(walletKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("decode wallet key: %w", err)
		}
		kp, err := secp256k1.NewSecp256k1KeyPair(raw)
		if err != nil {
			return nil, fmt.Errorf("load wallet key: %w", err)
		}
		r.wallet = kp
	}
	r.defs = []ToolDefinition{
		{
			Name: "search_domains",
			Description: "Check availability and USDC pricing of a domain name across TLDs. " +
				"Use this first to find out what a domain costs before buying it.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The name to search for, without a TLD, e.g. myproject",
					},
					"tlds": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "TLDs to check (e.g. [\"com\",\"dev\"]). Empty uses the broker's defaults.",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name: "buy_domain",
			Description: "Buy a domain, paying in USDC on Base. Creates the purchase, signs the " +
				"payment authorization with the bridge's wallet, and settles it end to end. " +
				"Requires the bridge to be running with --wallet-key. " +
				"This spends real funds; confirm price with search_domains first.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"domain": map[string]any{
						"type":        "string",
						"description": "Full domain to buy, e.g. myproject.com",
					},
					"years": map[string]any{
						"type":        "integer",
						"description": "Registration period in years (1-10). Defaults to 1.",
					},
				},
				"required": []string{"domain"},
			},
		},
		{
			Name: "get_purchase",
			Description: "Look up a purchase by id and report its current state " +
				"(created, challenged, authorized, settling, settled, registered, or a failure state).",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"purchase_id": map[string]any{
						"type":        "string",
						"description": "The purchase id returned by buy_domain",
					},
				},
				"required": []string{"purchase_id"},
			},
		},
		{
			Name: "list_domains",
			Description: "List the domains owned by a wallet address, with expiry dates and nameservers.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"wallet": map[string]any{
						"type":        "string",
						"description": "0x wallet address. Defaults to the bridge's own wallet when configured.",
					},
				},
			},
		},
		{
			Name: "list_dns_records",
			Description: "List the DNS records of a domain owned by the wallet.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"domain": map[string]any{
						"type":        "string",
						"description": "The owned domain, e.g. myproject.com",
					},
					"wallet": map[string]any{
						"type":        "string",
						"description": "Owning 0x wallet address. Defaults to the bridge's own wallet.",
					},
				},
				"required": []string{"domain"},
			},
		},
		{
			Name: "create_dns_record",
			Description: "Create a DNS record on a domain owned by the wallet, e.g. point an A record " +
				"at a server or add a TXT record for verification.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"domain": map[string]any{
						"type":        "string",
						"description": "The owned domain",
					},
					"type": map[string]any{
						"type":        "string",
						"description": "Record type",
						"enum":        []string{"A", "AAAA", "CNAME", "TXT", "MX", "NS", "SRV"},
					},
					"name": map[string]any{
						"type":        "string",
						"description": "Record name (subdomain). Empty for the apex.",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Record content, e.g. an IP address",
					},
					"ttl": map[string]any{
						"type":        "integer",
						"description": "TTL in seconds. Defaults to 600.",
					},
					"wallet": map[string]any{
						"type":        "string",
						"description": "Owning 0x wallet address. Defaults to the bridge's own wallet.",
					},
				},
				"required": []string{"domain", "type", "content"},
			},
		},
	}
	return r, nil
}

// Definitions returns the list of tool definitions for tools/list responses.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	return r.defs
}

// Call dispatches a tool call by name and returns (output text, isError).
func (r *ToolRegistry) Call(ctx context.Context, name string, args json.RawMessage) (string, bool) {
	switch name {
	case "search_domains":
		return r.searchDomains(ctx, args)
	case "buy_domain":
		return r.buyDomain(ctx, args)
	case "get_purchase":
		return r.getPurchase(ctx, args)
	case "list_domains":
		return r.listDomains(ctx, args)
	case "list_dns_records":
		return r.listDNSRecords(ctx, args)
	case "create_dns_record":
		return r.createDNSRecord(ctx, args)
	default:
		return failf("unknown tool: %q", name)
	}
}

// ── tool handlers ────────────────────────────────────────────────────────────

func (r *ToolRegistry) searchDomains(ctx context.Context, args json.RawMessage) (string, bool) {
	var in struct {
		Query string   `json:"query"`
		TLDs  []string `json:"tlds"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.Query == "" {
		return fail("query is required")
	}

	results, err := r.c.Search(ctx, in.Query, in.TLDs)
	if err != nil {
		return failf("search failed: %v", err)
	}

	out, _ := json.MarshalIndent(results, "", "  ")
	return ok(string(out))
}

func (r *ToolRegistry) buyDomain(ctx context.Context, args json.RawMessage) (string, bool) {
	if r.wallet == nil {
		return fail("buying is disabled: the bridge was started without --wallet-key")
	}

	var in struct {
		Domain string `json:"domain"`
		Years  int    `json:"years"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.Domain == "" {
		return fail("domain is required")
	}
	if in.Years == 0 {
		in.Years = 1
	}

	p, err := r.c.InitiatePurchase(ctx, in.Domain, in.Years)
	if err != nil {
		return failf("initiate purchase failed: %v", err)
	}

	ch, err := r.c.GetChallenge(ctx, p.ID)
	if err != nil {
		return failf("fetch payment challenge failed (purchase %s): %v", p.ID, err)
	}

	encoded, err := r.signChallenge(ctx, ch)
	if err != nil {
		return failf("sign payment failed (purchase %s): %v", p.ID, err)
	}

	result, err := r.c.Pay(ctx, p.ID, encoded)
	if err != nil {
		return failf("payment failed (purchase %s): %v", p.ID, err)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	return ok(string(out))
}

// signChallenge builds and signs the EIP-3009 authorization for a challenge
// with the bridge's wallet and returns the encoded X-Payment value.
func (r *ToolRegistry) signChallenge(ctx context.Context, ch *client.Challenge) (string, error) {
	rest, found := strings.CutPrefix(ch.Network, "eip155:")
	if !found {
		return "", fmt.Errorf("unsupported network %q", ch.Network)
	}
	chainID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse chain id from %q: %w", ch.Network, err)
	}

	auth := &payment.Authorization{
		From:        r.wallet.Address.String(),
		To:          ch.Recipient,
		Value:       strconv.FormatInt(ch.AmountMicro, 10),
		ValidAfter:  ch.ValidAfter.Unix(),
		ValidBefore: ch.ValidBefore.Unix(),
		Nonce:       ch.Nonce,
	}
	digest, err := auth.Digest(ctx, payment.SigningDomain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           chainID,
		VerifyingContract: ch.Asset,
	})
	if err != nil {
		return "", err
	}
	sig, err := r.wallet.SignDirect(digest)
	if err != nil {
		return "", err
	}
	return payment.EncodePayload(&payment.Payload{
		Scheme:        ch.Scheme,
		Network:       ch.Network,
		Signature:     "0x" + hex.EncodeToString(sig.CompactRSV()),
		Authorization: auth,
	})
}

func (r *ToolRegistry) getPurchase(ctx context.Context, args json.RawMessage) (string, bool) {
	var in struct {
		PurchaseID string `json:"purchase_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.PurchaseID == "" {
		return fail("purchase_id is required")
	}

	p, err := r.c.PurchaseStatus(ctx, in.PurchaseID)
	if err != nil {
		return failf("get purchase failed: %v", err)
	}

	out, _ := json.MarshalIndent(p, "", "  ")
	return ok(string(out))
}

// walletOrDefault resolves the wallet argument, falling back to the bridge's
// own wallet when configured.
func (r *ToolRegistry) walletOrDefault(wallet string) (string, error) {
	if wallet != "" {
		return wallet, nil
	}
	if r.wallet != nil {
		return r.wallet.Address.String(), nil
	}
	return "", fmt.Errorf("wallet is required (the bridge has no --wallet-key configured)")
}

func (r *ToolRegistry) listDomains(ctx context.Context, args json.RawMessage) (string, bool) {
	var in struct {
		Wallet string `json:"wallet"`
	}
	_ = json.Unmarshal(args, &in)

	wallet, err := r.walletOrDefault(in.Wallet)
	if err != nil {
		return fail(err.Error())
	}

	domains, err := r.c.ListDomains(ctx, wallet)
	if err != nil {
		return failf("list domains failed: %v", err)
	}
	if len(domains) == 0 {
		return ok("No domains owned by this wallet.")
	}

	out, _ := json.MarshalIndent(domains, "", "  ")
	return ok(string(out))
}

func (r *ToolRegistry) listDNSRecords(ctx context.Context, args json.RawMessage) (string, bool) {
	var in struct {
		Domain string `json:"domain"`
		Wallet string `json:"wallet"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.Domain == "" {
		return fail("domain is required")
	}

	wallet, err := r.walletOrDefault(in.Wallet)
	if err != nil {
		return fail(err.Error())
	}

	records, err := r.c.ListDNSRecords(ctx, in.Domain, wallet)
	if err != nil {
		return failf("list DNS records failed: %v", err)
	}
	if len(records) == 0 {
		return ok("No DNS records.")
	}

	out, _ := json.MarshalIndent(records, "", "  ")
	return ok(string(out))
}

func (r *ToolRegistry) createDNSRecord(ctx context.Context, args json.RawMessage) (string, bool) {
	var in struct {
		Domain  string `json:"domain"`
		Type    string `json:"type"`
		Name    string `json:"name"`
		Content string `json:"content"`
		TTL     int    `json:"ttl"`
		Wallet  string `json:"wallet"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.Domain == "" || in.Type == "" || in.Content == "" {
		return fail("domain, type, and content are required")
	}

	wallet, err := r.walletOrDefault(in.Wallet)
	if err != nil {
		return fail(err.Error())
	}

	id, err := r.c.CreateDNSRecord(ctx, in.Domain, wallet, client.DNSRecord{
		Type:    in.Type,
		Name:    in.Name,
		Content: in.Content,
		TTL:     in.TTL,
	})
	if err != nil {
		return failf("create DNS record failed: %v", err)
	}
	return ok(fmt.Sprintf("Record created: %s", id))
}
