package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clawdlabs/clawd-domains/pkg/client"
)

const purchaseID = "550e8400-e29b-41d4-a716-446655440000"

// ── Stub server ─────────────────────────────────────────────────────────

func stubMarketServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/search", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string   `json:"query"`
			TLDs  []string `json:"tlds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
			http.Error(w, `{"error":"invalid search query"}`, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"query": req.Query,
			"results": []map[string]any{
				{"domain": req.Query + ".com", "available": true, "first_year_price_usdc": "12.99"},
				{"domain": req.Query + ".io", "available": false},
			},
		})
	})

	mux.HandleFunc("/api/v1/purchase/initiate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Domain string `json:"domain"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Domain == "google.com" {
			http.Error(w, `{"error":"domain is not available"}`, http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"purchase": map[string]any{
				"id":           purchaseID,
				"domain":       req.Domain,
				"years":        1,
				"amount_micro": 14_990_000,
				"state":        "created",
			},
			"amount_usdc": "14.99",
		})
	})

	mux.HandleFunc("/api/v1/purchase/pay/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/purchase/pay/")
		if id != purchaseID {
			http.Error(w, `{"error":"purchase not found"}`, http.StatusNotFound)
			return
		}
		if payload := r.Header.Get("X-Payment"); payload != "" {
			if payload == "bad-payload" {
				http.Error(w, `{"error":"payment authorization rejected"}`, http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"purchase": map[string]any{"id": id, "state": "registered", "tx_hash": "0xabc"},
				"state":    "registered",
				"domain":   map[string]any{"domain": "myproject.xyz", "owner_wallet": "0xpayer"},
			})
			return
		}
		w.Header().Set("WWW-Authenticate", `X-Payment scheme=exact network=eip155:8453`)
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]any{
			"error": "payment required",
			"accepts": []map[string]any{{
				"scheme":       "exact",
				"network":      "eip155:8453",
				"asset":        "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				"amount":       "14.99",
				"amount_micro": 14_990_000,
				"recipient":    "0x742D35cc6634C0532925a3B844bc9E7595f5BE91",
				"nonce":        "0x" + strings.Repeat("ab", 32),
				"valid_after":  time.Now().Add(-time.Minute).UTC().Format(time.RFC3339),
				"valid_before": time.Now().Add(15 * time.Minute).UTC().Format(time.RFC3339),
			}},
		})
	})

	mux.HandleFunc("/api/v1/wallets/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"domains": []map[string]any{
				{"domain": "myproject.xyz", "owner_wallet": "0xpayer"},
			},
		})
	})

	mux.HandleFunc("/api/v1/domains/myproject.xyz/dns", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wallet") == "0xstranger" {
			http.Error(w, `{"error":"not permitted"}`, http.StatusForbidden)
			return
		}
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"records": []map[string]any{
					{"id": "10042", "type": "A", "name": "www", "content": "203.0.113.10", "ttl": 600},
				},
			})
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"record_id": "10043"})
		}
	})

	mux.HandleFunc("/api/v1/admin/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Secret string `json:"secret"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Secret != "operator-secret" {
			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"token": "test-operator-token"})
	})

	mux.HandleFunc("/api/v1/admin/reconciliation", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-operator-token" {
			http.Error(w, `{"error":"operator token required"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"purchases": []map[string]any{
				{"id": purchaseID, "domain": "myproject.xyz", "state": "registration_failed", "tx_hash": "0xabc"},
			},
			"count": 1,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server) *client.Client {
	t.Helper()
	c, err := client.New(srv.URL, client.WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return c
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestSearch(t *testing.T) {
	c := newClient(t, stubMarketServer(t))

	results, err := c.Search(context.Background(), "myproject", []string{"com", "io"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results: %v", results)
	}
	if !results[0].Available || results[0].FirstYearPrice != "12.99" {
		t.Errorf("first result: %+v", results[0])
	}
}

func TestInitiatePurchase(t *testing.T) {
	c := newClient(t, stubMarketServer(t))

	p, err := c.InitiatePurchase(context.Background(), "myproject.xyz", 1)
	if err != nil {
		t.Fatalf("InitiatePurchase: %v", err)
	}
	if p.ID != purchaseID || p.State != "created" || p.AmountMicro != 14_990_000 {
		t.Errorf("purchase: %+v", p)
	}
}

func TestInitiatePurchase_unavailable(t *testing.T) {
	c := newClient(t, stubMarketServer(t))

	if _, err := c.InitiatePurchase(context.Background(), "google.com", 1); err == nil {
		t.Fatal("expected error for an unavailable domain")
	}
}

func TestGetChallenge(t *testing.T) {
	c := newClient(t, stubMarketServer(t))

	ch, err := c.GetChallenge(context.Background(), purchaseID)
	if err != nil {
		t.Fatalf("GetChallenge: %v", err)
	}
	if ch.Scheme != "exact" || ch.Network != "eip155:8453" {
		t.Errorf("challenge: %+v", ch)
	}
	if ch.AmountMicro != 14_990_000 || ch.Recipient == "" || ch.Nonce == "" {
		t.Errorf("challenge fields: %+v", ch)
	}
}

func TestPay(t *testing.T) {
	c := newClient(t, stubMarketServer(t))

	res, err := c.Pay(context.Background(), purchaseID, "c2lnbmVkLXBheWxvYWQ=")
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if res.State != "registered" || res.Domain == nil {
		t.Errorf("result: %+v", res)
	}
}

func TestPay_rejected(t *testing.T) {
	c := newClient(t, stubMarketServer(t))

	if _, err := c.Pay(context.Background(), purchaseID, "bad-payload"); err == nil {
		t.Fatal("expected error for a rejected payment")
	}
}

func TestListDomains(t *testing.T) {
	c := newClient(t, stubMarketServer(t))

	domains, err := c.ListDomains(context.Background(), "0xpayer")
	if err != nil {
		t.Fatalf("ListDomains: %v", err)
	}
	if len(domains) != 1 || domains[0].Domain != "myproject.xyz" {
		t.Errorf("domains: %v", domains)
	}
}

func TestDNSRecords(t *testing.T) {
	c := newClient(t, stubMarketServer(t))
	ctx := context.Background()

	records, err := c.ListDNSRecords(ctx, "myproject.xyz", "0xpayer")
	if err != nil {
		t.Fatalf("ListDNSRecords: %v", err)
	}
	if len(records) != 1 || records[0].Type != "A" {
		t.Errorf("records: %v", records)
	}

	id, err := c.CreateDNSRecord(ctx, "myproject.xyz", "0xpayer",
		client.DNSRecord{Type: "TXT", Name: "_proof", Content: "v=1"})
	if err != nil {
		t.Fatalf("CreateDNSRecord: %v", err)
	}
	if id != "10043" {
		t.Errorf("record id: %s", id)
	}
}

func TestDNSRecords_notPermitted(t *testing.T) {
	c := newClient(t, stubMarketServer(t))

	_, err := c.ListDNSRecords(context.Background(), "myproject.xyz", "0xstranger")
	if !errors.Is(err, client.ErrNotPermitted) {
		t.Fatalf("err: %v", err)
	}
}

func TestAdminFlow(t *testing.T) {
	c := newClient(t, stubMarketServer(t))
	ctx := context.Background()

	// The queue requires a token.
	if _, err := c.ReconciliationQueue(ctx); err == nil {
		t.Fatal("expected error without a token")
	}

	if err := c.AdminLogin(ctx, "wrong"); err == nil {
		t.Fatal("expected error for a bad secret")
	}
	if err := c.AdminLogin(ctx, "operator-secret"); err != nil {
		t.Fatalf("AdminLogin: %v", err)
	}

	queue, err := c.ReconciliationQueue(ctx)
	if err != nil {
		t.Fatalf("ReconciliationQueue: %v", err)
	}
	if len(queue) != 1 || queue[0].State != "registration_failed" {
		t.Errorf("queue: %v", queue)
	}
}
