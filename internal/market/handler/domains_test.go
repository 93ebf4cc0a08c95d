package handler_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clawdlabs/clawd-domains/internal/market/model"
)

const (
	ownerWallet    = "0xAbCdEF0123456789abcdef0123456789ABCDEF01"
	strangerWallet = "0x1111111111111111111111111111111111111111"
)

// seedDomain puts a registered domain into the ledger and the registrar.
func seedDomain(t *testing.T, env *testEnv, domain, wallet string) {
	t.Helper()
	if _, err := env.gateway.Register(context.Background(), domain, 1, 1_499); err != nil {
		t.Fatalf("seed registrar: %v", err)
	}
	err := env.domains.Create(context.Background(), &model.DomainRecord{
		Domain:       domain,
		OwnerWallet:  model.NormalizeWallet(wallet),
		PurchaseID:   uuid.New(),
		ExpiresAt:    time.Now().AddDate(1, 0, 0),
		RegisteredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
}

func TestListOwnedDomains(t *testing.T) {
	env := newTestEnv(t)
	seedDomain(t, env, "myproject.xyz", ownerWallet)
	seedDomain(t, env, "myproject.dev", ownerWallet)

	w, resp := env.do(t, http.MethodGet, "/api/v1/wallets/"+ownerWallet+"/domains", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	domains := resp["domains"].([]any)
	if len(domains) != 2 {
		t.Errorf("domains: %v", domains)
	}
}

func TestListOwnedDomains_badWallet(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.do(t, http.MethodGet, "/api/v1/wallets/not-an-address/domains", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: %d", w.Code)
	}
}

func TestDNSRecordLifecycle(t *testing.T) {
	env := newTestEnv(t)
	seedDomain(t, env, "myproject.xyz", ownerWallet)

	w, resp := env.do(t, http.MethodPost, "/api/v1/domains/myproject.xyz/dns",
		map[string]any{
			"wallet":  ownerWallet,
			"type":    "A",
			"name":    "www",
			"content": "203.0.113.10",
		}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", w.Code, w.Body.String())
	}
	recordID := resp["record_id"].(string)
	if recordID == "" {
		t.Fatal("empty record id")
	}

	w, resp = env.do(t, http.MethodGet,
		"/api/v1/domains/myproject.xyz/dns?wallet="+ownerWallet, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status %d", w.Code)
	}
	records := resp["records"].([]any)
	if len(records) != 1 {
		t.Fatalf("records: %v", records)
	}
	rec := records[0].(map[string]any)
	if rec["type"] != "A" || rec["content"] != "203.0.113.10" {
		t.Errorf("record: %v", rec)
	}

	w, _ = env.do(t, http.MethodDelete,
		"/api/v1/domains/myproject.xyz/dns/"+recordID+"?wallet="+ownerWallet, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status %d body %s", w.Code, w.Body.String())
	}

	w, resp = env.do(t, http.MethodGet,
		"/api/v1/domains/myproject.xyz/dns?wallet="+ownerWallet, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("relist: status %d", w.Code)
	}
	if records := resp["records"]; records != nil && len(records.([]any)) != 0 {
		t.Errorf("records after delete: %v", records)
	}
}

func TestOwnership_uniformDenial(t *testing.T) {
	env := newTestEnv(t)
	seedDomain(t, env, "myproject.xyz", ownerWallet)

	// Wrong wallet on an existing domain and any wallet on a missing domain
	// get the same answer.
	paths := []string{
		"/api/v1/domains/myproject.xyz/dns?wallet=" + strangerWallet,
		"/api/v1/domains/ghost.xyz/dns?wallet=" + strangerWallet,
	}
	var bodies []string
	for _, p := range paths {
		w, resp := env.do(t, http.MethodGet, p, nil, nil)
		if w.Code != http.StatusForbidden {
			t.Fatalf("%s: status %d", p, w.Code)
		}
		bodies = append(bodies, resp["error"].(string))
	}
	if bodies[0] != bodies[1] {
		t.Errorf("denial bodies differ: %q vs %q", bodies[0], bodies[1])
	}
}

func TestUpdateNameserversEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedDomain(t, env, "myproject.xyz", ownerWallet)

	w, resp := env.do(t, http.MethodPut, "/api/v1/domains/myproject.xyz/nameservers",
		map[string]any{
			"wallet":      ownerWallet,
			"nameservers": []string{"ns1.example.net", "ns2.example.net"},
		}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	if resp["updated"] != true {
		t.Errorf("body: %v", resp)
	}

	// A single nameserver is rejected before reaching the registrar.
	w, _ = env.do(t, http.MethodPut, "/api/v1/domains/myproject.xyz/nameservers",
		map[string]any{
			"wallet":      ownerWallet,
			"nameservers": []string{"ns1.example.net"},
		}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("single ns: status %d", w.Code)
	}
}

func TestAuthCodeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedDomain(t, env, "myproject.xyz", ownerWallet)

	w, resp := env.do(t, http.MethodGet,
		"/api/v1/domains/myproject.xyz/auth-code?wallet="+ownerWallet, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	if resp["auth_code"] == "" {
		t.Error("empty auth code")
	}
}
