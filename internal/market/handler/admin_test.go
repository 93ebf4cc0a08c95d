package handler_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clawdlabs/clawd-domains/internal/market/model"
)

// seedFailedRegistration inserts a purchase whose payment settled but whose
// registrar call failed, i.e. a reconciliation queue entry.
func seedFailedRegistration(t *testing.T, env *testEnv, domain string) uuid.UUID {
	t.Helper()
	p := &model.Purchase{
		Domain:      domain,
		Years:       1,
		AmountMicro: 14_990_000,
		Recipient:   testTreasury,
		State:       model.StateRegistrationFailed,
		Payer:       model.NormalizeWallet(ownerWallet),
		TxHash:      "0xabc123",
		ValidBefore: time.Now().Add(15 * time.Minute),
	}
	if err := env.purchases.Create(context.Background(), p); err != nil {
		t.Fatalf("seed purchase: %v", err)
	}
	return p.ID
}

func login(t *testing.T, env *testEnv) string {
	t.Helper()
	w, resp := env.do(t, http.MethodPost, "/api/v1/admin/login",
		map[string]any{"secret": adminSecret}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", w.Code, w.Body.String())
	}
	return resp["token"].(string)
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestAdminLogin_badSecret(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.do(t, http.MethodPost, "/api/v1/admin/login",
		map[string]any{"secret": "wrong"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status: %d", w.Code)
	}
}

func TestAdmin_requiresToken(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodGet, "/api/v1/admin/reconciliation", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no header: status %d", w.Code)
	}
	w, _ = env.do(t, http.MethodGet, "/api/v1/admin/reconciliation", nil,
		bearer("garbage-token"))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status %d", w.Code)
	}
}

func TestReconciliationQueue(t *testing.T) {
	env := newTestEnv(t)
	id := seedFailedRegistration(t, env, "myproject.xyz")
	token := login(t, env)

	w, resp := env.do(t, http.MethodGet, "/api/v1/admin/reconciliation", nil, bearer(token))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	if resp["count"].(float64) != 1 {
		t.Fatalf("count: %v", resp["count"])
	}
	queue := resp["purchases"].([]any)
	entry := queue[0].(map[string]any)
	if entry["id"] != id.String() {
		t.Errorf("queue entry: %v", entry)
	}
}

func TestAdminRetryRegistration(t *testing.T) {
	env := newTestEnv(t)
	id := seedFailedRegistration(t, env, "myproject.xyz")
	token := login(t, env)

	w, resp := env.do(t, http.MethodPost,
		"/api/v1/admin/reconciliation/"+id.String()+"/retry", nil, bearer(token))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	if resp["state"] != "registered" {
		t.Errorf("state: %v", resp["state"])
	}
	if resp["domain"] == nil {
		t.Error("expected the new ledger row in the response")
	}

	// A second retry finds the purchase already resolved.
	w, _ = env.do(t, http.MethodPost,
		"/api/v1/admin/reconciliation/"+id.String()+"/retry", nil, bearer(token))
	if w.Code != http.StatusConflict {
		t.Errorf("second retry: status %d", w.Code)
	}
}

func TestAdminRetryRegistration_stillFailing(t *testing.T) {
	env := newTestEnv(t)
	id := seedFailedRegistration(t, env, "myproject.xyz")
	env.gateway.RegisterErr = http.ErrHandlerTimeout
	token := login(t, env)

	w, _ := env.do(t, http.MethodPost,
		"/api/v1/admin/reconciliation/"+id.String()+"/retry", nil, bearer(token))
	if w.Code != http.StatusBadGateway {
		t.Errorf("status: %d", w.Code)
	}
}

func TestAdminRefund(t *testing.T) {
	env := newTestEnv(t)
	id := seedFailedRegistration(t, env, "myproject.xyz")
	token := login(t, env)

	w, resp := env.do(t, http.MethodPost,
		"/api/v1/admin/reconciliation/"+id.String()+"/refund",
		map[string]any{"note": "refunded via treasury tx 0xdef"}, bearer(token))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	if resp["refunded"] != true {
		t.Errorf("body: %v", resp)
	}

	// The note is mandatory.
	id2 := seedFailedRegistration(t, env, "another.xyz")
	w, _ = env.do(t, http.MethodPost,
		"/api/v1/admin/reconciliation/"+id2.String()+"/refund",
		map[string]any{}, bearer(token))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing note: status %d", w.Code)
	}
}

func TestAdminRetry_unknownPurchase(t *testing.T) {
	env := newTestEnv(t)
	token := login(t, env)

	w, _ := env.do(t, http.MethodPost,
		"/api/v1/admin/reconciliation/"+uuid.NewString()+"/retry", nil, bearer(token))
	if w.Code != http.StatusNotFound {
		t.Errorf("status: %d", w.Code)
	}
}
