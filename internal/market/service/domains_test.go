package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clawdlabs/clawd-domains/internal/market/model"
	"github.com/clawdlabs/clawd-domains/internal/market/service"
	"github.com/clawdlabs/clawd-domains/internal/registrar"
)

// ── In-memory stub for ledgerRepo ──────────────────────────────────────────

type stubLedger struct {
	rows map[string]*model.DomainRecord
}

func newStubLedger() *stubLedger {
	return &stubLedger{rows: make(map[string]*model.DomainRecord)}
}

func (s *stubLedger) add(domain, wallet string) {
	s.rows[domain] = &model.DomainRecord{
		Domain:      domain,
		OwnerWallet: model.NormalizeWallet(wallet),
		PurchaseID:  uuid.New(),
		ExpiresAt:   time.Now().UTC().AddDate(1, 0, 0),
		Nameservers: []string{"ns1.porkbun.com", "ns2.porkbun.com"},
	}
}

func (s *stubLedger) ListByOwner(_ context.Context, wallet string) ([]*model.DomainRecord, error) {
	var out []*model.DomainRecord
	for _, d := range s.rows {
		if d.OwnerWallet == model.NormalizeWallet(wallet) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubLedger) VerifyOwner(_ context.Context, domain, wallet string) (bool, error) {
	d, ok := s.rows[domain]
	if !ok {
		return false, nil
	}
	return d.OwnerWallet == model.NormalizeWallet(wallet), nil
}

func (s *stubLedger) UpdateNameservers(_ context.Context, domain string, nameservers []string) error {
	if d, ok := s.rows[domain]; ok {
		d.Nameservers = nameservers
	}
	return nil
}

// ── Helpers ────────────────────────────────────────────────────────────────

const ownerWallet = "0xAbCdEF0123456789abcdef0123456789ABCDEF01"

func newDomainFixture(t *testing.T) (*service.DomainService, *stubLedger, *registrar.Mock) {
	t.Helper()
	ledger := newStubLedger()
	ledger.add("myproject.xyz", ownerWallet)
	gateway := registrar.NewMock(zap.NewNop())
	return service.NewDomainService(ledger, gateway, zap.NewNop()), ledger, gateway
}

// ── Tests ──────────────────────────────────────────────────────────────────

func TestDNSRecordLifecycle(t *testing.T) {
	svc, _, _ := newDomainFixture(t)
	ctx := context.Background()

	id, err := svc.CreateDNSRecord(ctx, "myproject.xyz", ownerWallet, registrar.DNSRecord{
		Type: "A", Name: "www", Content: "203.0.113.10",
	})
	if err != nil {
		t.Fatalf("CreateDNSRecord: %v", err)
	}
	if id == "" {
		t.Fatal("expected a record id")
	}

	records, err := svc.ListDNSRecords(ctx, "myproject.xyz", ownerWallet)
	if err != nil {
		t.Fatalf("ListDNSRecords: %v", err)
	}
	if len(records) != 1 || records[0].ID != id {
		t.Fatalf("records: %+v", records)
	}
	if records[0].TTL != 600 {
		t.Errorf("TTL should default to 600, got %d", records[0].TTL)
	}

	if err := svc.DeleteDNSRecord(ctx, "myproject.xyz", ownerWallet, id); err != nil {
		t.Fatalf("DeleteDNSRecord: %v", err)
	}
	records, _ = svc.ListDNSRecords(ctx, "myproject.xyz", ownerWallet)
	if len(records) != 0 {
		t.Errorf("record not deleted: %+v", records)
	}
}

func TestOwnershipGate_uniformDenial(t *testing.T) {
	svc, _, _ := newDomainFixture(t)
	ctx := context.Background()

	// Wrong wallet on an existing domain and any wallet on a missing domain
	// must be indistinguishable.
	_, err1 := svc.ListDNSRecords(ctx, "myproject.xyz", "0x0000000000000000000000000000000000000002")
	_, err2 := svc.ListDNSRecords(ctx, "missing.xyz", ownerWallet)
	if !errors.Is(err1, service.ErrNotPermitted) {
		t.Errorf("wrong wallet: expected ErrNotPermitted, got %v", err1)
	}
	if !errors.Is(err2, service.ErrNotPermitted) {
		t.Errorf("missing domain: expected ErrNotPermitted, got %v", err2)
	}
	if err1.Error() != err2.Error() {
		t.Error("denials must be indistinguishable")
	}
}

func TestOwnershipGate_caseInsensitiveWallet(t *testing.T) {
	svc, _, _ := newDomainFixture(t)

	// Same address, different checksum casing.
	lower := "0xabcdef0123456789abcdef0123456789abcdef01"
	if _, err := svc.ListDNSRecords(context.Background(), "myproject.xyz", lower); err != nil {
		t.Fatalf("lowercase wallet should pass ownership: %v", err)
	}
}

func TestUpdateNameservers(t *testing.T) {
	svc, ledger, _ := newDomainFixture(t)
	ctx := context.Background()

	ns := []string{"ns1.example-dns.net", "ns2.example-dns.net"}
	if err := svc.UpdateNameservers(ctx, "myproject.xyz", ownerWallet, ns); err != nil {
		t.Fatalf("UpdateNameservers: %v", err)
	}
	if got := ledger.rows["myproject.xyz"].Nameservers; len(got) != 2 || got[0] != ns[0] {
		t.Errorf("ledger cache not refreshed: %v", got)
	}

	// Fewer than two nameservers is rejected.
	err := svc.UpdateNameservers(ctx, "myproject.xyz", ownerWallet, []string{"only-one.net"})
	if !errors.Is(err, service.ErrInvalidDomain) {
		t.Errorf("expected ErrInvalidDomain, got %v", err)
	}
}

func TestAuthCode(t *testing.T) {
	svc, _, _ := newDomainFixture(t)
	code, err := svc.AuthCode(context.Background(), "myproject.xyz", ownerWallet)
	if err != nil {
		t.Fatalf("AuthCode: %v", err)
	}
	if code == "" {
		t.Error("expected an auth code from the mock gateway")
	}
}

func TestListOwned(t *testing.T) {
	svc, ledger, _ := newDomainFixture(t)
	ledger.add("second.dev", ownerWallet)
	ledger.add("other.com", "0x0000000000000000000000000000000000000009")

	domains, err := svc.ListOwned(context.Background(), ownerWallet)
	if err != nil {
		t.Fatalf("ListOwned: %v", err)
	}
	if len(domains) != 2 {
		t.Errorf("expected 2 domains, got %d", len(domains))
	}
}

func TestSearch(t *testing.T) {
	gateway := registrar.NewMock(zap.NewNop())
	gateway.Taken = []string{"myproject.io"}
	svc := service.NewSearchService(gateway, zap.NewNop())

	results, err := svc.Search(context.Background(), "MyProject", []string{"com", "io", "xyz"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	byDomain := map[string]service.SearchResult{}
	for _, r := range results {
		byDomain[r.Domain] = r
	}
	if !byDomain["myproject.com"].Available {
		t.Error("myproject.com should be available")
	}
	if byDomain["myproject.io"].Available {
		t.Error("myproject.io is taken")
	}
	if byDomain["myproject.io"].FirstYearPrice != "" {
		t.Error("taken domains carry no pricing")
	}
	// Mock returns no live quote; pricing falls back to the retail table.
	if got := byDomain["myproject.xyz"].FirstYearPrice; got != "4.99" {
		t.Errorf("xyz first-year price: got %q", got)
	}
}

func TestSearch_rejectsDottedQuery(t *testing.T) {
	svc := service.NewSearchService(registrar.NewMock(zap.NewNop()), zap.NewNop())
	if _, err := svc.Search(context.Background(), "my.project", nil); !errors.Is(err, service.ErrInvalidDomain) {
		t.Errorf("expected ErrInvalidDomain, got %v", err)
	}
}
