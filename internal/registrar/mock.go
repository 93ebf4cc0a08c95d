package registrar

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Mock is an in-memory Gateway for development and tests. A fixed set of
// well-known domains reads as taken, everything else is available.
type Mock struct {
	// Taken lists extra domains that should read as unavailable.
	Taken []string
	// RegisterErr, when set, fails every Register call.
	RegisterErr error

	mu         sync.Mutex
	registered map[string]*Registration
	records    map[string][]DNSRecord
	nextID     int64
	logger     *zap.Logger
}

var wellKnownTaken = map[string]bool{
	"google.com":   true,
	"facebook.com": true,
	"amazon.com":   true,
	"example.com":  true,
}

// NewMock creates a Mock gateway.
func NewMock(logger *zap.Logger) *Mock {
	logger.Warn("registrar running in mock mode, no domains will be registered")
	return &Mock{
		registered: make(map[string]*Registration),
		records:    make(map[string][]DNSRecord),
		nextID:     10000,
		logger:     logger,
	}
}

func (m *Mock) taken(domain string) bool {
	domain = strings.ToLower(domain)
	if wellKnownTaken[domain] {
		return true
	}
	for _, t := range m.Taken {
		if strings.EqualFold(t, domain) {
			return true
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.registered[domain]
	return ok
}

func (m *Mock) Ping(ctx context.Context) error {
	return nil
}

func (m *Mock) CheckAvailability(ctx context.Context, domain string) (*Availability, error) {
	return &Availability{
		Domain:    domain,
		Available: !m.taken(domain),
	}, nil
}

func (m *Mock) Register(ctx context.Context, domain string, years int, costCents int64) (*Registration, error) {
	if m.RegisterErr != nil {
		return nil, m.RegisterErr
	}
	if m.taken(domain) {
		return nil, ErrDomainTaken
	}
	reg := &Registration{
		Domain:      domain,
		Expiration:  time.Now().UTC().AddDate(years, 0, 0).Format("2006-01-02"),
		Nameservers: []string{"ns1.porkbun.com", "ns2.porkbun.com"},
	}
	m.mu.Lock()
	m.registered[strings.ToLower(domain)] = reg
	m.mu.Unlock()
	return reg, nil
}

func (m *Mock) UpdateNameservers(ctx context.Context, domain string, nameservers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reg, ok := m.registered[strings.ToLower(domain)]; ok {
		reg.Nameservers = nameservers
	}
	return nil
}

func (m *Mock) ListDNSRecords(ctx context.Context, domain string) ([]DNSRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DNSRecord(nil), m.records[strings.ToLower(domain)]...), nil
}

func (m *Mock) CreateDNSRecord(ctx context.Context, domain string, rec DNSRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = fmt.Sprintf("%d", m.nextID)
	key := strings.ToLower(domain)
	m.records[key] = append(m.records[key], rec)
	return rec.ID, nil
}

func (m *Mock) DeleteDNSRecord(ctx context.Context, domain, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(domain)
	for i, rec := range m.records[key] {
		if rec.ID == recordID {
			m.records[key] = append(m.records[key][:i], m.records[key][i+1:]...)
			return nil
		}
	}
	return ErrUpstream
}

func (m *Mock) AuthCode(ctx context.Context, domain string) (string, error) {
	return "MOCK-AUTH-CODE-12345", nil
}
