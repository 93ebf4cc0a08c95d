// Package registrar talks to the upstream domain registrar. The production
// gateway targets the Porkbun JSON API; a deterministic mock serves
// development and tests when no API credentials are configured.
package registrar

import (
	"context"
	"errors"
)

var (
	// ErrDomainTaken is returned when the domain is not available to register.
	ErrDomainTaken = errors.New("domain not available")

	// ErrUpstream is returned when the registrar rejected or failed a request.
	ErrUpstream = errors.New("registrar request failed")

	// ErrManualStep is returned for operations the registrar only supports
	// through its dashboard, such as auth code retrieval.
	ErrManualStep = errors.New("operation requires registrar dashboard")
)

// Availability is the result of an availability check.
type Availability struct {
	Domain            string
	Available         bool
	Premium           bool
	RegistrationPrice string
	RenewalPrice      string
}

// Registration is the result of a successful domain registration.
type Registration struct {
	Domain      string
	Expiration  string
	Nameservers []string
}

// DNSRecord is a single zone record at the registrar.
type DNSRecord struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
}

// Gateway is the registrar surface the market depends on.
type Gateway interface {
	// Ping checks API reachability and credential validity.
	Ping(ctx context.Context) error
	CheckAvailability(ctx context.Context, domain string) (*Availability, error)
	// Register registers the domain. costCents is the price confirmed at
	// challenge time; the registrar rejects mismatches instead of charging
	// a moved price.
	Register(ctx context.Context, domain string, years int, costCents int64) (*Registration, error)
	UpdateNameservers(ctx context.Context, domain string, nameservers []string) error
	ListDNSRecords(ctx context.Context, domain string) ([]DNSRecord, error)
	CreateDNSRecord(ctx context.Context, domain string, rec DNSRecord) (string, error)
	DeleteDNSRecord(ctx context.Context, domain, recordID string) error
	AuthCode(ctx context.Context, domain string) (string, error)
}
