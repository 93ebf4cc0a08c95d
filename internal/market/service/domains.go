package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/clawdlabs/clawd-domains/internal/market/model"
	"github.com/clawdlabs/clawd-domains/internal/registrar"
)

// ledgerRepo is the ownership ledger interface for domain management.
// *repository.DomainRepository satisfies this interface.
type ledgerRepo interface {
	ListByOwner(ctx context.Context, wallet string) ([]*model.DomainRecord, error)
	VerifyOwner(ctx context.Context, domain, wallet string) (bool, error)
	UpdateNameservers(ctx context.Context, domain string, nameservers []string) error
}

// DomainService exposes post-registration domain management. Every mutating
// operation is gated on the ownership ledger; a failed check returns
// ErrNotPermitted whether or not the domain exists.
type DomainService struct {
	ledger  ledgerRepo
	gateway registrar.Gateway
	logger  *zap.Logger
}

// NewDomainService creates a DomainService.
func NewDomainService(ledger ledgerRepo, gateway registrar.Gateway, logger *zap.Logger) *DomainService {
	return &DomainService{ledger: ledger, gateway: gateway, logger: logger}
}

// ListOwned returns the wallet's domains.
func (s *DomainService) ListOwned(ctx context.Context, wallet string) ([]*model.DomainRecord, error) {
	return s.ledger.ListByOwner(ctx, wallet)
}

func (s *DomainService) requireOwner(ctx context.Context, domain, wallet string) error {
	ok, err := s.ledger.VerifyOwner(ctx, domain, wallet)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotPermitted
	}
	return nil
}

// ListDNSRecords returns the domain's zone records from the registrar.
func (s *DomainService) ListDNSRecords(ctx context.Context, domain, wallet string) ([]registrar.DNSRecord, error) {
	if err := s.requireOwner(ctx, domain, wallet); err != nil {
		return nil, err
	}
	records, err := s.gateway.ListDNSRecords(ctx, domain)
	recordRegistrarCall("dns_list", err)
	return records, err
}

// CreateDNSRecord adds a zone record and returns its registrar id.
func (s *DomainService) CreateDNSRecord(ctx context.Context, domain, wallet string, rec registrar.DNSRecord) (string, error) {
	if err := s.requireOwner(ctx, domain, wallet); err != nil {
		return "", err
	}
	if rec.TTL <= 0 {
		rec.TTL = 600
	}
	id, err := s.gateway.CreateDNSRecord(ctx, domain, rec)
	recordRegistrarCall("dns_create", err)
	if err == nil {
		s.logger.Info("dns record created",
			zap.String("domain", domain),
			zap.String("type", rec.Type),
			zap.String("record_id", id))
	}
	return id, err
}

// DeleteDNSRecord removes a zone record.
func (s *DomainService) DeleteDNSRecord(ctx context.Context, domain, wallet, recordID string) error {
	if err := s.requireOwner(ctx, domain, wallet); err != nil {
		return err
	}
	err := s.gateway.DeleteDNSRecord(ctx, domain, recordID)
	recordRegistrarCall("dns_delete", err)
	return err
}

// UpdateNameservers points the domain at new nameservers and refreshes the
// ledger's cached copy.
func (s *DomainService) UpdateNameservers(ctx context.Context, domain, wallet string, nameservers []string) error {
	if err := s.requireOwner(ctx, domain, wallet); err != nil {
		return err
	}
	if len(nameservers) < 2 || len(nameservers) > 12 {
		return ErrInvalidDomain
	}
	err := s.gateway.UpdateNameservers(ctx, domain, nameservers)
	recordRegistrarCall("update_nameservers", err)
	if err != nil {
		return err
	}
	if err := s.ledger.UpdateNameservers(ctx, domain, nameservers); err != nil {
		s.logger.Warn("nameserver cache update failed", zap.String("domain", domain), zap.Error(err))
	}
	return nil
}

// AuthCode returns the domain's transfer auth code, when the registrar
// exposes one.
func (s *DomainService) AuthCode(ctx context.Context, domain, wallet string) (string, error) {
	if err := s.requireOwner(ctx, domain, wallet); err != nil {
		return "", err
	}
	code, err := s.gateway.AuthCode(ctx, domain)
	recordRegistrarCall("auth_code", err)
	return code, err
}
