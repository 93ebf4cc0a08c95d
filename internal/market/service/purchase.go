// Package service holds the purchase orchestrator: the state machine that
// turns a signed payment authorization into an exactly-once settlement and a
// registered domain. All state transitions go through the repository's
// compare-and-set, so concurrent retries for the same purchase resolve to a
// single winner.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clawdlabs/clawd-domains/internal/market/model"
	"github.com/clawdlabs/clawd-domains/internal/market/repository"
	"github.com/clawdlabs/clawd-domains/internal/payment"
	"github.com/clawdlabs/clawd-domains/internal/registrar"
	"github.com/clawdlabs/clawd-domains/internal/relayer"
)

var domainNameRe = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)

// purchaseRepo is the persistence interface for the orchestrator.
// *repository.PurchaseRepository satisfies this interface.
type purchaseRepo interface {
	Create(ctx context.Context, p *model.Purchase) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Purchase, error)
	UpdateState(ctx context.Context, id uuid.UUID, from, to model.PurchaseState) error
	SetChallenge(ctx context.Context, p *model.Purchase) error
	SetPayer(ctx context.Context, id uuid.UUID, payer string) error
	SetSettled(ctx context.Context, id uuid.UUID, txHash string) error
	SetSubmitted(ctx context.Context, id uuid.UUID, txHash string) error
	SetFailed(ctx context.Context, id uuid.UUID, from, to model.PurchaseState, reason string) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	ListByState(ctx context.Context, state model.PurchaseState, limit int) ([]*model.Purchase, error)
	ListNeedingReconciliation(ctx context.Context, limit int) ([]*model.Purchase, error)
	CountByState(ctx context.Context) (map[model.PurchaseState]int64, error)
}

// domainRepo is the ownership ledger interface for the orchestrator.
// *repository.DomainRepository satisfies this interface.
type domainRepo interface {
	Create(ctx context.Context, d *model.DomainRecord) error
	GetByName(ctx context.Context, domain string) (*model.DomainRecord, error)
}

// PurchaseService drives the purchase lifecycle.
type PurchaseService struct {
	purchases purchaseRepo
	domains   domainRepo
	issuer    *payment.ChallengeIssuer
	verifier  *payment.Verifier
	backend   relayer.Backend
	gateway   registrar.Gateway
	logger    *zap.Logger
}

// NewPurchaseService creates a PurchaseService.
func NewPurchaseService(
	purchases purchaseRepo,
	domains domainRepo,
	issuer *payment.ChallengeIssuer,
	verifier *payment.Verifier,
	backend relayer.Backend,
	gateway registrar.Gateway,
	logger *zap.Logger,
) *PurchaseService {
	return &PurchaseService{
		purchases: purchases,
		domains:   domains,
		issuer:    issuer,
		verifier:  verifier,
		backend:   backend,
		gateway:   gateway,
		logger:    logger,
	}
}

// CreatePurchase records a new purchase intent. The availability check is
// advisory; the registrar remains the final authority at registration time.
func (s *PurchaseService) CreatePurchase(ctx context.Context, domain string, years int) (*model.Purchase, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if !domainNameRe.MatchString(domain) {
		return nil, ErrInvalidDomain
	}
	if years < 1 {
		years = 1
	}
	if years > 10 {
		return nil, fmt.Errorf("%w: at most 10 years", ErrInvalidDomain)
	}

	avail, err := s.gateway.CheckAvailability(ctx, domain)
	recordRegistrarCall("check_availability", err)
	if err != nil {
		// Advisory only; let the purchase proceed and the registrar decide.
		s.logger.Warn("availability check failed", zap.String("domain", domain), zap.Error(err))
	} else if !avail.Available {
		return nil, ErrDomainUnavailable
	}

	p := &model.Purchase{
		Domain:      domain,
		Years:       years,
		AmountMicro: Quote(domain, years),
		State:       model.StateCreated,
	}
	if err := s.purchases.Create(ctx, p); err != nil {
		return nil, err
	}
	recordTransition(string(model.StateCreated))
	s.logger.Info("purchase created",
		zap.String("purchase_id", p.ID.String()),
		zap.String("domain", domain),
		zap.Int("years", years),
		zap.String("amount", p.AmountUSDC()))
	return p, nil
}

// GetPurchase loads a purchase, lazily expiring it if its challenge window
// has lapsed.
func (s *PurchaseService) GetPurchase(ctx context.Context, id uuid.UUID) (*model.Purchase, error) {
	p, err := s.purchases.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.lazyExpire(ctx, p)
}

// lazyExpire moves a stale pre-settlement purchase to expired on access. An
// expired purchase can never reach settling; the client must start over.
func (s *PurchaseService) lazyExpire(ctx context.Context, p *model.Purchase) (*model.Purchase, error) {
	switch p.State {
	case model.StateCreated, model.StateChallenged, model.StateAuthorized:
	default:
		return p, nil
	}
	if !p.ChallengeExpired(time.Now().UTC()) {
		return p, nil
	}
	err := s.purchases.UpdateState(ctx, p.ID, p.State, model.StateExpired)
	if err != nil && !errors.Is(err, repository.ErrStateConflict) {
		return nil, err
	}
	recordTransition(string(model.StateExpired))
	return s.purchases.GetByID(ctx, p.ID)
}

// IssueChallenge mints the payment terms for a purchase. Re-invocation on an
// already-challenged, unexpired purchase returns the stored challenge, so a
// client retry never invalidates an in-flight signature.
func (s *PurchaseService) IssueChallenge(ctx context.Context, id uuid.UUID) (*payment.Requirements, error) {
	p, err := s.GetPurchase(ctx, id)
	if err != nil {
		return nil, err
	}

	switch p.State {
	case model.StateCreated:
		if err := s.issuer.Mint(p, time.Now().UTC()); err != nil {
			return nil, err
		}
		if err := s.purchases.SetChallenge(ctx, p); err != nil {
			if errors.Is(err, repository.ErrStateConflict) {
				// Concurrent issue won; serve its challenge.
				return s.IssueChallenge(ctx, id)
			}
			return nil, err
		}
		recordTransition(string(model.StateChallenged))
		return s.issuer.Requirements(p), nil
	case model.StateChallenged:
		return s.issuer.Requirements(p), nil
	case model.StateExpired:
		return nil, ErrPurchaseExpired
	default:
		return nil, ErrWrongState
	}
}

// SubmitResult is the outcome of an authorization submission. For a purchase
// already past settlement it carries the recorded result.
type SubmitResult struct {
	Purchase *model.Purchase
	Record   *model.DomainRecord
}

// SubmitAuthorization verifies the payer's authorization, settles it through
// the backend and registers the domain. Safe to call repeatedly with the
// same purchase id: a purchase already settled or registered returns the
// recorded result, and concurrent calls resolve through the state
// compare-and-set to exactly one settlement.
func (s *PurchaseService) SubmitAuthorization(ctx context.Context, id uuid.UUID, payload *payment.Payload) (*SubmitResult, error) {
	p, err := s.GetPurchase(ctx, id)
	if err != nil {
		return nil, err
	}

	switch p.State {
	case model.StateChallenged:
		// proceed
	case model.StateAuthorized, model.StateSettling:
		// Another submission is in flight; report current progress.
		return &SubmitResult{Purchase: p}, nil
	case model.StateSettled, model.StateRegistered:
		return s.recordedResult(ctx, p)
	case model.StateExpired:
		return nil, ErrPurchaseExpired
	case model.StateSettlementFailed:
		return nil, ErrSettlementFailed
	case model.StateRegistrationFailed:
		return &SubmitResult{Purchase: p}, ErrRegistrationFailed
	default:
		return nil, ErrWrongState
	}

	auth := payload.Authorization
	if err := s.verifier.Verify(ctx, p, auth); err != nil {
		// Verification failure leaves the purchase challenged; the client
		// may retry with a corrected authorization.
		return nil, err
	}

	// Check the relayer can pay gas and the payer can cover the value
	// before committing the purchase to settlement, so neither burns a
	// purchase. The purchase stays challenged; the client may retry.
	if err := s.backend.Preflight(ctx, auth); err != nil {
		s.logger.Error("settlement preflight failed",
			zap.String("purchase_id", p.ID.String()), zap.Error(err))
		return nil, err
	}

	if err := s.purchases.SetPayer(ctx, p.ID, model.NormalizeWallet(auth.From)); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			// Lost the race; the winner's submission is settling.
			return s.SubmitAuthorization(ctx, id, payload)
		}
		return nil, err
	}
	recordTransition(string(model.StateAuthorized))

	if err := s.purchases.UpdateState(ctx, p.ID, model.StateAuthorized, model.StateSettling); err != nil {
		return nil, err
	}
	recordTransition(string(model.StateSettling))

	result, err := s.backend.Settle(ctx, auth)
	if err != nil {
		recordSettlement("failure")
		reason := err.Error()
		s.logger.Error("settlement failed",
			zap.String("purchase_id", p.ID.String()),
			zap.String("domain", p.Domain),
			zap.Error(err))
		// A submission that timed out or reverted still has a hash; pin
		// it before the failure transition so the operator can trace the
		// transfer from the reconciliation queue.
		if result != nil && result.TxHash != "" {
			if subErr := s.purchases.SetSubmitted(ctx, p.ID, result.TxHash); subErr != nil {
				s.logger.Error("record submitted tx hash", zap.Error(subErr))
			}
		}
		if failErr := s.purchases.SetFailed(ctx, p.ID, model.StateSettling, model.StateSettlementFailed, reason); failErr != nil {
			s.logger.Error("record settlement failure", zap.Error(failErr))
		}
		recordTransition(string(model.StateSettlementFailed))
		s.refreshReconciliationDepth(ctx)
		return nil, fmt.Errorf("%w: %s", ErrSettlementFailed, sanitizedSettlementReason(err))
	}
	recordSettlement("success")
	if err := s.purchases.SetSettled(ctx, p.ID, result.TxHash); err != nil {
		return nil, err
	}
	recordTransition(string(model.StateSettled))
	s.logger.Info("payment settled",
		zap.String("purchase_id", p.ID.String()),
		zap.String("domain", p.Domain),
		zap.String("tx_hash", result.TxHash),
		zap.String("payer", auth.From))

	p, err = s.purchases.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return s.register(ctx, p)
}

// register calls the registrar for a settled purchase and writes the
// ownership row. A registrar failure after settlement is the one state that
// must never be silent: funds moved, the good was not delivered.
func (s *PurchaseService) register(ctx context.Context, p *model.Purchase) (*SubmitResult, error) {
	reg, err := s.gateway.Register(ctx, p.Domain, p.Years, p.AmountMicro/10_000)
	recordRegistrarCall("register", err)
	if err != nil {
		s.logger.Error("REGISTRATION FAILED AFTER SETTLEMENT, manual reconciliation required",
			zap.String("purchase_id", p.ID.String()),
			zap.String("domain", p.Domain),
			zap.String("tx_hash", p.TxHash),
			zap.Error(err))
		if failErr := s.purchases.SetFailed(ctx, p.ID, p.State, model.StateRegistrationFailed, err.Error()); failErr != nil {
			s.logger.Error("record registration failure", zap.Error(failErr))
		}
		recordTransition(string(model.StateRegistrationFailed))
		s.refreshReconciliationDepth(ctx)
		p.State = model.StateRegistrationFailed
		return &SubmitResult{Purchase: p}, ErrRegistrationFailed
	}

	expiresAt, err := time.Parse("2006-01-02", reg.Expiration)
	if err != nil {
		expiresAt = time.Now().UTC().AddDate(p.Years, 0, 0)
	}
	record := &model.DomainRecord{
		Domain:      p.Domain,
		OwnerWallet: p.Payer,
		PurchaseID:  p.ID,
		ExpiresAt:   expiresAt,
		Nameservers: reg.Nameservers,
	}
	if err := s.domains.Create(ctx, record); err != nil {
		if !errors.Is(err, repository.ErrDomainExists) {
			return nil, err
		}
		// Re-entry after a crash between ledger write and state update.
		s.logger.Warn("ownership row already present", zap.String("domain", p.Domain))
	}
	if err := s.purchases.UpdateState(ctx, p.ID, p.State, model.StateRegistered); err != nil &&
		!errors.Is(err, repository.ErrStateConflict) {
		return nil, err
	}
	recordTransition(string(model.StateRegistered))
	s.logger.Info("domain registered",
		zap.String("purchase_id", p.ID.String()),
		zap.String("domain", p.Domain),
		zap.String("owner", record.OwnerWallet))

	p.State = model.StateRegistered
	return &SubmitResult{Purchase: p, Record: record}, nil
}

func (s *PurchaseService) recordedResult(ctx context.Context, p *model.Purchase) (*SubmitResult, error) {
	res := &SubmitResult{Purchase: p}
	if p.State == model.StateRegistered {
		record, err := s.domains.GetByName(ctx, p.Domain)
		if err != nil && !errors.Is(err, repository.ErrDomainNotFound) {
			return nil, err
		}
		res.Record = record
	}
	return res, nil
}

// RetryRegistration re-runs the registrar step for a purchase stuck in
// registration_failed. Operator-only; called from the reconciliation API.
func (s *PurchaseService) RetryRegistration(ctx context.Context, id uuid.UUID) (*SubmitResult, error) {
	p, err := s.purchases.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.State != model.StateRegistrationFailed {
		return nil, ErrWrongState
	}
	res, err := s.register(ctx, p)
	s.refreshReconciliationDepth(ctx)
	return res, err
}

// MarkRefunded resolves a failed purchase after the operator has refunded
// the payer out of band. Valid from registration_failed and from a
// settlement_failed purchase whose submission was confirmed to have landed.
func (s *PurchaseService) MarkRefunded(ctx context.Context, id uuid.UUID, note string) error {
	p, err := s.purchases.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !model.CanTransition(p.State, model.StateRefunded) {
		return ErrWrongState
	}
	if err := s.purchases.SetFailed(ctx, p.ID, p.State, model.StateRefunded, note); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return ErrWrongState
		}
		return err
	}
	recordTransition(string(model.StateRefunded))
	s.refreshReconciliationDepth(ctx)
	return nil
}

// ReconciliationQueue lists purchases needing operator attention: failed
// registrations, and timed-out settlements with a submitted transaction.
func (s *PurchaseService) ReconciliationQueue(ctx context.Context, limit int) ([]*model.Purchase, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.purchases.ListNeedingReconciliation(ctx, limit)
}

func (s *PurchaseService) refreshReconciliationDepth(ctx context.Context) {
	queue, err := s.purchases.ListNeedingReconciliation(ctx, 500)
	if err != nil {
		return
	}
	SetReconciliationDepth(float64(len(queue)))
}

// ExpireSweep moves stale pre-payment purchases to expired. Run periodically
// from main; expiry is also applied lazily on access.
func (s *PurchaseService) ExpireSweep(ctx context.Context) (int64, error) {
	n, err := s.purchases.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired stale purchases", zap.Int64("count", n))
	}
	s.refreshStateGauges(ctx)
	return n, nil
}

// refreshStateGauges republishes the per-state purchase counts. Piggybacks
// on the expiry sweep so the gauges track the database, not just the
// transitions this process happened to perform.
func (s *PurchaseService) refreshStateGauges(ctx context.Context) {
	counts, err := s.purchases.CountByState(ctx)
	if err != nil {
		s.logger.Warn("count purchases by state", zap.Error(err))
		return
	}
	setPurchaseStateCounts(counts)
}

// sanitizedSettlementReason maps settlement errors to client-safe messages.
// The raw error stays in the logs and the purchase row.
func sanitizedSettlementReason(err error) string {
	switch {
	case errors.Is(err, relayer.ErrReverted):
		return "the transfer was rejected on-chain; start a new purchase"
	case errors.Is(err, relayer.ErrConfirmTimeout):
		return "confirmation is taking longer than expected; your payment will be honored or refunded"
	default:
		return "the payment could not be settled"
	}
}
