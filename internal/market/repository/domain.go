package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clawdlabs/clawd-domains/internal/market/model"
)

// ErrDomainNotFound is returned when a domain has no ownership record.
var ErrDomainNotFound = errors.New("domain not found")

// ErrDomainExists is returned when a domain already has an owner.
var ErrDomainExists = errors.New("domain already registered")

// DomainRepository is the ownership ledger for registered domains.
type DomainRepository struct {
	db *pgxpool.Pool
}

// NewDomainRepository creates a new DomainRepository.
func NewDomainRepository(db *pgxpool.Pool) *DomainRepository {
	return &DomainRepository{db: db}
}

// Create records ownership exactly once. A second insert for the same domain
// surfaces as ErrDomainExists rather than overwriting the first owner.
func (r *DomainRepository) Create(ctx context.Context, d *model.DomainRecord) error {
	d.OwnerWallet = model.NormalizeWallet(d.OwnerWallet)
	d.RegisteredAt = time.Now().UTC()

	tag, err := r.db.Exec(ctx,
		`INSERT INTO domains (domain, owner_wallet, purchase_id, expires_at, nameservers, registered_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (domain) DO NOTHING`,
		d.Domain, d.OwnerWallet, d.PurchaseID, d.ExpiresAt, d.Nameservers, d.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("insert domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDomainExists
	}
	return nil
}

// GetByName returns the ownership record for a domain.
func (r *DomainRepository) GetByName(ctx context.Context, domain string) (*model.DomainRecord, error) {
	d := &model.DomainRecord{}
	err := r.db.QueryRow(ctx,
		`SELECT domain, owner_wallet, purchase_id, expires_at, nameservers, registered_at
		 FROM domains WHERE domain = $1`, domain,
	).Scan(&d.Domain, &d.OwnerWallet, &d.PurchaseID, &d.ExpiresAt, &d.Nameservers, &d.RegisteredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDomainNotFound
		}
		return nil, fmt.Errorf("get domain: %w", err)
	}
	return d, nil
}

// ListByOwner returns all domains owned by a wallet, newest first.
func (r *DomainRepository) ListByOwner(ctx context.Context, wallet string) ([]*model.DomainRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT domain, owner_wallet, purchase_id, expires_at, nameservers, registered_at
		 FROM domains WHERE owner_wallet = $1 ORDER BY registered_at DESC`,
		model.NormalizeWallet(wallet),
	)
	if err != nil {
		return nil, fmt.Errorf("list domains by owner: %w", err)
	}
	defer rows.Close()

	var out []*model.DomainRecord
	for rows.Next() {
		d := &model.DomainRecord{}
		if err := rows.Scan(&d.Domain, &d.OwnerWallet, &d.PurchaseID, &d.ExpiresAt, &d.Nameservers, &d.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// VerifyOwner reports whether the wallet owns the domain. Wallet comparison
// is case-insensitive; hex addresses have no canonical case on the wire.
func (r *DomainRepository) VerifyOwner(ctx context.Context, domain, wallet string) (bool, error) {
	var owner string
	err := r.db.QueryRow(
		ctx, `SELECT owner_wallet FROM domains WHERE domain = $1`, domain,
	).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("verify domain owner: %w", err)
	}
	return owner == model.NormalizeWallet(wallet), nil
}

// UpdateNameservers replaces the cached nameserver set for a domain.
func (r *DomainRepository) UpdateNameservers(ctx context.Context, domain string, nameservers []string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE domains SET nameservers = $1 WHERE domain = $2`,
		nameservers, domain,
	)
	if err != nil {
		return fmt.Errorf("update domain nameservers: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDomainNotFound
	}
	return nil
}
