package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clawdlabs/clawd-domains/internal/market/model"
)

// ErrPurchaseNotFound is returned when a purchase does not exist.
var ErrPurchaseNotFound = errors.New("purchase not found")

// ErrStateConflict is returned when a compare-and-set state transition loses
// to a concurrent writer. Callers should reload and re-evaluate.
var ErrStateConflict = errors.New("purchase state conflict")

const purchaseColumns = `id, domain, years, amount_micro, recipient, nonce,
	 valid_after, valid_before, state, payer, tx_hash, fail_reason, created_at, updated_at`

// PurchaseRepository provides persistence for purchase intents.
type PurchaseRepository struct {
	db *pgxpool.Pool
}

// NewPurchaseRepository creates a new PurchaseRepository.
func NewPurchaseRepository(db *pgxpool.Pool) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// Create inserts a new purchase record in its initial state.
func (r *PurchaseRepository) Create(ctx context.Context, p *model.Purchase) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt

	_, err := r.db.Exec(ctx,
		`INSERT INTO purchases (id, domain, years, amount_micro, recipient, nonce,
		  valid_after, valid_before, state, payer, tx_hash, fail_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.Domain, p.Years, p.AmountMicro, p.Recipient, p.Nonce,
		p.ValidAfter, p.ValidBefore, p.State, p.Payer, p.TxHash, p.FailReason, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

// GetByID returns a single purchase by its UUID.
func (r *PurchaseRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Purchase, error) {
	p := &model.Purchase{}
	err := r.db.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id,
	).Scan(&p.ID, &p.Domain, &p.Years, &p.AmountMicro, &p.Recipient, &p.Nonce,
		&p.ValidAfter, &p.ValidBefore, &p.State, &p.Payer, &p.TxHash, &p.FailReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	return p, nil
}

// UpdateState performs a compare-and-set transition from the expected state.
// A concurrent writer that got there first surfaces as ErrStateConflict.
func (r *PurchaseRepository) UpdateState(ctx context.Context, id uuid.UUID, from, to model.PurchaseState) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE purchases SET state = $1, updated_at = now() WHERE id = $2 AND state = $3`,
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("update purchase state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStateConflict
	}
	return nil
}

// SetChallenge stores the minted payment terms alongside the state change to
// challenged. Only valid from the created state.
func (r *PurchaseRepository) SetChallenge(ctx context.Context, p *model.Purchase) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE purchases
		 SET recipient = $1, nonce = $2, valid_after = $3, valid_before = $4,
		     state = $5, updated_at = now()
		 WHERE id = $6 AND state = $7`,
		p.Recipient, p.Nonce, p.ValidAfter, p.ValidBefore,
		model.StateChallenged, p.ID, model.StateCreated,
	)
	if err != nil {
		return fmt.Errorf("set purchase challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, p.ID); getErr != nil {
			return getErr
		}
		return ErrStateConflict
	}
	p.State = model.StateChallenged
	return nil
}

// SetPayer records the authorizing wallet on the transition to authorized.
func (r *PurchaseRepository) SetPayer(ctx context.Context, id uuid.UUID, payer string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE purchases SET payer = $1, state = $2, updated_at = now()
		 WHERE id = $3 AND state = $4`,
		payer, model.StateAuthorized, id, model.StateChallenged,
	)
	if err != nil {
		return fmt.Errorf("set purchase payer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStateConflict
	}
	return nil
}

// SetSettled records the confirmed transaction hash on the transition from
// settling to settled.
func (r *PurchaseRepository) SetSettled(ctx context.Context, id uuid.UUID, txHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE purchases SET tx_hash = $1, state = $2, updated_at = now()
		 WHERE id = $3 AND state = $4`,
		txHash, model.StateSettled, id, model.StateSettling,
	)
	if err != nil {
		return fmt.Errorf("set purchase settled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStateConflict
	}
	return nil
}

// SetSubmitted records the transaction hash of a settlement that was
// accepted by the node but not yet confirmed. Only valid while settling, so
// a hash is pinned to the purchase before any failure transition can fire.
func (r *PurchaseRepository) SetSubmitted(ctx context.Context, id uuid.UUID, txHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE purchases SET tx_hash = $1, updated_at = now()
		 WHERE id = $2 AND state = $3`,
		txHash, id, model.StateSettling,
	)
	if err != nil {
		return fmt.Errorf("set purchase tx hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStateConflict
	}
	return nil
}

// SetFailed moves a purchase into a terminal failure state, recording an
// operator-facing reason. The reason is never served to API clients.
func (r *PurchaseRepository) SetFailed(ctx context.Context, id uuid.UUID, from, to model.PurchaseState, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE purchases SET state = $1, fail_reason = $2, updated_at = now()
		 WHERE id = $3 AND state = $4`,
		to, reason, id, from,
	)
	if err != nil {
		return fmt.Errorf("set purchase failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStateConflict
	}
	return nil
}

// ExpireStale moves every pre-payment purchase whose challenge window has
// lapsed into the expired state. Returns the number of rows moved. A created
// purchase that never minted a challenge has a zero valid_before (stored as
// the zero timestamp, not NULL) and is left alone.
func (r *PurchaseRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE purchases SET state = $1, updated_at = now()
		 WHERE state IN ($2, $3) AND valid_before > $4 AND valid_before < $5`,
		model.StateExpired, model.StateCreated, model.StateChallenged, time.Time{}, now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire stale purchases: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByState returns purchases in the given state, oldest first. Used by the
// admin reconciliation API and the stuck-settlement sweep.
func (r *PurchaseRepository) ListByState(ctx context.Context, state model.PurchaseState, limit int) ([]*model.Purchase, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+purchaseColumns+` FROM purchases
		 WHERE state = $1 ORDER BY created_at ASC LIMIT $2`,
		state, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list purchases by state: %w", err)
	}
	defer rows.Close()

	var out []*model.Purchase
	for rows.Next() {
		p := &model.Purchase{}
		if err := rows.Scan(&p.ID, &p.Domain, &p.Years, &p.AmountMicro, &p.Recipient, &p.Nonce,
			&p.ValidAfter, &p.ValidBefore, &p.State, &p.Payer, &p.TxHash, &p.FailReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListNeedingReconciliation returns the purchases where money moved but the
// good was not delivered: registrations that failed after settlement, and
// settlements whose confirmation timed out with a submitted transaction.
func (r *PurchaseRepository) ListNeedingReconciliation(ctx context.Context, limit int) ([]*model.Purchase, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+purchaseColumns+` FROM purchases
		 WHERE state = $1 OR (state = $2 AND tx_hash <> '')
		 ORDER BY created_at ASC LIMIT $3`,
		model.StateRegistrationFailed, model.StateSettlementFailed, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation purchases: %w", err)
	}
	defer rows.Close()

	var out []*model.Purchase
	for rows.Next() {
		p := &model.Purchase{}
		if err := rows.Scan(&p.ID, &p.Domain, &p.Years, &p.AmountMicro, &p.Recipient, &p.Nonce,
			&p.ValidAfter, &p.ValidBefore, &p.State, &p.Payer, &p.TxHash, &p.FailReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountByState returns the number of purchases per state, for metrics and
// the admin overview.
func (r *PurchaseRepository) CountByState(ctx context.Context) (map[model.PurchaseState]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT state, COUNT(*) FROM purchases GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count purchases by state: %w", err)
	}
	defer rows.Close()

	out := make(map[model.PurchaseState]int64)
	for rows.Next() {
		var state model.PurchaseState
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan purchase count: %w", err)
		}
		out[state] = n
	}
	return out, rows.Err()
}
