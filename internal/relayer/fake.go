package relayer

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/clawdlabs/clawd-domains/internal/payment"
)

// Fake is a Backend for development and tests. Settlements succeed
// instantly with a deterministic transaction hash derived from the
// authorization nonce, and repeated nonces are rejected the way the token
// contract would reject them.
type Fake struct {
	// PreflightErr, when set, is returned by every Preflight call.
	PreflightErr error
	// SettleErr, when set, is returned by every Settle call.
	SettleErr error
	// Delay is slept before each settlement completes.
	Delay time.Duration

	mu   sync.Mutex
	used map[string]bool
}

// NewFake creates a Fake backend that always succeeds.
func NewFake(logger *zap.Logger) *Fake {
	logger.Warn("settlement running in fake mode, no funds will move")
	return &Fake{used: make(map[string]bool)}
}

func (f *Fake) Preflight(ctx context.Context, auth *payment.Authorization) error {
	return f.PreflightErr
}

func (f *Fake) Settle(ctx context.Context, auth *payment.Authorization) (*Result, error) {
	if f.SettleErr != nil {
		// Mirror the real backend: a confirmation timeout still hands
		// back the submitted hash for reconciliation.
		if errors.Is(f.SettleErr, ErrConfirmTimeout) {
			return &Result{TxHash: f.txHash(auth)}, f.SettleErr
		}
		return nil, f.SettleErr
	}
	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.Delay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.used == nil {
		f.used = make(map[string]bool)
	}
	if f.used[auth.Nonce] {
		return nil, ErrReverted
	}
	f.used[auth.Nonce] = true

	return &Result{
		TxHash:      f.txHash(auth),
		BlockNumber: int64(len(f.used)),
		GasUsed:     65_000,
	}, nil
}

func (f *Fake) txHash(auth *payment.Authorization) string {
	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(auth.From))
	hash.Write([]byte(auth.Nonce))
	return "0x" + hex.EncodeToString(hash.Sum(nil))
}
