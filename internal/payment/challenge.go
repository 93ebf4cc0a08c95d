package payment

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/clawdlabs/clawd-domains/internal/market/model"
)

// ChallengeIssuer constructs the payment requirement for a purchase. It is
// stateless; the nonce and window it mints are pinned onto the Purchase by
// the orchestrator, and re-issuing for the same purchase reproduces the
// stored challenge rather than minting a new nonce.
type ChallengeIssuer struct {
	domain   SigningDomain
	treasury string
	window   time.Duration
}

// NewChallengeIssuer creates a ChallengeIssuer. window bounds how long a
// payer has between challenge and settlement; 0 means 15 minutes.
func NewChallengeIssuer(domain SigningDomain, treasury string, window time.Duration) *ChallengeIssuer {
	if window == 0 {
		window = 15 * time.Minute
	}
	return &ChallengeIssuer{domain: domain, treasury: treasury, window: window}
}

// NewNonce returns a fresh random bytes32 nonce as 0x-prefixed hex.
func NewNonce() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(b[:]), nil
}

// Mint fixes the payment terms for a purchase: treasury recipient, a fresh
// nonce, and the validity window starting now. The caller persists these on
// the Purchase before the challenge is released to the payer.
func (c *ChallengeIssuer) Mint(p *model.Purchase, now time.Time) error {
	nonce, err := NewNonce()
	if err != nil {
		return err
	}
	p.Recipient = c.treasury
	p.Nonce = nonce
	p.ValidAfter = now.UTC()
	p.ValidBefore = now.UTC().Add(c.window)
	return nil
}

// Requirements renders the stored challenge terms of a purchase as the 402
// response body. Calling it twice for the same purchase yields the same
// challenge.
func (c *ChallengeIssuer) Requirements(p *model.Purchase) *Requirements {
	return &Requirements{
		Scheme:      "exact",
		Network:     fmt.Sprintf("eip155:%d", c.domain.ChainID),
		Asset:       c.domain.VerifyingContract,
		Amount:      p.AmountUSDC(),
		AmountMicro: p.AmountMicro,
		Recipient:   p.Recipient,
		Nonce:       p.Nonce,
		ValidAfter:  p.ValidAfter,
		ValidBefore: p.ValidBefore,
		Description: fmt.Sprintf("Domain %s (%d year)", p.Domain, p.Years),
	}
}

// Domain returns the signing domain challenges are issued under.
func (c *ChallengeIssuer) Domain() SigningDomain { return c.domain }
