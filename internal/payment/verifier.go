package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/clawdlabs/clawd-domains/internal/market/model"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
	"go.uber.org/zap"
)

// ClockSkew is the tolerance applied to the validity window. A signature a
// few seconds ahead of this server's clock is still accepted; anything
// beyond is not.
const ClockSkew = 6 * time.Second

// InvalidAuthorizationError is returned for any authorization the verifier
// rejects. Reason is an internal code retained for logs; clients only ever
// see the uniform error string.
type InvalidAuthorizationError struct {
	Reason string
}

func (e *InvalidAuthorizationError) Error() string {
	return "payment authorization rejected"
}

// ErrInvalidAuthorization can be used with errors.Is against any
// *InvalidAuthorizationError.
var ErrInvalidAuthorization = &InvalidAuthorizationError{}

// Is makes every InvalidAuthorizationError match ErrInvalidAuthorization.
func (e *InvalidAuthorizationError) Is(target error) bool {
	var other *InvalidAuthorizationError
	return errors.As(target, &other)
}

func invalid(format string, a ...any) error {
	return &InvalidAuthorizationError{Reason: fmt.Sprintf(format, a...)}
}

// NonceStateChecker reports whether an EIP-3009 nonce has already been
// consumed on-chain for a given authorizer. The real implementation queries
// authorizationState on the settlement asset contract.
type NonceStateChecker interface {
	AuthorizationUsed(ctx context.Context, authorizer string, nonce []byte) (bool, error)
}

// Verifier validates a payer-submitted authorization against the purchase's
// challenge and against chain state. Checks run in a fixed order and
// short-circuit on the first failure.
type Verifier struct {
	domain SigningDomain
	nonces NonceStateChecker
	logger *zap.Logger
}

// NewVerifier creates a Verifier. nonces may be nil, in which case the
// on-chain replay check is skipped (deterministic settlement backends have
// no chain to ask).
func NewVerifier(domain SigningDomain, nonces NonceStateChecker, logger *zap.Logger) *Verifier {
	return &Verifier{domain: domain, nonces: nonces, logger: logger}
}

// Verify runs the full check sequence. A nil return means the authorization
// is bound to this purchase, inside its window, sufficient in value,
// directed at the treasury, signed by its claimed payer, and unconsumed
// on-chain.
func (v *Verifier) Verify(ctx context.Context, p *model.Purchase, auth *Authorization) error {
	// 1. Nonce binds the signature to this purchase and no other.
	if auth.Nonce == "" || !strings.EqualFold(strings.TrimPrefix(auth.Nonce, "0x"), strings.TrimPrefix(p.Nonce, "0x")) {
		return invalid("nonce mismatch: got %s want %s", auth.Nonce, p.Nonce)
	}

	// 2. Validity window, with bounded skew.
	now := time.Now()
	if now.Add(ClockSkew).Before(time.Unix(auth.ValidAfter, 0)) {
		return invalid("authorization not yet valid (validAfter=%d)", auth.ValidAfter)
	}
	if now.After(time.Unix(auth.ValidBefore, 0).Add(ClockSkew)) {
		return invalid("authorization expired (validBefore=%d)", auth.ValidBefore)
	}

	// 3. Value covers the quote and the transfer goes to the treasury.
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return invalid("unparseable value %q", auth.Value)
	}
	if value.Cmp(big.NewInt(p.AmountMicro)) < 0 {
		return invalid("underpayment: %s < %d", auth.Value, p.AmountMicro)
	}
	if !SameAddress(auth.To, p.Recipient) {
		return invalid("recipient mismatch: %s != %s", auth.To, p.Recipient)
	}

	// 4. Signature recovers to the claimed payer under the asset's signing
	// domain. Domain separation is what stops a signature minted for one
	// chain/contract being replayed against another.
	fromAddr, err := ParseAddress(auth.From)
	if err != nil {
		return invalid("bad from address: %v", err)
	}
	digest, err := auth.Digest(ctx, v.domain)
	if err != nil {
		return invalid("digest: %v", err)
	}
	sigBytes, err := auth.SignatureBytes()
	if err != nil {
		return invalid("signature: %v", err)
	}
	sig, err := secp256k1.DecodeCompactRSV(ctx, sigBytes)
	if err != nil {
		return invalid("decode signature: %v", err)
	}
	recovered, err := sig.RecoverDirect(digest, v.domain.ChainID)
	if err != nil {
		return invalid("recover signer: %v", err)
	}
	if *recovered != *fromAddr {
		return invalid("signer %s does not match from %s", recovered, fromAddr)
	}

	// 5. The nonce must not already be consumed on-chain — an authorization
	// settled through another path must never settle twice.
	if v.nonces != nil {
		nonceBytes, err := auth.NonceBytes()
		if err != nil {
			return invalid("nonce: %v", err)
		}
		used, err := v.nonces.AuthorizationUsed(ctx, auth.From, nonceBytes)
		if err != nil {
			return fmt.Errorf("check authorization state: %w", err)
		}
		if used {
			return invalid("nonce already consumed on-chain")
		}
	}

	v.logger.Debug("authorization verified",
		zap.String("purchase_id", p.ID.String()),
		zap.String("payer", auth.From),
	)
	return nil
}
