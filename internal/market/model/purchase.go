package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PurchaseState is the lifecycle state of a domain purchase.
type PurchaseState string

const (
	StateCreated            PurchaseState = "created"
	StateChallenged         PurchaseState = "challenged"
	StateAuthorized         PurchaseState = "authorized"
	StateSettling           PurchaseState = "settling"
	StateSettled            PurchaseState = "settled"
	StateRegistered         PurchaseState = "registered"
	StateExpired            PurchaseState = "expired"
	StateSettlementFailed   PurchaseState = "settlement_failed"
	StateRegistrationFailed PurchaseState = "registration_failed"
	StateRefunded           PurchaseState = "refunded"
)

// AllStates lists every lifecycle state, in rough lifecycle order.
var AllStates = []PurchaseState{
	StateCreated, StateChallenged, StateAuthorized, StateSettling,
	StateSettled, StateRegistered, StateExpired,
	StateSettlementFailed, StateRegistrationFailed, StateRefunded,
}

// forward is the set of permitted state transitions. Anything not listed is
// rejected; there are no backward edges.
var forward = map[PurchaseState][]PurchaseState{
	StateCreated:    {StateChallenged, StateExpired},
	StateChallenged: {StateAuthorized, StateExpired},
	StateAuthorized: {StateSettling, StateExpired},
	StateSettling:   {StateSettled, StateSettlementFailed},
	StateSettled:    {StateRegistered, StateRegistrationFailed},

	// Operator reconciliation: funds moved but the domain was not
	// delivered. Resolved by a successful registration retry or a refund.
	StateRegistrationFailed: {StateRegistered, StateRefunded},
	// A timed-out settlement may have landed on-chain; once the operator
	// confirms what happened the only exit is a refund.
	StateSettlementFailed: {StateRefunded},
}

// CanTransition reports whether a purchase may move from one state to another.
func CanTransition(from, to PurchaseState) bool {
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state accepts no further transitions.
func (s PurchaseState) Terminal() bool {
	return len(forward[s]) == 0
}

// Purchase is one attempt to buy a domain. The ID is the idempotency key for
// every call that follows creation. Amount, recipient and nonce are fixed at
// challenge issuance and immutable afterwards.
type Purchase struct {
	ID          uuid.UUID     `json:"id"`
	Domain      string        `json:"domain"`
	Years       int           `json:"years"`
	AmountMicro int64         `json:"amount_micro"` // micro-USDC (6 decimals)
	Recipient   string        `json:"recipient"`    // treasury address
	Nonce       string        `json:"nonce"`        // bytes32 hex, unique per purchase
	ValidAfter  time.Time     `json:"valid_after"`
	ValidBefore time.Time     `json:"valid_before"`
	State       PurchaseState `json:"state"`
	Payer       string        `json:"payer,omitempty"`   // from address, set at authorization
	TxHash      string        `json:"tx_hash,omitempty"` // set once settlement is submitted
	FailReason  string        `json:"-"`                 // internal only, never echoed to clients
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// AmountUSDC renders the quote in human units, e.g. "4.99".
func (p *Purchase) AmountUSDC() string {
	return FormatMicroUSDC(p.AmountMicro)
}

// ChallengeExpired reports whether the payment window has closed.
func (p *Purchase) ChallengeExpired(now time.Time) bool {
	return !p.ValidBefore.IsZero() && now.After(p.ValidBefore)
}

// FormatMicroUSDC renders a micro-USDC amount as a decimal string.
func FormatMicroUSDC(micro int64) string {
	whole := micro / 1_000_000
	frac := micro % 1_000_000
	s := fmt.Sprintf("%d.%06d", whole, frac)
	// Trim to two decimal places minimum, dropping only trailing zeros beyond.
	s = strings.TrimRight(s, "0")
	if i := strings.IndexByte(s, '.'); len(s)-i-1 < 2 {
		s += strings.Repeat("0", 2-(len(s)-i-1))
	}
	return s
}
