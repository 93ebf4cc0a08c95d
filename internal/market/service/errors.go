package service

import "errors"

var (
	// ErrInvalidDomain is returned for syntactically invalid domain names.
	ErrInvalidDomain = errors.New("invalid domain name")

	// ErrDomainUnavailable is returned when the registrar reports the domain
	// as taken at purchase time.
	ErrDomainUnavailable = errors.New("domain not available")

	// ErrPurchaseExpired is returned when the challenge window has lapsed.
	ErrPurchaseExpired = errors.New("purchase expired")

	// ErrWrongState is returned when an operation does not apply to the
	// purchase's current state.
	ErrWrongState = errors.New("operation not valid in current purchase state")

	// ErrSettlementFailed is returned when the payment could not be settled.
	// The purchase is terminal; no funds moved unless a txHash was recorded.
	ErrSettlementFailed = errors.New("payment settlement failed")

	// ErrRegistrationFailed is returned when payment settled but the
	// registrar could not register the domain. Requires operator
	// reconciliation.
	ErrRegistrationFailed = errors.New("domain registration failed")

	// ErrNotPermitted is the uniform answer for ownership-gated operations,
	// covering both "no such domain" and "not yours" so callers cannot probe
	// the ledger.
	ErrNotPermitted = errors.New("not permitted")
)
