package payment

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Requirements is the 402 challenge body sent to the payer: everything a
// wallet-side signer needs to construct the structured signature
// deterministically. Amounts appear both in human units and in integer
// micro-units so clients never re-derive the conversion.
type Requirements struct {
	Scheme      string    `json:"scheme"`  // "exact"
	Network     string    `json:"network"` // CAIP-2, e.g. "eip155:8453"
	Asset       string    `json:"asset"`   // settlement asset contract address
	Amount      string    `json:"amount"`  // human units, e.g. "4.99"
	AmountMicro int64     `json:"amount_micro"`
	Recipient   string    `json:"recipient"`
	Nonce       string    `json:"nonce"`
	ValidAfter  time.Time `json:"valid_after"`
	ValidBefore time.Time `json:"valid_before"`
	Description string    `json:"description,omitempty"`
}

// Payload is the wire form of a payer's response to a challenge: the
// EIP-3009 tuple plus its signature, carried as one opaque value the server
// can parse without ambiguity.
type Payload struct {
	Scheme        string         `json:"scheme"`
	Network       string         `json:"network"`
	Signature     string         `json:"signature"`
	Authorization *Authorization `json:"authorization"`
}

// EncodePayload serializes a payment payload to the base64 string carried in
// the X-Payment header.
func EncodePayload(p *Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePayload parses a base64 X-Payment header value. The authorization's
// Signature field is populated from the envelope so callers deal with one
// object.
func DecodePayload(encoded string) (*Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode payment payload: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse payment payload: %w", err)
	}
	if p.Authorization == nil {
		return nil, fmt.Errorf("payment payload missing authorization")
	}
	if p.Signature == "" {
		return nil, fmt.Errorf("payment payload missing signature")
	}
	p.Authorization.Signature = p.Signature
	return &p, nil
}
