// Package payment implements the challenge/authorization half of the
// purchase flow: issuing HTTP-402 payment requirements, parsing the signed
// EIP-3009 authorization a payer returns, and verifying it against both the
// challenge and chain state.
package payment

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hyperledger/firefly-signer/pkg/eip712"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

// Authorization is the signed EIP-3009 transferWithAuthorization tuple
// submitted by the payer. It is transient: once verified, only the fields
// already fixed on the Purchase (nonce, payer) outlive it.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"` // uint256 decimal string, micro-USDC
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Nonce       string `json:"nonce"` // bytes32 hex
	Signature   string `json:"-"`     // 65-byte RSV hex, carried alongside
}

// SigningDomain identifies the EIP-712 domain the authorization must be
// signed under: the settlement asset's contract on a specific chain.
// Signatures made under any other domain do not recover to the payer.
type SigningDomain struct {
	Name              string // e.g. "USD Coin"
	Version           string // e.g. "2"
	ChainID           int64
	VerifyingContract string // asset contract address
}

// transferWithAuthorizationTypes is the EIP-712 type set for EIP-3009.
var transferWithAuthorizationTypes = eip712.TypeSet{
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
	eip712.EIP712Domain: {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
}

// Digest computes the EIP-712 digest the payer's wallet signed. This is the
// exact payload eth_signTypedData_v4 produces for the same inputs, so a
// standard wallet-side signer and this server agree byte-for-byte.
func (a *Authorization) Digest(ctx context.Context, domain SigningDomain) ([]byte, error) {
	digest, err := eip712.EncodeTypedDataV4(ctx, &eip712.TypedData{
		Types:       transferWithAuthorizationTypes,
		PrimaryType: "TransferWithAuthorization",
		Domain: map[string]interface{}{
			"name":              domain.Name,
			"version":           domain.Version,
			"chainId":           domain.ChainID,
			"verifyingContract": domain.VerifyingContract,
		},
		Message: map[string]interface{}{
			"from":        a.From,
			"to":          a.To,
			"value":       a.Value,
			"validAfter":  fmt.Sprintf("%d", a.ValidAfter),
			"validBefore": fmt.Sprintf("%d", a.ValidBefore),
			"nonce":       a.Nonce,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode typed data: %w", err)
	}
	return digest, nil
}

// SignatureBytes decodes the 65-byte R||S||V signature.
func (a *Authorization) SignatureBytes() ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(a.Signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signature hex: %w", err)
	}
	if len(raw) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(raw))
	}
	return raw, nil
}

// NonceBytes decodes the bytes32 nonce.
func (a *Authorization) NonceBytes() ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(a.Nonce, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode nonce hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("nonce must be 32 bytes, got %d", len(raw))
	}
	return raw, nil
}

// ParseAddress validates and parses a 0x-prefixed EVM address.
func ParseAddress(s string) (*ethtypes.Address0xHex, error) {
	addr, err := ethtypes.NewAddress(s)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return addr, nil
}

// SameAddress compares two address strings case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(a, "0x"), strings.TrimPrefix(b, "0x"))
}
