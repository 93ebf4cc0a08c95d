package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/hyperledger/firefly-signer/pkg/abi"
	"github.com/hyperledger/firefly-signer/pkg/ethsigner"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

// EIP-3009 surface of the settlement token, plus balanceOf for treasury
// reconciliation.
var (
	transferWithAuthorizationABI = &abi.Entry{
		Type: abi.Function,
		Name: "transferWithAuthorization",
		Inputs: abi.ParameterArray{
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
			{Name: "v", Type: "uint8"},
			{Name: "r", Type: "bytes32"},
			{Name: "s", Type: "bytes32"},
		},
	}
	authorizationStateABI = &abi.Entry{
		Type: abi.Function,
		Name: "authorizationState",
		Inputs: abi.ParameterArray{
			{Name: "authorizer", Type: "address"},
			{Name: "nonce", Type: "bytes32"},
		},
		Outputs: abi.ParameterArray{
			{Name: "", Type: "bool"},
		},
	}
	balanceOfABI = &abi.Entry{
		Type: abi.Function,
		Name: "balanceOf",
		Inputs: abi.ParameterArray{
			{Name: "account", Type: "address"},
		},
		Outputs: abi.ParameterArray{
			{Name: "", Type: "uint256"},
		},
	}
)

// Token wraps the ERC-20/EIP-3009 contract the market settles in.
type Token struct {
	address *ethtypes.Address0xHex
	client  Client
}

func NewToken(address string, client Client) (*Token, error) {
	addr, err := ethtypes.NewAddress(address)
	if err != nil {
		return nil, fmt.Errorf("invalid token contract address %q: %w", address, err)
	}
	return &Token{address: addr, client: client}, nil
}

func (t *Token) Address() *ethtypes.Address0xHex { return t.address }

// TransferWithAuthorizationData encodes the calldata for a delegated
// transfer. v, r, s are the split pieces of the payer's compact signature.
func (t *Token) TransferWithAuthorizationData(ctx context.Context, from, to string, value *big.Int, validAfter, validBefore int64, nonce []byte, v int, r, s []byte) ([]byte, error) {
	args, err := json.Marshal([]interface{}{
		from,
		to,
		value.String(),
		fmt.Sprintf("%d", validAfter),
		fmt.Sprintf("%d", validBefore),
		ethtypes.HexBytes0xPrefix(nonce).String(),
		fmt.Sprintf("%d", v),
		ethtypes.HexBytes0xPrefix(r).String(),
		ethtypes.HexBytes0xPrefix(s).String(),
	})
	if err != nil {
		return nil, err
	}
	return transferWithAuthorizationABI.EncodeCallDataJSONCtx(ctx, args)
}

// AuthorizationUsed reports whether the payer has already consumed the
// nonce on-chain. Implements the verifier's nonce-state check.
func (t *Token) AuthorizationUsed(ctx context.Context, authorizer string, nonce []byte) (bool, error) {
	args, err := json.Marshal([]interface{}{
		authorizer,
		ethtypes.HexBytes0xPrefix(nonce).String(),
	})
	if err != nil {
		return false, err
	}
	data, err := authorizationStateABI.EncodeCallDataJSONCtx(ctx, args)
	if err != nil {
		return false, fmt.Errorf("encode authorizationState: %w", err)
	}
	out, err := t.client.Call(ctx, &ethsigner.Transaction{
		To:   t.address,
		Data: ethtypes.HexBytes0xPrefix(data),
	})
	if err != nil {
		return false, err
	}
	return new(big.Int).SetBytes(out).Sign() > 0, nil
}

// BalanceOf returns the token balance of an address, in base units.
func (t *Token) BalanceOf(ctx context.Context, account string) (*big.Int, error) {
	args, err := json.Marshal([]interface{}{account})
	if err != nil {
		return nil, err
	}
	data, err := balanceOfABI.EncodeCallDataJSONCtx(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("encode balanceOf: %w", err)
	}
	out, err := t.client.Call(ctx, &ethsigner.Transaction{
		To:   t.address,
		Data: ethtypes.HexBytes0xPrefix(data),
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}
