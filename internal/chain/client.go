// Package chain is a thin JSON-RPC client for the settlement chain. It
// covers only the calls the relayer and verifier need; anything fancier
// (event streams, websockets) is out of scope for this service.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hyperledger/firefly-signer/pkg/ethsigner"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/hyperledger/firefly-signer/pkg/rpcbackend"
	"go.uber.org/zap"
)

// Client is the subset of eth_* JSON-RPC this service uses.
type Client interface {
	ChainID() int64
	GasPrice(ctx context.Context) (*ethtypes.HexInteger, error)
	GasEstimate(ctx context.Context, tx *ethsigner.Transaction) (*ethtypes.HexInteger, error)
	GetBalance(ctx context.Context, address string) (*ethtypes.HexInteger, error)
	GetTransactionCount(ctx context.Context, address string) (*ethtypes.HexUint64, error)
	Call(ctx context.Context, tx *ethsigner.Transaction) (ethtypes.HexBytes0xPrefix, error)
	SendRawTransaction(ctx context.Context, rawTX []byte) (string, error)
	GetTransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
}

type client struct {
	chainID int64
	rpc     rpcbackend.Backend
	logger  *zap.Logger
}

// NewClient connects to the given RPC URL and resolves the chain ID. The
// resolved ID is validated against expectChainID when non-zero, so a
// misconfigured RPC endpoint fails at startup rather than at settlement.
func NewClient(ctx context.Context, rpcURL string, expectChainID int64, timeout time.Duration, logger *zap.Logger) (Client, error) {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	rest := resty.New().SetBaseURL(rpcURL).SetTimeout(timeout)
	c := &client{
		rpc:    rpcbackend.NewRPCClient(rest),
		logger: logger,
	}

	var chainID ethtypes.HexUint64
	if rpcErr := c.rpc.CallRPC(ctx, &chainID, "eth_chainId"); rpcErr != nil {
		return nil, fmt.Errorf("eth_chainId: %w", rpcErr.Error())
	}
	c.chainID = int64(chainID.Uint64())
	if expectChainID != 0 && c.chainID != expectChainID {
		return nil, fmt.Errorf("RPC endpoint reports chain %d, expected %d", c.chainID, expectChainID)
	}
	logger.Info("connected to settlement chain", zap.Int64("chain_id", c.chainID))
	return c, nil
}

func (c *client) ChainID() int64 { return c.chainID }

func (c *client) GasPrice(ctx context.Context) (*ethtypes.HexInteger, error) {
	var gasPrice ethtypes.HexInteger
	if rpcErr := c.rpc.CallRPC(ctx, &gasPrice, "eth_gasPrice"); rpcErr != nil {
		return nil, fmt.Errorf("eth_gasPrice: %w", rpcErr.Error())
	}
	return &gasPrice, nil
}

func (c *client) GasEstimate(ctx context.Context, tx *ethsigner.Transaction) (*ethtypes.HexInteger, error) {
	var estimate ethtypes.HexInteger
	if rpcErr := c.rpc.CallRPC(ctx, &estimate, "eth_estimateGas", tx); rpcErr != nil {
		return nil, fmt.Errorf("eth_estimateGas: %w", rpcErr.Error())
	}
	return &estimate, nil
}

func (c *client) GetBalance(ctx context.Context, address string) (*ethtypes.HexInteger, error) {
	var balance ethtypes.HexInteger
	if rpcErr := c.rpc.CallRPC(ctx, &balance, "eth_getBalance", address, "latest"); rpcErr != nil {
		return nil, fmt.Errorf("eth_getBalance(%s): %w", address, rpcErr.Error())
	}
	return &balance, nil
}

func (c *client) GetTransactionCount(ctx context.Context, address string) (*ethtypes.HexUint64, error) {
	var count ethtypes.HexUint64
	if rpcErr := c.rpc.CallRPC(ctx, &count, "eth_getTransactionCount", address, "latest"); rpcErr != nil {
		return nil, fmt.Errorf("eth_getTransactionCount(%s): %w", address, rpcErr.Error())
	}
	return &count, nil
}

func (c *client) Call(ctx context.Context, tx *ethsigner.Transaction) (ethtypes.HexBytes0xPrefix, error) {
	var data ethtypes.HexBytes0xPrefix
	if rpcErr := c.rpc.CallRPC(ctx, &data, "eth_call", tx, "latest"); rpcErr != nil {
		return nil, fmt.Errorf("eth_call: %w", rpcErr.Error())
	}
	return data, nil
}

func (c *client) SendRawTransaction(ctx context.Context, rawTX []byte) (string, error) {
	var txHash ethtypes.HexBytes0xPrefix
	if rpcErr := c.rpc.CallRPC(ctx, &txHash, "eth_sendRawTransaction", ethtypes.HexBytes0xPrefix(rawTX)); rpcErr != nil {
		return "", fmt.Errorf("eth_sendRawTransaction: %w", rpcErr.Error())
	}
	return txHash.String(), nil
}

// GetTransactionReceipt returns nil without error while the transaction is
// still pending.
func (c *client) GetTransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var receipt *receiptJSONRPC
	if rpcErr := c.rpc.CallRPC(ctx, &receipt, "eth_getTransactionReceipt", txHash); rpcErr != nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt: %w", rpcErr.Error())
	}
	if receipt == nil {
		return nil, nil
	}
	out := &Receipt{
		TxHash:  txHash,
		Success: receipt.Status != nil && receipt.Status.BigInt().Sign() > 0,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.BigInt().Int64()
	}
	if receipt.GasUsed != nil {
		out.GasUsed = receipt.GasUsed.BigInt().Int64()
	}
	if receipt.RevertReason != nil {
		out.RevertReason = decodeRevertReason(*receipt.RevertReason)
	}
	return out, nil
}
