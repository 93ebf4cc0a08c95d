// Package relayer submits delegated token transfers on behalf of payers.
// The service wallet pays gas; the payer only signs an EIP-3009
// authorization. A fake backend (fake.go) stands in for the chain in
// development and tests.
package relayer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/hyperledger/firefly-signer/pkg/ethsigner"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/clawdlabs/clawd-domains/internal/chain"
	"github.com/clawdlabs/clawd-domains/internal/payment"
)

var (
	// ErrUnderfunded is returned by Preflight when the relayer wallet cannot
	// cover gas for a settlement. Nothing has been submitted.
	ErrUnderfunded = errors.New("relayer wallet underfunded")

	// ErrReverted is returned when the settlement transaction was mined but
	// reverted. The authorization nonce may or may not be consumed.
	ErrReverted = errors.New("settlement transaction reverted")

	// ErrConfirmTimeout is returned when the transaction was accepted by the
	// node but no receipt appeared within the confirmation window. The
	// transfer may still land; the Result carries the tx hash so the
	// purchase can be queued for reconciliation.
	ErrConfirmTimeout = errors.New("timed out waiting for settlement confirmation")

	// ErrPayerUnderfunded is returned when the payer's token balance cannot
	// cover the authorized value. Nothing has been submitted; the payer can
	// top up and resubmit the same authorization.
	ErrPayerUnderfunded = errors.New("payer balance below authorized value")
)

// Result describes a settlement. On ErrReverted and ErrConfirmTimeout a
// partial Result carrying only the tx hash accompanies the error.
type Result struct {
	TxHash      string
	BlockNumber int64
	GasUsed     int64
}

// Backend settles verified payment authorizations.
type Backend interface {
	// Preflight checks the settlement can succeed right now: the backend
	// can afford gas and the payer can cover the authorized value.
	Preflight(ctx context.Context, auth *payment.Authorization) error
	// Settle submits the delegated transfer and waits for confirmation.
	Settle(ctx context.Context, auth *payment.Authorization) (*Result, error)
}

// Config tunes the relayer.
type Config struct {
	// MinGasWei is the wallet balance below which Preflight refuses to
	// settle.
	MinGasWei *big.Int
	// GasLimitFactor scales eth_estimateGas to leave headroom. Values
	// below 1.0 are treated as the default of 1.5.
	GasLimitFactor float64
	// ConfirmTimeout bounds the receipt poll. Default 2 minutes.
	ConfirmTimeout time.Duration
	// PollInterval is the initial receipt poll interval. Default 2s,
	// doubling up to 8x.
	PollInterval time.Duration
}

// Relayer is the production Backend. Submissions are serialized so the
// wallet's transaction nonce is never raced.
type Relayer struct {
	keypair *secp256k1.KeyPair
	client  chain.Client
	token   *chain.Token
	cfg     Config
	logger  *zap.Logger

	mu sync.Mutex
}

// New creates a Relayer from a hex-encoded private key.
func New(privateKeyHex string, client chain.Client, token *chain.Token, cfg Config, logger *zap.Logger) (*Relayer, error) {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid relayer private key: %w", err)
	}
	keypair, err := secp256k1.NewSecp256k1KeyPair(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid relayer private key: %w", err)
	}
	if cfg.GasLimitFactor < 1.0 {
		cfg.GasLimitFactor = 1.5
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MinGasWei == nil {
		cfg.MinGasWei = big.NewInt(0)
	}
	logger.Info("relayer wallet loaded", zap.String("address", keypair.Address.String()))
	return &Relayer{keypair: keypair, client: client, token: token, cfg: cfg, logger: logger}, nil
}

// Address returns the relayer wallet address.
func (r *Relayer) Address() string {
	return r.keypair.Address.String()
}

// Preflight verifies the wallet holds enough native token for gas and the
// payer holds enough of the settlement token to cover the authorized value.
// Called before a purchase is committed to settling, so neither an
// underfunded wallet nor a broke payer ever burns a purchase.
func (r *Relayer) Preflight(ctx context.Context, auth *payment.Authorization) error {
	balance, err := r.client.GetBalance(ctx, r.keypair.Address.String())
	if err != nil {
		return fmt.Errorf("check relayer balance: %w", err)
	}
	if balance.BigInt().Cmp(r.cfg.MinGasWei) < 0 {
		r.logger.Warn("relayer wallet below gas floor",
			zap.String("balance_wei", balance.BigInt().String()),
			zap.String("floor_wei", r.cfg.MinGasWei.String()))
		return ErrUnderfunded
	}
	return r.checkPayerBalance(ctx, auth)
}

// Settle builds, signs and submits transferWithAuthorization, then polls for
// the receipt until confirmation or timeout.
func (r *Relayer) Settle(ctx context.Context, auth *payment.Authorization) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rawTX, err := r.buildAndSign(ctx, auth)
	if err != nil {
		return nil, err
	}

	txHash, err := r.client.SendRawTransaction(ctx, rawTX)
	if err != nil {
		return nil, fmt.Errorf("submit settlement: %w", err)
	}
	r.logger.Info("settlement submitted",
		zap.String("tx_hash", txHash),
		zap.String("payer", auth.From))

	return r.awaitReceipt(ctx, txHash)
}

// checkPayerBalance refuses to burn gas on a transfer the token contract
// will reject for insufficient funds.
func (r *Relayer) checkPayerBalance(ctx context.Context, auth *payment.Authorization) error {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return fmt.Errorf("invalid authorization value %q", auth.Value)
	}
	balance, err := r.token.BalanceOf(ctx, auth.From)
	if err != nil {
		return fmt.Errorf("check payer balance: %w", err)
	}
	if balance.Cmp(value) < 0 {
		r.logger.Warn("payer cannot cover authorized value",
			zap.String("payer", auth.From),
			zap.String("balance", balance.String()),
			zap.String("value", auth.Value))
		return ErrPayerUnderfunded
	}
	return nil
}

func (r *Relayer) buildAndSign(ctx context.Context, auth *payment.Authorization) ([]byte, error) {
	sig, err := auth.SignatureBytes()
	if err != nil {
		return nil, err
	}
	nonce, err := auth.NonceBytes()
	if err != nil {
		return nil, err
	}
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid authorization value %q", auth.Value)
	}

	// r || s || v; tolerate both 0/1 and 27/28 recovery ids
	v := int(sig[64])
	if v < 27 {
		v += 27
	}
	callData, err := r.token.TransferWithAuthorizationData(ctx,
		auth.From, auth.To, value, auth.ValidAfter, auth.ValidBefore,
		nonce, v, sig[0:32], sig[32:64])
	if err != nil {
		return nil, fmt.Errorf("encode settlement calldata: %w", err)
	}

	txCount, err := r.client.GetTransactionCount(ctx, r.keypair.Address.String())
	if err != nil {
		return nil, fmt.Errorf("get relayer nonce: %w", err)
	}
	gasPrice, err := r.client.GasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get gas price: %w", err)
	}

	fromJSON, _ := json.Marshal(r.keypair.Address.String())
	tx := &ethsigner.Transaction{
		From:                 fromJSON,
		To:                   r.token.Address(),
		Nonce:                ethtypes.NewHexInteger64(int64(txCount.Uint64())),
		MaxFeePerGas:         gasPrice,
		MaxPriorityFeePerGas: gasPrice,
		Data:                 ethtypes.HexBytes0xPrefix(callData),
	}

	estimate, err := r.client.GasEstimate(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("estimate settlement gas: %w", err)
	}
	gasLimit := float64(estimate.BigInt().Int64()) * r.cfg.GasLimitFactor
	tx.GasLimit = ethtypes.NewHexInteger64(int64(gasLimit))

	payload := tx.SignaturePayloadEIP1559(r.client.ChainID())
	hash := sha3.NewLegacyKeccak256()
	hash.Write(payload.Bytes())
	txSig, err := r.keypair.SignDirect(hash.Sum(nil))
	if err != nil {
		return nil, fmt.Errorf("sign settlement: %w", err)
	}
	return tx.FinalizeEIP1559WithSignature(payload, txSig)
}

func (r *Relayer) awaitReceipt(ctx context.Context, txHash string) (*Result, error) {
	deadline := time.Now().Add(r.cfg.ConfirmTimeout)
	interval := r.cfg.PollInterval
	maxInterval := r.cfg.PollInterval * 8

	for {
		receipt, err := r.client.GetTransactionReceipt(ctx, txHash)
		if err != nil {
			r.logger.Warn("receipt poll failed", zap.String("tx_hash", txHash), zap.Error(err))
		} else if receipt != nil {
			if !receipt.Success {
				r.logger.Error("settlement reverted",
					zap.String("tx_hash", txHash),
					zap.String("revert_reason", receipt.RevertReason))
				return &Result{TxHash: txHash}, fmt.Errorf("%w: %s", ErrReverted, receipt.RevertReason)
			}
			return &Result{
				TxHash:      txHash,
				BlockNumber: receipt.BlockNumber,
				GasUsed:     receipt.GasUsed,
			}, nil
		}

		if time.Now().After(deadline) {
			return &Result{TxHash: txHash}, fmt.Errorf("%w: %s", ErrConfirmTimeout, txHash)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		if interval < maxInterval {
			interval *= 2
		}
	}
}
