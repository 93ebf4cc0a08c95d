package chain

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/hyperledger/firefly-signer/pkg/ethsigner"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

const usdcContract = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"

// ── In-memory stub ──────────────────────────────────────────────────────

type stubClient struct {
	callOut  ethtypes.HexBytes0xPrefix
	callErr  error
	lastCall *ethsigner.Transaction
}

func (s *stubClient) ChainID() int64 { return 8453 }
func (s *stubClient) GasPrice(context.Context) (*ethtypes.HexInteger, error) {
	return ethtypes.NewHexInteger64(1_000_000_000), nil
}
func (s *stubClient) GasEstimate(context.Context, *ethsigner.Transaction) (*ethtypes.HexInteger, error) {
	return ethtypes.NewHexInteger64(90_000), nil
}
func (s *stubClient) GetBalance(context.Context, string) (*ethtypes.HexInteger, error) {
	return ethtypes.NewHexInteger64(0), nil
}
func (s *stubClient) GetTransactionCount(context.Context, string) (*ethtypes.HexUint64, error) {
	n := ethtypes.HexUint64(0)
	return &n, nil
}
func (s *stubClient) Call(_ context.Context, tx *ethsigner.Transaction) (ethtypes.HexBytes0xPrefix, error) {
	s.lastCall = tx
	return s.callOut, s.callErr
}
func (s *stubClient) SendRawTransaction(context.Context, []byte) (string, error) {
	return "0x" + strings.Repeat("00", 32), nil
}
func (s *stubClient) GetTransactionReceipt(context.Context, string) (*Receipt, error) {
	return nil, nil
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestNewToken_rejectsBadAddress(t *testing.T) {
	if _, err := NewToken("not-an-address", &stubClient{}); err == nil {
		t.Fatal("expected error for a malformed contract address")
	}
	tok, err := NewToken(usdcContract, &stubClient{})
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if got := tok.Address().String(); !strings.EqualFold(got, usdcContract) {
		t.Errorf("address: %s", got)
	}
}

func TestTransferWithAuthorizationData(t *testing.T) {
	tok, err := NewToken(usdcContract, &stubClient{})
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}

	nonce := bytes.Repeat([]byte{0xab}, 32)
	r := bytes.Repeat([]byte{0x01}, 32)
	s := bytes.Repeat([]byte{0x02}, 32)
	data, err := tok.TransferWithAuthorizationData(context.Background(),
		"0x1111111111111111111111111111111111111111",
		"0x742D35cc6634C0532925a3B844bc9E7595f5BE91",
		big.NewInt(14_990_000), 0, 1_900_000_000, nonce, 27, r, s)
	if err != nil {
		t.Fatalf("TransferWithAuthorizationData: %v", err)
	}
	// 4-byte selector plus 9 static words.
	if len(data) != 4+9*32 {
		t.Errorf("calldata length: %d", len(data))
	}
	if !bytes.Contains(data, nonce) {
		t.Error("calldata must carry the nonce")
	}
}

func TestAuthorizationUsed(t *testing.T) {
	used := ethtypes.MustNewHexBytes0xPrefix("0x" + strings.Repeat("00", 31) + "01")
	fresh := ethtypes.MustNewHexBytes0xPrefix("0x" + strings.Repeat("00", 32))
	nonce := bytes.Repeat([]byte{0xcd}, 32)

	stub := &stubClient{callOut: used}
	tok, err := NewToken(usdcContract, stub)
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}

	got, err := tok.AuthorizationUsed(context.Background(), "0x1111111111111111111111111111111111111111", nonce)
	if err != nil {
		t.Fatalf("AuthorizationUsed: %v", err)
	}
	if !got {
		t.Error("nonzero word must read as consumed")
	}
	if stub.lastCall == nil || stub.lastCall.To == nil {
		t.Fatal("call must target the token contract")
	}

	stub.callOut = fresh
	got, err = tok.AuthorizationUsed(context.Background(), "0x1111111111111111111111111111111111111111", nonce)
	if err != nil {
		t.Fatalf("AuthorizationUsed: %v", err)
	}
	if got {
		t.Error("zero word must read as unconsumed")
	}
}

func TestDecodeRevertReason(t *testing.T) {
	// Error("Underpaid") per the solidity Error(string) encoding.
	encoded := ethtypes.MustNewHexBytes0xPrefix("0x08c379a0" +
		"0000000000000000000000000000000000000000000000000000000000000020" +
		"0000000000000000000000000000000000000000000000000000000000000009" +
		"556e646572706169640000000000000000000000000000000000000000000000")
	if got := decodeRevertReason(encoded); got != "Underpaid" {
		t.Errorf("decoded: %q", got)
	}

	// Opaque data falls back to the raw hex.
	opaque := ethtypes.MustNewHexBytes0xPrefix("0xdeadbeef")
	if got := decodeRevertReason(opaque); got != "0xdeadbeef" {
		t.Errorf("fallback: %q", got)
	}
}
