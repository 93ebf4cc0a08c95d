package chain

import (
	"github.com/hyperledger/firefly-signer/pkg/abi"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

// Receipt is the settled view of a transaction.
type Receipt struct {
	TxHash       string
	Success      bool
	BlockNumber  int64
	GasUsed      int64
	RevertReason string
}

type receiptJSONRPC struct {
	BlockNumber  *ethtypes.HexInteger       `json:"blockNumber"`
	GasUsed      *ethtypes.HexInteger       `json:"gasUsed"`
	Status       *ethtypes.HexInteger       `json:"status"`
	RevertReason *ethtypes.HexBytes0xPrefix `json:"revertReason"`
}

// solidity built-in Error(string)
var solidityError = &abi.Entry{
	Type:   abi.Error,
	Name:   "Error",
	Inputs: abi.ParameterArray{{Type: "string"}},
}

func decodeRevertReason(data ethtypes.HexBytes0xPrefix) string {
	cv, err := solidityError.DecodeCallData(data)
	if err != nil || len(cv.Children) != 1 {
		return data.String()
	}
	if s, ok := cv.Children[0].Value.(string); ok {
		return s
	}
	return data.String()
}
