package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// TransferGasLimit is the intrinsic cost of a plain value transfer.
	TransferGasLimit uint64 = 21000
	// AccountExecuteGasLimit covers a value transfer routed through a token-bound account.
	AccountExecuteGasLimit uint64 = 200000
	MintGasLimit           uint64 = 200000
)

// GasPolicy holds the inflation buffers, in whole percent, applied to network quotes.
type GasPolicy struct {
	Name              string
	GasPriceBufferPct uint64
	GasLimitBufferPct uint64
}

func (p GasPolicy) BufferGasPrice(gasPrice *big.Int) *big.Int {
	return addPercent(gasPrice, p.GasPriceBufferPct)
}

func (p GasPolicy) BufferGasLimit(gasLimit uint64) uint64 {
	return gasLimit + gasLimit*p.GasLimitBufferPct/100
}

func addPercent(v *big.Int, pct uint64) *big.Int {
	extra := new(big.Int).Mul(v, new(big.Int).SetUint64(pct))
	extra.Div(extra, big.NewInt(100))
	return extra.Add(extra, v)
}

// TransactionIntent is what a caller wants to send. Nil optional fields are auto-filled.
type TransactionIntent struct {
	To       common.Address
	Value    *big.Int
	Data     []byte
	Nonce    *uint64
	GasPrice *big.Int
	GasLimit *uint64
}

// PreparedTransaction has every field resolved. Build a fresh one per send attempt.
type PreparedTransaction struct {
	ChainID  *big.Int
	From     common.Address
	Nonce    uint64
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasPrice *big.Int
	GasLimit uint64
}

func (p *PreparedTransaction) Validate() error {
	switch {
	case p == nil:
		return &ValidationError{Field: "transaction", Reason: "nil"}
	case p.ChainID == nil || p.ChainID.Sign() <= 0:
		return &ValidationError{Field: "chain id", Reason: "unresolved"}
	case p.GasPrice == nil || p.GasPrice.Sign() < 0:
		return &ValidationError{Field: "gas price", Reason: "unresolved"}
	case p.GasLimit == 0:
		return &ValidationError{Field: "gas limit", Reason: "unresolved"}
	case p.Value == nil || p.Value.Sign() < 0:
		return &ValidationError{Field: "value", Reason: "unresolved or negative"}
	}
	return nil
}

// MaxFee is the upper bound the sender pays for gas.
func (p *PreparedTransaction) MaxFee() *big.Int {
	return new(big.Int).Mul(p.GasPrice, new(big.Int).SetUint64(p.GasLimit))
}

// SignedTransaction is single-use: once broadcast it must never be re-signed.
type SignedTransaction struct {
	Prepared PreparedTransaction
	Hash     common.Hash
	Raw      []byte
}

type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeConfirmed
	OutcomeReverted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeReverted:
		return "reverted"
	default:
		return "pending"
	}
}

// ChainReceipt is the subset of eth_getTransactionReceipt the engine reads.
type ChainReceipt struct {
	TxHash      common.Hash
	Status      uint64
	BlockNumber uint64
	GasUsed     uint64
}

func (r *ChainReceipt) Succeeded() bool {
	return r.Status == 1
}

// Receipt is the classified result of polling.
type Receipt struct {
	TxHash      common.Hash
	Outcome     Outcome
	BlockNumber *uint64
	GasUsed     uint64
	// Latency runs from submission to the confirming poll.
	Latency time.Duration
	// TotalLatency runs from the start of preparation.
	TotalLatency time.Duration
}
