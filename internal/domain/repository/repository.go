package repository

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
)

// RPCRepository performs a single JSON-RPC call. It never retries.
type RPCRepository interface {
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// CallRequest describes eth_call / eth_estimateGas arguments.
type CallRequest struct {
	From  *common.Address
	To    common.Address
	Value *big.Int
	Data  []byte
}

// ChainRepository is the typed view of the endpoint.
type ChainRepository interface {
	// PendingNonce returns the sender's pending transaction count
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	// GasPrice returns the network's current legacy gas price quote
	GasPrice(ctx context.Context) (*big.Int, error)
	// EstimateGas estimates the gas for the exact call
	EstimateGas(ctx context.Context, req CallRequest) (uint64, error)
	// SendRawTransaction submits a canonical encoding and returns its hash
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	// TransactionReceipt returns nil without error when the receipt is not yet available
	TransactionReceipt(ctx context.Context, hash common.Hash) (*model.ChainReceipt, error)
	// Balance returns the latest balance of an address
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	// Call executes a read-only call against the latest block
	Call(ctx context.Context, req CallRequest) ([]byte, error)
	// Code returns the deployed bytecode at an address
	Code(ctx context.Context, account common.Address) ([]byte, error)
}
