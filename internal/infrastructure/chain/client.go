package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
	"github.com/yukia3e/token-bound-wallet/internal/domain/repository"
	"github.com/yukia3e/token-bound-wallet/internal/util"
)

const (
	packageName = "chain"

	blockLatest  = "latest"
	blockPending = "pending"
)

type client struct {
	rpc repository.RPCRepository
}

func New(rpc repository.RPCRepository) repository.ChainRepository {
	return &client{rpc: rpc}
}

type callArgs struct {
	From  *common.Address `json:"from,omitempty"`
	To    common.Address  `json:"to"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
}

func toCallArgs(req repository.CallRequest) callArgs {
	args := callArgs{From: req.From, To: req.To, Data: req.Data}
	if req.Value != nil {
		args.Value = (*hexutil.Big)(req.Value)
	}
	return args
}

type receiptJSON struct {
	TransactionHash common.Hash     `json:"transactionHash"`
	Status          *hexutil.Uint64 `json:"status"`
	BlockNumber     *hexutil.Uint64 `json:"blockNumber"`
	GasUsed         hexutil.Uint64  `json:"gasUsed"`
}

func (c *client) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	var n hexutil.Uint64
	if err := c.call(ctx, &n, "eth_getTransactionCount", account, blockPending); err != nil {
		return 0, util.WrapErrorForLog(packageName, util.FuncName(), err)
	}
	return uint64(n), nil
}

func (c *client) GasPrice(ctx context.Context) (*big.Int, error) {
	var price hexutil.Big
	if err := c.call(ctx, &price, "eth_gasPrice"); err != nil {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), err)
	}
	return price.ToInt(), nil
}

func (c *client) EstimateGas(ctx context.Context, req repository.CallRequest) (uint64, error) {
	var gas hexutil.Uint64
	if err := c.call(ctx, &gas, "eth_estimateGas", toCallArgs(req)); err != nil {
		return 0, util.WrapErrorForLog(packageName, util.FuncName(), err)
	}
	return uint64(gas), nil
}

func (c *client) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	if err := c.call(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw)); err != nil {
		return common.Hash{}, util.WrapErrorForLog(packageName, util.FuncName(), err)
	}
	return hash, nil
}

func (c *client) TransactionReceipt(ctx context.Context, hash common.Hash) (*model.ChainReceipt, error) {
	funcName := util.FuncName()

	var r *receiptJSON
	if err := c.call(ctx, &r, "eth_getTransactionReceipt", hash); err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	if r == nil {
		return nil, nil
	}
	// Some nodes return a receipt shell before the block is sealed.
	if r.BlockNumber == nil {
		return nil, nil
	}
	// A mined receipt without a status is not a success.
	var status uint64
	if r.Status != nil {
		status = uint64(*r.Status)
	}
	return &model.ChainReceipt{
		TxHash:      r.TransactionHash,
		Status:      status,
		BlockNumber: uint64(*r.BlockNumber),
		GasUsed:     uint64(r.GasUsed),
	}, nil
}

func (c *client) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	var bal hexutil.Big
	if err := c.call(ctx, &bal, "eth_getBalance", account, blockLatest); err != nil {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), err)
	}
	return bal.ToInt(), nil
}

func (c *client) Call(ctx context.Context, req repository.CallRequest) ([]byte, error) {
	var out hexutil.Bytes
	if err := c.call(ctx, &out, "eth_call", toCallArgs(req), blockLatest); err != nil {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), err)
	}
	return out, nil
}

func (c *client) Code(ctx context.Context, account common.Address) ([]byte, error) {
	var out hexutil.Bytes
	if err := c.call(ctx, &out, "eth_getCode", account, blockLatest); err != nil {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), err)
	}
	return out, nil
}

// call decodes the raw result into dst. Malformed results are reported as RPC errors.
func (c *client) call(ctx context.Context, dst any, method string, params ...any) error {
	raw, err := c.rpc.Call(ctx, method, params...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &model.RPCError{Message: fmt.Sprintf("decode %s result: %v", method, err)}
	}
	return nil
}
