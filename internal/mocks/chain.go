package mocks

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
	"github.com/yukia3e/token-bound-wallet/internal/domain/repository"
)

// RPCRepository is a mock of repository.RPCRepository.
type RPCRepository struct {
	mock.Mock
}

func (m *RPCRepository) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	args := m.Called(ctx, method, params)
	var raw json.RawMessage
	if v := args.Get(0); v != nil {
		raw = v.(json.RawMessage)
	}
	return raw, args.Error(1)
}

// ChainRepository is a mock of repository.ChainRepository.
type ChainRepository struct {
	mock.Mock
}

func (m *ChainRepository) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *ChainRepository) GasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	return bigOrNil(args.Get(0)), args.Error(1)
}

func (m *ChainRepository) EstimateGas(ctx context.Context, req repository.CallRequest) (uint64, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *ChainRepository) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	args := m.Called(ctx, raw)
	return args.Get(0).(common.Hash), args.Error(1)
}

func (m *ChainRepository) TransactionReceipt(ctx context.Context, hash common.Hash) (*model.ChainReceipt, error) {
	args := m.Called(ctx, hash)
	var r *model.ChainReceipt
	if v := args.Get(0); v != nil {
		r = v.(*model.ChainReceipt)
	}
	return r, args.Error(1)
}

func (m *ChainRepository) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	args := m.Called(ctx, account)
	return bigOrNil(args.Get(0)), args.Error(1)
}

func (m *ChainRepository) Call(ctx context.Context, req repository.CallRequest) ([]byte, error) {
	args := m.Called(ctx, req)
	var out []byte
	if v := args.Get(0); v != nil {
		out = v.([]byte)
	}
	return out, args.Error(1)
}

func (m *ChainRepository) Code(ctx context.Context, account common.Address) ([]byte, error) {
	args := m.Called(ctx, account)
	var out []byte
	if v := args.Get(0); v != nil {
		out = v.([]byte)
	}
	return out, args.Error(1)
}

func bigOrNil(v any) *big.Int {
	if v == nil {
		return nil
	}
	return v.(*big.Int)
}
