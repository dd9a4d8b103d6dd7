package transaction

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
	"github.com/yukia3e/token-bound-wallet/internal/domain/repository"
	"github.com/yukia3e/token-bound-wallet/internal/util"
)

const packageName = "transaction"

// Builder resolves every unset field of an intent against the chain.
type Builder struct {
	chain   repository.ChainRepository
	chainID *big.Int
}

func NewBuilder(chain repository.ChainRepository, chainID *big.Int) *Builder {
	return &Builder{
		chain:   chain,
		chainID: new(big.Int).Set(chainID),
	}
}

// Build fills nonce, gas price and gas limit when the intent leaves them unset.
// Network quotes are inflated by policy; explicit intent values are used as is.
func (b *Builder) Build(ctx context.Context, from common.Address, intent model.TransactionIntent, policy model.GasPolicy, fb Feedback) (*model.PreparedTransaction, error) {
	funcName := util.FuncName()
	fb = orDiscard(fb)

	fb.Report("Preparing...")

	value := big.NewInt(0)
	if intent.Value != nil {
		value = new(big.Int).Set(intent.Value)
	}
	if value.Sign() < 0 {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.ValidationError{Field: "value", Reason: "negative"})
	}

	var nonce uint64
	if intent.Nonce != nil {
		nonce = *intent.Nonce
	} else {
		n, err := b.chain.PendingNonce(ctx, from)
		if err != nil {
			return nil, util.WrapErrorForLog(packageName, funcName, &model.BuildError{Stage: model.BuildStageNonce, Err: err})
		}
		nonce = n
	}

	var gasPrice *big.Int
	if intent.GasPrice != nil {
		gasPrice = new(big.Int).Set(intent.GasPrice)
	} else {
		fb.Report("Fetching Gas Price...")
		quote, err := b.chain.GasPrice(ctx)
		if err != nil {
			return nil, util.WrapErrorForLog(packageName, funcName, &model.BuildError{Stage: model.BuildStageGasPrice, Err: err})
		}
		gasPrice = policy.BufferGasPrice(quote)
	}

	var gasLimit uint64
	if intent.GasLimit != nil {
		gasLimit = *intent.GasLimit
	} else {
		fb.Report("Estimating Gas...")
		estimate, err := b.chain.EstimateGas(ctx, repository.CallRequest{
			From:  util.Pointer(from),
			To:    intent.To,
			Value: value,
			Data:  intent.Data,
		})
		if err != nil {
			return nil, util.WrapErrorForLog(packageName, funcName, &model.BuildError{Stage: model.BuildStageGasLimit, Err: err})
		}
		gasLimit = policy.BufferGasLimit(estimate)
	}

	prepared := &model.PreparedTransaction{
		ChainID:  new(big.Int).Set(b.chainID),
		From:     from,
		Nonce:    nonce,
		To:       intent.To,
		Value:    value,
		Data:     append([]byte(nil), intent.Data...),
		GasPrice: gasPrice,
		GasLimit: gasLimit,
	}

	log.Debug().
		Str("policy", policy.Name).
		Str("from", from.Hex()).
		Uint64("nonce", nonce).
		Str("gasPrice", gasPrice.String()).
		Uint64("gasLimit", gasLimit).
		Msg(util.WrapLogMessage(packageName, funcName, "prepared"))

	return prepared, nil
}
