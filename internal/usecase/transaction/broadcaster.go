package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
	"github.com/yukia3e/token-bound-wallet/internal/domain/repository"
	"github.com/yukia3e/token-bound-wallet/internal/util"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollAttempts = 30
)

// Broadcaster submits signed transactions and polls for their receipts.
type Broadcaster struct {
	chain    repository.ChainRepository
	interval time.Duration
	attempts int
}

func NewBroadcaster(chain repository.ChainRepository, interval time.Duration, attempts int) *Broadcaster {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	return &Broadcaster{
		chain:    chain,
		interval: interval,
		attempts: attempts,
	}
}

// Submit sends the raw encoding once. A rejection is returned as a SubmitError
// and the transaction must be rebuilt rather than resubmitted.
func (b *Broadcaster) Submit(ctx context.Context, signed *model.SignedTransaction) (common.Hash, error) {
	funcName := util.FuncName()

	hash, err := b.chain.SendRawTransaction(ctx, signed.Raw)
	if err != nil {
		return common.Hash{}, util.WrapErrorForLog(packageName, funcName, &model.SubmitError{Err: err})
	}
	if hash != signed.Hash {
		log.Warn().
			Str("local", signed.Hash.Hex()).
			Str("remote", hash.Hex()).
			Msg(util.WrapLogMessage(packageName, funcName, "node reported a different transaction hash"))
	}
	return signed.Hash, nil
}

// Await polls for the receipt of hash every interval, at most attempts times.
// Reverted receipts return an OnChainRevertError alongside the receipt. When the
// attempts run out the receipt is still pending and a TimeoutError is returned.
// Await can be called again with the same hash to resume waiting.
func (b *Broadcaster) Await(ctx context.Context, hash common.Hash, fb Feedback) (*model.Receipt, error) {
	funcName := util.FuncName()
	fb = orDiscard(fb)

	start := time.Now()
	timer := time.NewTimer(b.interval)
	defer timer.Stop()

	for attempt := 1; attempt <= b.attempts; attempt++ {
		select {
		case <-ctx.Done():
			return &model.Receipt{TxHash: hash, Outcome: model.OutcomePending}, util.WrapErrorForLog(packageName, funcName, ctx.Err())
		case <-timer.C:
		}

		r, err := b.chain.TransactionReceipt(ctx, hash)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("txHash", hash.Hex()).Int("attempt", attempt).Msg(util.WrapLogMessage(packageName, funcName, "receipt lookup failed"))
			fb.Report(fmt.Sprintf("Receipt Error: %v", err))
		case r == nil:
			log.Debug().Str("txHash", hash.Hex()).Int("attempt", attempt).Msg(util.WrapLogMessage(packageName, funcName, "receipt not available yet"))
		default:
			receipt := &model.Receipt{
				TxHash:      hash,
				BlockNumber: util.Pointer(r.BlockNumber),
				GasUsed:     r.GasUsed,
				Latency:     time.Since(start),
			}
			if r.Succeeded() {
				receipt.Outcome = model.OutcomeConfirmed
				return receipt, nil
			}
			receipt.Outcome = model.OutcomeReverted
			return receipt, util.WrapErrorForLog(packageName, funcName, &model.OnChainRevertError{TxHash: hash, BlockNumber: r.BlockNumber})
		}

		timer.Reset(b.interval)
	}

	return &model.Receipt{TxHash: hash, Outcome: model.OutcomePending}, util.WrapErrorForLog(packageName, funcName, &model.TimeoutError{TxHash: hash, Attempts: b.attempts})
}
