package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
	"github.com/yukia3e/token-bound-wallet/internal/domain/repository"
	"github.com/yukia3e/token-bound-wallet/internal/util"
)

// SendRequest is one end to end transaction.
type SendRequest struct {
	// Operation labels logs and metrics, e.g. "send" or "sweep".
	Operation string
	Intent    model.TransactionIntent
	Policy    model.GasPolicy
	Signer    repository.TxSigner
	// ConfirmMessage is reported with the latency once the receipt succeeds.
	ConfirmMessage string
}

// Sender runs build, sign, submit and confirm for a request.
type Sender struct {
	builder     *Builder
	broadcaster *Broadcaster
	locks       *SenderLocks
	metrics     repository.MetricsRepository
}

func NewSender(builder *Builder, broadcaster *Broadcaster, locks *SenderLocks, metrics repository.MetricsRepository) *Sender {
	if locks == nil {
		locks = NewSenderLocks()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Sender{
		builder:     builder,
		broadcaster: broadcaster,
		locks:       locks,
		metrics:     metrics,
	}
}

// Send reports progress on fb and returns the classified receipt. Every failure
// is also reported on fb before it is returned.
func (s *Sender) Send(ctx context.Context, req SendRequest, fb Feedback) (*model.Receipt, error) {
	funcName := util.FuncName()
	fb = orDiscard(fb)
	start := time.Now()

	signed, err := s.submit(ctx, req, fb)
	if err != nil {
		fb.Report(FailureStatus(err))
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	s.metrics.ObserveSubmitted(req.Operation)

	log.Info().
		Str("operation", req.Operation).
		Str("txHash", signed.Hash.Hex()).
		Str("from", signed.Prepared.From.Hex()).
		Str("to", signed.Prepared.To.Hex()).
		Str("value", signed.Prepared.Value.String()).
		Str("maxFee", signed.Prepared.MaxFee().String()).
		Msg(util.WrapLogMessage(packageName, funcName, "submitted"))
	fb.Report(fmt.Sprintf("Sent! Tx: %s. Waiting...", signed.Hash.Hex()))

	receipt, err := s.broadcaster.Await(ctx, signed.Hash, fb)
	if receipt != nil {
		receipt.TotalLatency = time.Since(start)
	}
	if err != nil {
		var timeout *model.TimeoutError
		if errors.As(err, &timeout) {
			s.metrics.ObserveTimeout(req.Operation)
		} else if receipt != nil && receipt.Outcome == model.OutcomeReverted {
			s.metrics.ObserveOutcome(req.Operation, receipt.Outcome, receipt.Latency)
		}
		fb.Report(FailureStatus(err))
		log.Error().Err(err).Str("operation", req.Operation).Msg(util.WrapLogMessage(packageName, funcName, "not confirmed"))
		return receipt, util.WrapErrorForLog(packageName, funcName, err)
	}

	s.metrics.ObserveOutcome(req.Operation, receipt.Outcome, receipt.Latency)
	confirm := req.ConfirmMessage
	if confirm == "" {
		confirm = "Confirmed!"
	}
	fb.Report(fmt.Sprintf("%s (%dms)", confirm, receipt.TotalLatency.Milliseconds()))
	log.Info().
		Str("operation", req.Operation).
		Str("txHash", receipt.TxHash.Hex()).
		Uint64("blockNumber", *receipt.BlockNumber).
		Dur("latency", receipt.Latency).
		Msg(util.WrapLogMessage(packageName, funcName, "confirmed"))

	return receipt, nil
}

// Hold takes the sender lock for from until the returned func is called. Sends
// made with the returned ctx run under it.
func (s *Sender) Hold(ctx context.Context, from common.Address) (context.Context, func(), error) {
	return s.locks.Hold(ctx, from)
}

// submit holds the sender lock from nonce lookup until the node has accepted
// the transaction. Waiting for the receipt happens outside the lock.
func (s *Sender) submit(ctx context.Context, req SendRequest, fb Feedback) (*model.SignedTransaction, error) {
	from, err := req.Signer.Address(ctx)
	if err != nil {
		return nil, &model.SigningError{Err: err}
	}

	ctx, unlock, err := s.locks.Hold(ctx, from)
	if err != nil {
		return nil, err
	}
	defer unlock()

	prepared, err := s.builder.Build(ctx, from, req.Intent, req.Policy, fb)
	if err != nil {
		return nil, err
	}

	fb.Report("Signing...")
	signed, err := Sign(ctx, prepared, req.Signer)
	if err != nil {
		return nil, err
	}

	fb.Report("Sending...")
	if _, err := s.broadcaster.Submit(ctx, signed); err != nil {
		return nil, err
	}
	return signed, nil
}

// FailureStatus renders err as the status line shown to the user.
func FailureStatus(err error) string {
	var (
		buildErr   *model.BuildError
		signErr    *model.SigningError
		submitErr  *model.SubmitError
		revertErr  *model.OnChainRevertError
		timeoutErr *model.TimeoutError
		validErr   *model.ValidationError
		fundsErr   *model.InsufficientFundsError
	)
	switch {
	case errors.As(err, &buildErr):
		switch buildErr.Stage {
		case model.BuildStageNonce:
			return fmt.Sprintf("Nonce Error: %v", buildErr.Err)
		case model.BuildStageGasPrice:
			return fmt.Sprintf("Gas Price Error: %v", buildErr.Err)
		default:
			return fmt.Sprintf("Gas Est Error: %v", buildErr.Err)
		}
	case errors.As(err, &signErr):
		return fmt.Sprintf("Sign Error: %v", signErr.Err)
	case errors.As(err, &submitErr):
		return fmt.Sprintf("Send Error: %v", submitErr.Err)
	case errors.As(err, &revertErr):
		return "Failed on-chain."
	case errors.As(err, &timeoutErr):
		return "Timeout."
	case errors.As(err, &fundsErr):
		return fmt.Sprintf("Insufficient funds: balance %s", model.FormatEther(fundsErr.Balance))
	case errors.As(err, &validErr):
		return fmt.Sprintf("Invalid %s: %s", validErr.Field, validErr.Reason)
	case errors.Is(err, model.ErrNoWallet):
		return "No Wallet"
	case errors.Is(err, model.ErrNoSmartAccount):
		return "No Smart Account"
	case errors.Is(err, model.ErrWalletExists):
		return "Wallet already exists"
	case errors.Is(err, model.ErrIncorrectPIN):
		return "Incorrect PIN."
	case errors.Is(err, model.ErrSponsorUnavailable):
		return "Sponsor key missing"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Cancelled."
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

type nopMetrics struct{}

func (nopMetrics) ObserveSubmitted(string) {}

func (nopMetrics) ObserveOutcome(string, model.Outcome, time.Duration) {}

func (nopMetrics) ObserveTimeout(string) {}
