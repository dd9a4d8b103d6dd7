package sweep

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
	"github.com/yukia3e/token-bound-wallet/internal/domain/repository"
	"github.com/yukia3e/token-bound-wallet/internal/domain/tba"
	"github.com/yukia3e/token-bound-wallet/internal/usecase/transaction"
	"github.com/yukia3e/token-bound-wallet/internal/util"
)

const packageName = "sweep"

// Result describes one sweep. Skipped sweeps found nothing to move and sent nothing.
type Result struct {
	Skipped bool
	Status  string
	Amount  *big.Int
	Receipt *model.Receipt
}

type Sweeper struct {
	chain       repository.ChainRepository
	sender      *transaction.Sender
	policy      model.GasPolicy
	destination common.Address
	margin      *big.Int
}

func New(chain repository.ChainRepository, sender *transaction.Sender, policy model.GasPolicy, destination common.Address, margin *big.Int) *Sweeper {
	return &Sweeper{
		chain:       chain,
		sender:      sender,
		policy:      policy,
		destination: destination,
		margin:      new(big.Int).Set(margin),
	}
}

// WithMargin returns a copy of s that keeps margin wei behind on plain sweeps.
func (s *Sweeper) WithMargin(margin *big.Int) *Sweeper {
	c := *s
	c.margin = new(big.Int).Set(margin)
	return &c
}

// ComputeSendable is balance - (gasPrice*gasLimit + margin). It fails with an
// InsufficientFundsError when the balance does not exceed the deduction.
func ComputeSendable(balance, gasPrice *big.Int, gasLimit uint64, margin *big.Int) (*big.Int, error) {
	deduct := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	deduct.Add(deduct, margin)
	if balance.Cmp(deduct) <= 0 {
		return nil, &model.InsufficientFundsError{Balance: new(big.Int).Set(balance), Required: deduct}
	}
	return new(big.Int).Sub(balance, deduct), nil
}

// SweepAccount moves the whole balance of the signer's account, less gas and
// the safety margin, to the sweep destination.
func (s *Sweeper) SweepAccount(ctx context.Context, signer repository.TxSigner, fb transaction.Feedback, confirmMessage string) (*Result, error) {
	funcName := util.FuncName()
	if fb == nil {
		fb = transaction.Discard
	}

	from, err := signer.Address(ctx)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	// The amount depends on the balance, so it is read under the sender lock.
	ctx, unlock, err := s.sender.Hold(ctx, from)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	defer unlock()

	fb.Report("Checking Signer balance...")
	balance, err := s.chain.Balance(ctx, from)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	if balance.Sign() == 0 {
		fb.Report("No funds to sweep.")
		return &Result{Skipped: true, Status: "No funds to sweep.", Amount: big.NewInt(0)}, nil
	}

	quote, err := s.chain.GasPrice(ctx)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.BuildError{Stage: model.BuildStageGasPrice, Err: err})
	}
	gasPrice := s.policy.BufferGasPrice(quote)

	amount, err := ComputeSendable(balance, gasPrice, model.TransferGasLimit, s.margin)
	if err != nil {
		fb.Report(transaction.FailureStatus(err))
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}

	log.Info().
		Str("from", from.Hex()).
		Str("to", s.destination.Hex()).
		Str("balance", balance.String()).
		Str("amount", amount.String()).
		Msg(util.WrapLogMessage(packageName, funcName, "sweeping account"))

	fb.Report("Draining Signer...")
	receipt, err := s.sender.Send(ctx, transaction.SendRequest{
		Operation: "sweep",
		Intent: model.TransactionIntent{
			To:       s.destination,
			Value:    amount,
			GasPrice: gasPrice,
			GasLimit: util.Pointer(model.TransferGasLimit),
		},
		Policy:         s.policy,
		Signer:         signer,
		ConfirmMessage: confirmMessage,
	}, fb)
	if err != nil {
		return &Result{Amount: amount, Receipt: receipt}, util.WrapErrorForLog(packageName, funcName, err)
	}
	return &Result{Status: confirmMessage, Amount: amount, Receipt: receipt}, nil
}

// SweepSmartAccount moves the full balance of account to the sweep destination
// through execute(). The owner signs and pays the gas, so nothing is held back
// in the account; the owner must cover gasPrice*200000.
func (s *Sweeper) SweepSmartAccount(ctx context.Context, owner repository.TxSigner, account common.Address, fb transaction.Feedback, confirmMessage string) (*Result, error) {
	funcName := util.FuncName()
	if fb == nil {
		fb = transaction.Discard
	}

	ownerAddr, err := owner.Address(ctx)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	ctx, unlock, err := s.sender.Hold(ctx, ownerAddr)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	defer unlock()

	fb.Report("Checking TBA balance...")
	balance, err := s.chain.Balance(ctx, account)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	if balance.Sign() == 0 {
		fb.Report("TBA has no funds.")
		return &Result{Skipped: true, Status: "TBA has no funds.", Amount: big.NewInt(0)}, nil
	}

	quote, err := s.chain.GasPrice(ctx)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.BuildError{Stage: model.BuildStageGasPrice, Err: err})
	}
	gasPrice := s.policy.BufferGasPrice(quote)

	reserve := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(model.AccountExecuteGasLimit))
	ownerBalance, err := s.chain.Balance(ctx, ownerAddr)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	if ownerBalance.Cmp(reserve) < 0 {
		err := &model.InsufficientFundsError{Balance: ownerBalance, Required: reserve}
		fb.Report(transaction.FailureStatus(err))
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}

	data, err := tba.EncodeExecute(s.destination, balance, nil, tba.OperationCall)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to encode execute: %w", err))
	}

	log.Info().
		Str("owner", ownerAddr.Hex()).
		Str("account", account.Hex()).
		Str("to", s.destination.Hex()).
		Str("amount", balance.String()).
		Msg(util.WrapLogMessage(packageName, funcName, "sweeping smart account"))

	fb.Report("Draining TBA...")
	receipt, err := s.sender.Send(ctx, transaction.SendRequest{
		Operation: "sweep_tba",
		Intent: model.TransactionIntent{
			To:       account,
			Value:    big.NewInt(0),
			Data:     data,
			GasPrice: gasPrice,
			GasLimit: util.Pointer(model.AccountExecuteGasLimit),
		},
		Policy:         s.policy,
		Signer:         owner,
		ConfirmMessage: confirmMessage,
	}, fb)
	if err != nil {
		return &Result{Amount: balance, Receipt: receipt}, util.WrapErrorForLog(packageName, funcName, err)
	}
	return &Result{Status: confirmMessage, Amount: balance, Receipt: receipt}, nil
}
