package model

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNoWallet           = errors.New("no wallet loaded")
	ErrWalletExists       = errors.New("a wallet is already stored")
	ErrNoSmartAccount     = errors.New("no smart account bound")
	ErrSponsorUnavailable = errors.New("sponsor credential not configured")
	ErrIncorrectPIN       = errors.New("incorrect sponsor pin")
)

// NetworkError is a transport level failure talking to the chain endpoint.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error in %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RPCError carries a JSON-RPC error object returned by the endpoint.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type InsufficientFundsError struct {
	Balance  *big.Int
	Required *big.Int
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %s wei, required more than %s wei", e.Balance, e.Required)
}

type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing failed: %v", e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

type TimeoutError struct {
	TxHash   common.Hash
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transaction %s not confirmed after %d polls", e.TxHash.Hex(), e.Attempts)
}

type OnChainRevertError struct {
	TxHash      common.Hash
	BlockNumber uint64
}

func (e *OnChainRevertError) Error() string {
	return fmt.Sprintf("transaction %s reverted in block %d", e.TxHash.Hex(), e.BlockNumber)
}

type BuildStage string

const (
	BuildStageNonce    BuildStage = "nonce"
	BuildStageGasPrice BuildStage = "gas price"
	BuildStageGasLimit BuildStage = "gas limit"
)

// BuildError reports which auto-fill lookup aborted a build attempt.
type BuildError struct {
	Stage BuildStage
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed at %s: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// SubmitError is a rejected eth_sendRawTransaction. It is never retried.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit failed: %v", e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }
