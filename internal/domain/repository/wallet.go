package repository

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
)

// TxSigner applies a key to an unsigned transaction.
type TxSigner interface {
	// Address returns the address the signer signs for
	Address(ctx context.Context) (common.Address, error)
	// SignTx signs tx for chainID
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// KeystoreRepository persists the single wallet record.
type KeystoreRepository interface {
	// Load returns model.ErrNoWallet when nothing is stored
	Load() (*model.Keystore, error)
	Save(ks *model.Keystore) error
	// UpdateSmartAccount writes only the smart account field of the stored record
	UpdateSmartAccount(account common.Address) error
	Delete() error
}

// MetricsRepository records transaction lifecycle observations.
type MetricsRepository interface {
	ObserveSubmitted(operation string)
	ObserveOutcome(operation string, outcome model.Outcome, latency time.Duration)
	ObserveTimeout(operation string)
}
