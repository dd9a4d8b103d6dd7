package mocks

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
)

// TxSigner is a mock of repository.TxSigner.
type TxSigner struct {
	mock.Mock
}

func (m *TxSigner) Address(ctx context.Context) (common.Address, error) {
	args := m.Called(ctx)
	return args.Get(0).(common.Address), args.Error(1)
}

func (m *TxSigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	args := m.Called(ctx, tx, chainID)
	var signed *types.Transaction
	if v := args.Get(0); v != nil {
		signed = v.(*types.Transaction)
	}
	return signed, args.Error(1)
}

// KeystoreRepository is a mock of repository.KeystoreRepository.
type KeystoreRepository struct {
	mock.Mock
}

func (m *KeystoreRepository) Load() (*model.Keystore, error) {
	args := m.Called()
	var ks *model.Keystore
	if v := args.Get(0); v != nil {
		ks = v.(*model.Keystore)
	}
	return ks, args.Error(1)
}

func (m *KeystoreRepository) Save(ks *model.Keystore) error {
	return m.Called(ks).Error(0)
}

func (m *KeystoreRepository) UpdateSmartAccount(account common.Address) error {
	return m.Called(account).Error(0)
}

func (m *KeystoreRepository) Delete() error {
	return m.Called().Error(0)
}

// MetricsRepository is a mock of repository.MetricsRepository.
type MetricsRepository struct {
	mock.Mock
}

func (m *MetricsRepository) ObserveSubmitted(operation string) {
	m.Called(operation)
}

func (m *MetricsRepository) ObserveOutcome(operation string, outcome model.Outcome, latency time.Duration) {
	m.Called(operation, outcome, latency)
}

func (m *MetricsRepository) ObserveTimeout(operation string) {
	m.Called(operation)
}
