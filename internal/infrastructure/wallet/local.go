package wallet

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
	"github.com/yukia3e/token-bound-wallet/internal/domain/repository"
	"github.com/yukia3e/token-bound-wallet/internal/util"
)

// localSigner signs with an in-memory key loaded from the keystore.
type localSigner struct {
	km *model.KeyMaterial
}

func NewLocalSigner(km *model.KeyMaterial) repository.TxSigner {
	return &localSigner{km: km}
}

func (l *localSigner) Address(context.Context) (common.Address, error) {
	if l.km == nil || l.km.PrivateKey == nil {
		return common.Address{}, util.WrapErrorForLog(packageName, util.FuncName(), model.ErrNoWallet)
	}
	return l.km.Address, nil
}

func (l *localSigner) SignTx(_ context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	funcName := util.FuncName()

	if l.km == nil || l.km.PrivateKey == nil {
		return nil, util.WrapErrorForLog(packageName, funcName, model.ErrNoWallet)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), l.km.PrivateKey)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to sign transaction: %w", err))
	}
	return signed, nil
}
