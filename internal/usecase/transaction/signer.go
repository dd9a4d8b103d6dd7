package transaction

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
	"github.com/yukia3e/token-bound-wallet/internal/domain/repository"
	"github.com/yukia3e/token-bound-wallet/internal/util"
)

// Sign produces the canonical EIP-155 legacy encoding of prepared.
func Sign(ctx context.Context, prepared *model.PreparedTransaction, signer repository.TxSigner) (*model.SignedTransaction, error) {
	funcName := util.FuncName()

	if err := prepared.Validate(); err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}

	addr, err := signer.Address(ctx)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.SigningError{Err: err})
	}
	if addr != prepared.From {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.SigningError{Err: fmt.Errorf("signer %s does not match sender %s", addr.Hex(), prepared.From.Hex())})
	}

	to := prepared.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    prepared.Nonce,
		GasPrice: prepared.GasPrice,
		Gas:      prepared.GasLimit,
		To:       &to,
		Value:    prepared.Value,
		Data:     prepared.Data,
	})

	signed, err := signer.SignTx(ctx, tx, prepared.ChainID)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.SigningError{Err: err})
	}

	sender, err := types.Sender(types.LatestSignerForChainID(prepared.ChainID), signed)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.SigningError{Err: err})
	}
	if sender != prepared.From {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.SigningError{Err: fmt.Errorf("signature recovers to %s", sender.Hex())})
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.SigningError{Err: err})
	}

	return &model.SignedTransaction{
		Prepared: *prepared,
		Hash:     signed.Hash(),
		Raw:      raw,
	}, nil
}

// DecodeSigned parses a canonical encoding back into its fields and recovers the sender.
func DecodeSigned(raw []byte, chainID *big.Int) (*model.SignedTransaction, error) {
	funcName := util.FuncName()

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.ValidationError{Field: "raw transaction", Reason: err.Error()})
	}
	if tx.To() == nil {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.ValidationError{Field: "raw transaction", Reason: "contract creation is not supported"})
	}
	from, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.SigningError{Err: err})
	}

	return &model.SignedTransaction{
		Prepared: model.PreparedTransaction{
			ChainID:  tx.ChainId(),
			From:     from,
			Nonce:    tx.Nonce(),
			To:       *tx.To(),
			Value:    tx.Value(),
			Data:     tx.Data(),
			GasPrice: tx.GasPrice(),
			GasLimit: tx.Gas(),
		},
		Hash: tx.Hash(),
		Raw:  append([]byte(nil), raw...),
	}, nil
}
