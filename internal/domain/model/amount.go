package model

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const etherDecimals = 18

// ParseEther converts a decimal ETH amount such as "0.005" to wei.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &ValidationError{Field: "amount", Reason: "empty"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, &ValidationError{Field: "amount", Reason: err.Error()}
	}
	if d.Sign() <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	wei := d.Shift(etherDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, &ValidationError{Field: "amount", Reason: "more than 18 decimal places"}
	}
	return wei.BigInt(), nil
}

// FormatEther renders wei as ETH with four decimals, the way balances are shown.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0.0000 ETH"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).StringFixed(4) + " ETH"
}
