package tba

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
)

func baseSepoliaParams(tokenID int64) DeriveParams {
	return DeriveParams{
		ChainID:        big.NewInt(84532),
		TokenContract:  common.HexToAddress("0x66994e547cb9014191f50c7c7ee8cf5e80d3b89e"),
		TokenID:        big.NewInt(tokenID),
		Implementation: common.HexToAddress("0xfb28ae9ffc69dd62718a780cb657a59c0b4e7aae"),
		Registry:       common.HexToAddress("0x000000006551c19487814612e58FE06813775758"),
	}
}

func TestDerive_Golden(t *testing.T) {
	tests := []struct {
		name    string
		tokenID int64
		want    common.Address
	}{
		{name: "token 1", tokenID: 1, want: common.HexToAddress("0x09a936a0467183dbefb818ad1a11122d5a13f30b")},
		{name: "token 2", tokenID: 2, want: common.HexToAddress("0xcbef43b855f028747c4566a64a9b420ab67f5c2f")},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Derive(baseSepoliaParams(tt.tokenID))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSaltAndInitCode(t *testing.T) {
	p := baseSepoliaParams(1)

	salt, err := Salt(p)
	require.NoError(t, err)
	assert.Equal(t, "5fd4ab7e0ff99cc8cd8efcb004f4c91b23ccac736589c1f781f6a4d92cc213cd", hex.EncodeToString(salt[:]))

	code, err := InitCode(p)
	require.NoError(t, err)
	assert.Len(t, code, 183)
	assert.Equal(t, "ac66a3776705fd3ccaabffe0370ca7eafd4110b1a3eaa3503e8a4ca8382206d7", hex.EncodeToString(crypto.Keccak256(code)))
	assert.Equal(t, p.Implementation.Bytes(), code[20:40])
}

func TestDerive_MatchesCreateAddress2(t *testing.T) {
	p := baseSepoliaParams(42)

	salt, err := Salt(p)
	require.NoError(t, err)
	code, err := InitCode(p)
	require.NoError(t, err)

	got, err := Derive(p)
	require.NoError(t, err)
	assert.Equal(t, crypto.CreateAddress2(p.Registry, salt, crypto.Keccak256(code)), got)
}

func TestDerive_Sensitivity(t *testing.T) {
	base, err := Derive(baseSepoliaParams(1))
	require.NoError(t, err)

	again, err := Derive(baseSepoliaParams(1))
	require.NoError(t, err)
	assert.Equal(t, base, again)

	mutations := map[string]func(p *DeriveParams){
		"chain id":       func(p *DeriveParams) { p.ChainID = big.NewInt(8453) },
		"token contract": func(p *DeriveParams) { p.TokenContract = common.HexToAddress("0x01") },
		"token id":       func(p *DeriveParams) { p.TokenID = big.NewInt(0) },
		"implementation": func(p *DeriveParams) { p.Implementation = common.HexToAddress("0x02") },
		"registry":       func(p *DeriveParams) { p.Registry = common.HexToAddress("0x03") },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			p := baseSepoliaParams(1)
			mutate(&p)
			got, err := Derive(p)
			require.NoError(t, err)
			assert.NotEqual(t, base, got)
		})
	}
}

func TestDerive_InvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *DeriveParams)
		field  string
	}{
		{name: "nil chain id", mutate: func(p *DeriveParams) { p.ChainID = nil }, field: "chain id"},
		{name: "nil token id", mutate: func(p *DeriveParams) { p.TokenID = nil }, field: "token id"},
		{name: "negative token id", mutate: func(p *DeriveParams) { p.TokenID = big.NewInt(-1) }, field: "token id"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			p := baseSepoliaParams(1)
			tt.mutate(&p)

			_, err := Derive(p)
			var verr *model.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestBind(t *testing.T) {
	owner := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	b, err := Bind(owner, baseSepoliaParams(1))
	require.NoError(t, err)
	assert.Equal(t, owner, b.Owner)
	assert.Equal(t, common.HexToAddress("0x09a936a0467183dbefb818ad1a11122d5a13f30b"), b.Account)
	assert.True(t, VerifyBinding(b))

	b.TokenID = big.NewInt(2)
	assert.False(t, VerifyBinding(b))
	assert.False(t, VerifyBinding(nil))
}

func TestEncodeExecute(t *testing.T) {
	dest := common.HexToAddress("0x769c18faa2e2e833a262c2ff9f6e1a9e99e52c58")
	value := big.NewInt(1_000_000)

	data, err := EncodeExecute(dest, value, nil, OperationCall)
	require.NoError(t, err)

	assert.Equal(t, "51945447", hex.EncodeToString(data[:4]))
	assert.Equal(t, ExecuteSelector(), data[:4])
	// to, value, offset, operation, then a zero length word for the empty bytes.
	assert.Len(t, data, 4+5*32)
	assert.Equal(t, common.LeftPadBytes(dest.Bytes(), 32), data[4:36])
	assert.Equal(t, common.LeftPadBytes(value.Bytes(), 32), data[36:68])
	assert.Equal(t, common.LeftPadBytes([]byte{0x80}, 32), data[68:100])
	assert.Equal(t, make([]byte, 32), data[100:132])
	assert.Equal(t, make([]byte, 32), data[132:164])

	_, err = EncodeExecute(dest, nil, nil, OperationCall)
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestMintCalldata(t *testing.T) {
	assert.Equal(t, "1249c58b", hex.EncodeToString(MintCalldata()))

	// callers may not alias the parsed abi
	MintCalldata()[0] = 0
	assert.Equal(t, "1249c58b", hex.EncodeToString(MintCalldata()))
}

func TestOwner(t *testing.T) {
	assert.Equal(t, "8da5cb5b", hex.EncodeToString(OwnerCalldata()))

	owner := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	got, err := DecodeOwner(common.LeftPadBytes(owner.Bytes(), 32))
	require.NoError(t, err)
	assert.Equal(t, owner, got)

	_, err = DecodeOwner([]byte{0x01})
	assert.Error(t, err)
}
