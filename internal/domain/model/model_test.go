package model

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known development key (hardhat account #0).
const (
	testPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcc7e293a87914d8d0"
	testAddress    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestGasPolicy_Buffers(t *testing.T) {
	send := GasPolicy{GasPriceBufferPct: 20, GasLimitBufferPct: 20}
	sweep := GasPolicy{GasPriceBufferPct: 10, GasLimitBufferPct: 20}

	assert.Equal(t, big.NewInt(1_200_000_000), send.BufferGasPrice(big.NewInt(1_000_000_000)))
	assert.Equal(t, uint64(25200), send.BufferGasLimit(21000))
	assert.Equal(t, big.NewInt(1_100_000_000), sweep.BufferGasPrice(big.NewInt(1_000_000_000)))
	assert.Equal(t, big.NewInt(7), GasPolicy{}.BufferGasPrice(big.NewInt(7)))
}

func TestPreparedTransaction_Validate(t *testing.T) {
	valid := func() *PreparedTransaction {
		return &PreparedTransaction{
			ChainID:  big.NewInt(ChainIDBaseSepolia),
			Value:    big.NewInt(0),
			GasPrice: big.NewInt(1),
			GasLimit: 21000,
		}
	}

	tests := []struct {
		name      string
		mutate    func(p *PreparedTransaction) *PreparedTransaction
		wantField string
	}{
		{name: "valid", mutate: func(p *PreparedTransaction) *PreparedTransaction { return p }},
		{name: "nil", mutate: func(*PreparedTransaction) *PreparedTransaction { return nil }, wantField: "transaction"},
		{name: "no chain id", mutate: func(p *PreparedTransaction) *PreparedTransaction { p.ChainID = nil; return p }, wantField: "chain id"},
		{name: "no gas price", mutate: func(p *PreparedTransaction) *PreparedTransaction { p.GasPrice = nil; return p }, wantField: "gas price"},
		{name: "no gas limit", mutate: func(p *PreparedTransaction) *PreparedTransaction { p.GasLimit = 0; return p }, wantField: "gas limit"},
		{name: "negative value", mutate: func(p *PreparedTransaction) *PreparedTransaction { p.Value = big.NewInt(-1); return p }, wantField: "value"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mutate(valid()).Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestParseKeystore(t *testing.T) {
	sa := "0x09a936a0467183dbefb818ad1a11122d5a13f30b"

	tests := []struct {
		name      string
		input     string
		want      *Keystore
		wantField string
	}{
		{
			name:  "snake case record",
			input: `{"private_key":"` + testPrivateKey + `","address":"` + testAddress + `","smart_account":null}`,
			want:  &Keystore{PrivateKey: testPrivateKey, Address: testAddress},
		},
		{
			name:  "camel case record with smart account",
			input: `{"privateKeyHex":"` + testPrivateKey[2:] + `","address":"` + testAddress + `","smartAccountAddress":"` + sa + `"}`,
			want:  &Keystore{PrivateKey: testPrivateKey[2:], Address: testAddress, SmartAccount: &sa},
		},
		{name: "empty", input: "  ", wantField: "keystore"},
		{name: "malformed json", input: `{"private_key":`, wantField: "keystore"},
		{name: "short key", input: `{"private_key":"0xabcd","address":"` + testAddress + `"}`, wantField: "private_key"},
		{name: "non hex key", input: `{"private_key":"0x` + repeat("zz", 32) + `","address":"` + testAddress + `"}`, wantField: "private_key"},
		{name: "bad address", input: `{"private_key":"` + testPrivateKey + `","address":"nope"}`, wantField: "address"},
		{name: "mismatched address", input: `{"private_key":"` + testPrivateKey + `","address":"0x0000000000000000000000000000000000000001"}`, wantField: "address"},
		{name: "bad smart account", input: `{"private_key":"` + testPrivateKey + `","address":"` + testAddress + `","smart_account":"0x12"}`, wantField: "smart_account"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKeystore([]byte(tt.input))
			if tt.wantField != "" {
				var verr *ValidationError
				require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
				assert.Equal(t, tt.wantField, verr.Field)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseKeystore() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestKeystore_RoundTrip(t *testing.T) {
	ks, err := ParseKeystore([]byte(`{"private_key":"` + testPrivateKey + `","address":"` + testAddress + `"}`))
	require.NoError(t, err)

	km, err := ks.KeyMaterial()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), km.Address)

	again := NewKeystore(km)
	assert.Equal(t, testPrivateKey, again.PrivateKey)
	assert.Equal(t, common.HexToAddress(testAddress).Hex(), again.Address)

	_, ok := again.SmartAccountAddress()
	assert.False(t, ok)

	km.Wipe()
	assert.Nil(t, km.PrivateKey)
}

func TestKeystore_ValidateKeepsRecord(t *testing.T) {
	ks := &Keystore{PrivateKey: testPrivateKey, Address: testAddress}
	require.NoError(t, ks.Validate())
	require.NoError(t, ks.Validate())
	assert.Equal(t, testPrivateKey, ks.PrivateKey)

	km, err := ks.KeyMaterial()
	require.NoError(t, err)
	require.NotNil(t, km.PrivateKey)
	assert.Equal(t, common.HexToAddress(testAddress), km.Address)
}

func TestKeystore_Clone(t *testing.T) {
	sa := "0x09a936a0467183dbefb818ad1a11122d5a13f30b"
	ks := &Keystore{PrivateKey: testPrivateKey, Address: testAddress, SmartAccount: &sa}

	c := ks.Clone()
	*c.SmartAccount = "changed"
	assert.Equal(t, "0x09a936a0467183dbefb818ad1a11122d5a13f30b", *ks.SmartAccount)
}

func TestParseEther(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1", want: "1000000000000000000"},
		{in: "0.005", want: "5000000000000000"},
		{in: " 0.000000000000000001 ", want: "1"},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "0", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "0.0000000000000000001", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEther(tt.in)
			if tt.wantErr {
				var verr *ValidationError
				assert.ErrorAs(t, err, &verr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFormatEther(t *testing.T) {
	assert.Equal(t, "0.0050 ETH", FormatEther(big.NewInt(5_000_000_000_000_000)))
	assert.Equal(t, "0.0000 ETH", FormatEther(nil))
	assert.Equal(t, "1.2346 ETH", FormatEther(big.NewInt(1_234_567_000_000_000_000)))
}

func TestErrors_Unwrap(t *testing.T) {
	base := &RPCError{Code: -32000, Message: "nonce too low"}
	err := &SubmitError{Err: base}

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "submit failed: rpc error -32000: nonce too low", err.Error())

	berr := &BuildError{Stage: BuildStageNonce, Err: &NetworkError{Op: "eth_getTransactionCount", Err: errors.New("refused")}}
	var nerr *NetworkError
	require.ErrorAs(t, berr, &nerr)
	assert.Equal(t, "build failed at nonce: network error in eth_getTransactionCount: refused", berr.Error())
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
