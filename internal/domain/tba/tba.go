// Package tba derives ERC-6551 token-bound account addresses and encodes the
// calls the wallet makes through them.
package tba

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
	"github.com/yukia3e/token-bound-wallet/internal/util"
)

const packageName = "tba"

// OperationCall is the only execute operation the wallet issues.
const OperationCall uint8 = 0

// ERC-1167 style proxy wrapping the implementation address.
var (
	proxyPrefix = common.FromHex("3d60ad80600a3d3981f3363d3d373d3d3d363d73")
	proxySuffix = common.FromHex("5af43d82803e903d91602b57fd5bf3")
)

const accountABI = `[
	{"type":"function","name":"execute","stateMutability":"payable","inputs":[
		{"name":"to","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"data","type":"bytes"},
		{"name":"operation","type":"uint8"}
	],"outputs":[{"name":"result","type":"bytes"}]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

var (
	parsedABI abi.ABI

	uint256Type, _ = abi.NewType("uint256", "", nil)
	addressType, _ = abi.NewType("address", "", nil)
	bytes32Type, _ = abi.NewType("bytes32", "", nil)

	saltArgs     = abi.Arguments{{Type: uint256Type}, {Type: addressType}, {Type: uint256Type}}
	initDataArgs = abi.Arguments{{Type: bytes32Type}, {Type: uint256Type}, {Type: addressType}, {Type: uint256Type}}
)

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(accountABI))
	if err != nil {
		panic(fmt.Sprintf("tba: invalid account abi: %v", err))
	}
}

// DeriveParams identifies one token-bound account. All fields are required.
type DeriveParams struct {
	ChainID        *big.Int
	TokenContract  common.Address
	TokenID        *big.Int
	Implementation common.Address
	Registry       common.Address
}

func (p DeriveParams) validate() error {
	if p.ChainID == nil || p.ChainID.Sign() < 0 {
		return &model.ValidationError{Field: "chain id", Reason: "must be a non-negative integer"}
	}
	if p.TokenID == nil || p.TokenID.Sign() < 0 {
		return &model.ValidationError{Field: "token id", Reason: "must be a non-negative integer"}
	}
	return nil
}

// Salt is keccak256(abi.encode(chainId, tokenContract, tokenId)).
func Salt(p DeriveParams) ([32]byte, error) {
	if err := p.validate(); err != nil {
		return [32]byte{}, util.WrapErrorForLog(packageName, util.FuncName(), err)
	}
	enc, err := saltArgs.Pack(p.ChainID, p.TokenContract, p.TokenID)
	if err != nil {
		return [32]byte{}, util.WrapErrorForLog(packageName, util.FuncName(), fmt.Errorf("failed to encode salt: %w", err))
	}
	return crypto.Keccak256Hash(enc), nil
}

// InitCode is the account proxy creation code deployed by the registry.
func InitCode(p DeriveParams) ([]byte, error) {
	funcName := util.FuncName()

	salt, err := Salt(p)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	footer, err := initDataArgs.Pack(salt, p.ChainID, p.TokenContract, p.TokenID)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to encode init data: %w", err))
	}

	code := make([]byte, 0, len(proxyPrefix)+common.AddressLength+len(proxySuffix)+len(footer))
	code = append(code, proxyPrefix...)
	code = append(code, p.Implementation.Bytes()...)
	code = append(code, proxySuffix...)
	code = append(code, footer...)
	return code, nil
}

// Derive returns the CREATE2 address the registry deploys the account to.
// It is pure: equal params always give the same address.
func Derive(p DeriveParams) (common.Address, error) {
	funcName := util.FuncName()

	salt, err := Salt(p)
	if err != nil {
		return common.Address{}, util.WrapErrorForLog(packageName, funcName, err)
	}
	code, err := InitCode(p)
	if err != nil {
		return common.Address{}, util.WrapErrorForLog(packageName, funcName, err)
	}

	// keccak256(0xff ++ registry ++ salt ++ keccak256(initCode))[12:]
	preimage := make([]byte, 0, 1+common.AddressLength+32+32)
	preimage = append(preimage, 0xff)
	preimage = append(preimage, p.Registry.Bytes()...)
	preimage = append(preimage, salt[:]...)
	preimage = append(preimage, crypto.Keccak256(code)...)
	return common.BytesToAddress(crypto.Keccak256(preimage)[12:]), nil
}

// Bind derives the account for owner and records the exact derivation inputs.
func Bind(owner common.Address, p DeriveParams) (*model.SmartAccountBinding, error) {
	account, err := Derive(p)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), err)
	}
	return &model.SmartAccountBinding{
		Owner:          owner,
		Account:        account,
		ChainID:        new(big.Int).Set(p.ChainID),
		TokenContract:  p.TokenContract,
		TokenID:        new(big.Int).Set(p.TokenID),
		Implementation: p.Implementation,
		Registry:       p.Registry,
	}, nil
}

// VerifyBinding reports whether b.Account is what its own inputs derive to.
func VerifyBinding(b *model.SmartAccountBinding) bool {
	if b == nil {
		return false
	}
	account, err := Derive(DeriveParams{
		ChainID:        b.ChainID,
		TokenContract:  b.TokenContract,
		TokenID:        b.TokenID,
		Implementation: b.Implementation,
		Registry:       b.Registry,
	})
	return err == nil && account == b.Account
}

// EncodeExecute packs execute(address,uint256,bytes,uint8).
func EncodeExecute(to common.Address, value *big.Int, data []byte, operation uint8) ([]byte, error) {
	if value == nil || value.Sign() < 0 {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), &model.ValidationError{Field: "value", Reason: "must be a non-negative integer"})
	}
	if data == nil {
		data = []byte{}
	}
	out, err := parsedABI.Pack("execute", to, value, data, operation)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), fmt.Errorf("failed to pack execute: %w", err))
	}
	return out, nil
}

// MintCalldata is the mint() call of the identity NFT contract.
func MintCalldata() []byte {
	return bytes.Clone(parsedABI.Methods["mint"].ID)
}

// ExecuteSelector is the four byte selector of execute.
func ExecuteSelector() []byte {
	return bytes.Clone(parsedABI.Methods["execute"].ID)
}

// OwnerCalldata is the owner() view of a deployed account.
func OwnerCalldata() []byte {
	return bytes.Clone(parsedABI.Methods["owner"].ID)
}

// DecodeOwner unpacks the return data of owner().
func DecodeOwner(ret []byte) (common.Address, error) {
	out, err := parsedABI.Unpack("owner", ret)
	if err != nil {
		return common.Address{}, util.WrapErrorForLog(packageName, util.FuncName(), fmt.Errorf("failed to unpack owner: %w", err))
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, util.WrapErrorForLog(packageName, util.FuncName(), fmt.Errorf("unexpected owner type %T", out[0]))
	}
	return owner, nil
}
