package model

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const ChainIDBaseSepolia = 84532

// KeyMaterial is the session's signing key. It is never mutated after load.
type KeyMaterial struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
}

func NewKeyMaterial(key *ecdsa.PrivateKey) *KeyMaterial {
	return &KeyMaterial{
		PrivateKey: key,
		Address:    crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Wipe zeroes the private scalar. The key material is unusable afterwards.
func (k *KeyMaterial) Wipe() {
	if k == nil || k.PrivateKey == nil {
		return
	}
	k.PrivateKey.D.SetInt64(0)
	k.PrivateKey = nil
}

// SmartAccountBinding ties an owner address to the token-bound account derived
// for one exact (token contract, token id, implementation, registry) tuple.
type SmartAccountBinding struct {
	Owner          common.Address
	Account        common.Address
	ChainID        *big.Int
	TokenContract  common.Address
	TokenID        *big.Int
	Implementation common.Address
	Registry       common.Address
}

// Keystore is the persisted wallet record.
type Keystore struct {
	PrivateKey   string  `json:"private_key"`
	Address      string  `json:"address"`
	SmartAccount *string `json:"smart_account"`
}

type keystoreRecord struct {
	PrivateKey          string  `json:"private_key"`
	PrivateKeyHex       string  `json:"privateKeyHex"`
	Address             string  `json:"address"`
	SmartAccount        *string `json:"smart_account"`
	SmartAccountAddress *string `json:"smartAccountAddress"`
}

// NewKeystore renders key material as a record with no smart account yet.
func NewKeystore(km *KeyMaterial) *Keystore {
	return &Keystore{
		PrivateKey: "0x" + hex.EncodeToString(crypto.FromECDSA(km.PrivateKey)),
		Address:    km.Address.Hex(),
	}
}

// ParseKeystore validates an untrusted record. Both the snake_case keys the
// wallet writes and camelCase aliases are accepted.
func ParseKeystore(data []byte) (*Keystore, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ValidationError{Field: "keystore", Reason: "empty record"}
	}

	var rec keystoreRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &ValidationError{Field: "keystore", Reason: err.Error()}
	}

	ks := &Keystore{
		PrivateKey:   rec.PrivateKey,
		Address:      rec.Address,
		SmartAccount: rec.SmartAccount,
	}
	if ks.PrivateKey == "" {
		ks.PrivateKey = rec.PrivateKeyHex
	}
	if ks.SmartAccount == nil {
		ks.SmartAccount = rec.SmartAccountAddress
	}

	if err := ks.Validate(); err != nil {
		return nil, err
	}
	return ks, nil
}

func (k *Keystore) Validate() error {
	km, err := k.KeyMaterial()
	if err != nil {
		return err
	}
	defer km.Wipe()
	if !common.IsHexAddress(k.Address) {
		return &ValidationError{Field: "address", Reason: "not a hex address"}
	}
	if common.HexToAddress(k.Address) != km.Address {
		return &ValidationError{Field: "address", Reason: "does not match private key"}
	}
	if k.SmartAccount != nil && !common.IsHexAddress(*k.SmartAccount) {
		return &ValidationError{Field: "smart_account", Reason: "not a hex address"}
	}
	return nil
}

// KeyMaterial decodes the private key of the record.
func (k *Keystore) KeyMaterial() (*KeyMaterial, error) {
	h := strings.TrimPrefix(strings.TrimSpace(k.PrivateKey), "0x")
	if len(h) != 64 {
		return nil, &ValidationError{Field: "private_key", Reason: "expected 32 hex-encoded bytes"}
	}
	key, err := crypto.HexToECDSA(h)
	if err != nil {
		return nil, &ValidationError{Field: "private_key", Reason: err.Error()}
	}
	return NewKeyMaterial(key), nil
}

// SmartAccountAddress returns the bound account, if any.
func (k *Keystore) SmartAccountAddress() (common.Address, bool) {
	if k.SmartAccount == nil || *k.SmartAccount == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(*k.SmartAccount), true
}

func (k *Keystore) Clone() *Keystore {
	c := *k
	if k.SmartAccount != nil {
		sa := *k.SmartAccount
		c.SmartAccount = &sa
	}
	return &c
}
