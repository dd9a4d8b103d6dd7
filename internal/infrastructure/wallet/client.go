package wallet

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"hash/crc32"
	"math/big"
	"sync"

	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/yukia3e/token-bound-wallet/internal/domain/repository"
	"github.com/yukia3e/token-bound-wallet/internal/util"
)

const packageName = "wallet"

var (
	secp256k1N, _  = new(big.Int).SetString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)
	secp256k1halfN = new(big.Int).Div(secp256k1N, big.NewInt(2))

	castagnoli = crc32.MakeTable(crc32.Castagnoli)
)

// KMSClient is the part of *kms.KeyManagementClient the signer uses.
type KMSClient interface {
	GetPublicKey(ctx context.Context, req *kmspb.GetPublicKeyRequest, opts ...gax.CallOption) (*kmspb.PublicKey, error)
	AsymmetricSign(ctx context.Context, req *kmspb.AsymmetricSignRequest, opts ...gax.CallOption) (*kmspb.AsymmetricSignResponse, error)
}

// kmsSigner signs with an HSM held secp256k1 key version. The key never
// leaves Cloud KMS; only digests are sent.
type kmsSigner struct {
	kmsClient  KMSClient
	keyVersion string

	mu     sync.Mutex
	pubKey *ecdsa.PublicKey
}

// NewKMSSigner keyVersion is the full cryptoKeyVersions resource name.
func NewKMSSigner(kmsClient KMSClient, keyVersion string) repository.TxSigner {
	return &kmsSigner{
		kmsClient:  kmsClient,
		keyVersion: keyVersion,
	}
}

func (k *kmsSigner) Address(ctx context.Context) (common.Address, error) {
	pubKey, err := k.getPublicKey(ctx)
	if err != nil {
		return common.Address{}, util.WrapErrorForLog(packageName, util.FuncName(), err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

func (k *kmsSigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	funcName := util.FuncName()

	signer := types.LatestSignerForChainID(chainID)
	txHash := signer.Hash(tx)

	signature, err := k.sign(ctx, txHash[:])
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to sign: %w", err))
	}

	signedTx, err := tx.WithSignature(signer, signature)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to sign transaction: %w", err))
	}
	log.Debug().Str("keyVersion", k.keyVersion).Str("txHash", signedTx.Hash().Hex()).Msg(util.WrapLogMessage(packageName, funcName, "signed"))
	return signedTx, nil
}

// getPublicKey fetches and caches the public key of the key version.
func (k *kmsSigner) getPublicKey(ctx context.Context) (*ecdsa.PublicKey, error) {
	funcName := util.FuncName()

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.pubKey != nil {
		return k.pubKey, nil
	}

	publicKeyResponse, err := k.kmsClient.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{
		Name: k.keyVersion,
	})
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to get public key: %w", err))
	}
	if publicKeyResponse.Name != k.keyVersion {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to get public key: invalid key name"))
	}
	publicKeyPEM := publicKeyResponse.Pem
	if publicKeyPEM == "" {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to get public key: empty PEM"))
	}
	if int64(crc32c([]byte(publicKeyPEM))) != publicKeyResponse.GetPemCrc32C().GetValue() {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to get public key: invalid CRC32"))
	}

	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to decode public key"))
	}
	pubKey, err := getPublicKeyFromDecodedPEM(block)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to get public key: %w", err))
	}

	k.pubKey = &pubKey
	return k.pubKey, nil
}

// sign returns a 65 byte [R || S || V] signature with V in {0, 1}.
func (k *kmsSigner) sign(ctx context.Context, hash []byte) ([]byte, error) {
	funcName := util.FuncName()

	signResponse, err := k.kmsClient.AsymmetricSign(ctx, &kmspb.AsymmetricSignRequest{
		Name: k.keyVersion,
		Digest: &kmspb.Digest{
			Digest: &kmspb.Digest_Sha256{
				Sha256: hash,
			},
		},
		DigestCrc32C: wrapperspb.Int64(int64(crc32c(hash))),
	})
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to sign digest: %w", err))
	}

	if len(signResponse.Signature) == 0 {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to sign digest: empty signature"))
	}

	if int64(crc32c(signResponse.Signature)) != signResponse.GetSignatureCrc32C().GetValue() {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("AsymmetricSign: response corrupted in-transit"))
	}

	r, s, err := parseSignature(signResponse.Signature)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to parse signature: %w", err))
	}

	pubKey, err := k.getPublicKey(ctx)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to get public key: %w", err))
	}

	for _, v := range []byte{0, 1} {
		candidateSignature := make([]byte, crypto.SignatureLength)
		r.FillBytes(candidateSignature[:32])
		s.FillBytes(candidateSignature[32:64])
		candidateSignature[64] = v

		candidateRawPublicKey, err := crypto.Ecrecover(hash, candidateSignature)
		if err != nil {
			continue
		}

		candidatePublicKey, err := crypto.UnmarshalPubkey(candidateRawPublicKey)
		if err != nil {
			return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to parse public key: %w", err))
		}

		if candidatePublicKey.Equal(pubKey) {
			return candidateSignature, nil
		}
	}

	return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to sign digest: invalid signature"))
}

func crc32c(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

func getPublicKeyFromDecodedPEM(block *pem.Block) (ecdsa.PublicKey, error) {
	funcName := util.FuncName()

	var pki struct {
		Raw       asn1.RawContent
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}

	_, err := asn1.Unmarshal(block.Bytes, &pki)
	if err != nil {
		return ecdsa.PublicKey{}, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to unmarshal public key: %w", err))
	}
	asn1Data := pki.PublicKey.RightAlign()
	if len(asn1Data) != 65 || asn1Data[0] != 0x04 {
		return ecdsa.PublicKey{}, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("unexpected public key encoding"))
	}
	x, y := asn1Data[1:33], asn1Data[33:]
	pubKey := ecdsa.PublicKey{Curve: crypto.S256(), X: new(big.Int).SetBytes(x), Y: new(big.Int).SetBytes(y)}

	return pubKey, nil
}

// parseSignature decodes a DER signature and normalizes S to the lower half order.
func parseSignature(signature []byte) (r *big.Int, s *big.Int, err error) {
	funcName := util.FuncName()

	sig := new(struct {
		R *big.Int
		S *big.Int
	})

	_, err = asn1.Unmarshal(signature, sig)
	if err != nil {
		return nil, nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to unmarshal signature: %w", err))
	}

	if sig.S.Cmp(secp256k1halfN) > 0 {
		sig.S = new(big.Int).Sub(secp256k1N, sig.S)
	}

	return sig.R, sig.S, nil
}
