package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
)

const (
	DefaultRPCEndpoint             = "https://sepolia.base.org"
	DefaultRegistryAddress         = "0x000000006551c19487814612e58FE06813775758"
	DefaultImplementationAddress   = "0xfb28ae9ffc69dd62718a780cb657a59c0b4e7aae"
	DefaultNFTContractAddress      = "0x66994e547cb9014191f50c7c7ee8cf5e80d3b89e"
	DefaultSweepDestinationAddress = "0x769c18faa2e2e833a262c2ff9f6e1a9e99e52c58"
	DefaultKeystorePath            = "./keystore.json"
	DefaultPollInterval            = 2 * time.Second

	DefaultPollAttempts        uint64 = 30
	DefaultSendGasPriceBuffer  uint64 = 20
	DefaultSweepGasPriceBuffer uint64 = 10
	DefaultGasLimitBuffer      uint64 = 20
	DefaultSweepSafetyMargin   uint64 = 10000
	DefaultClearSafetyMargin   uint64 = 1000
)

// DefaultSponsorAmount is 0.005 ETH.
var DefaultSponsorAmount = big.NewInt(5_000_000_000_000_000)

type Config struct {
	Environment string

	RPCEndpoint string
	ChainID     *big.Int

	Registry         common.Address
	Implementation   common.Address
	NFTContract      common.Address
	NFTTokenID       *big.Int
	SweepDestination common.Address

	SponsorPrivateKey    string
	SponsorKMSKeyVersion string
	SponsorPIN           string
	SponsorAmount        *big.Int
	CredentialFilePath   string

	SendGasPriceBufferPct  uint64
	SweepGasPriceBufferPct uint64
	GasLimitBufferPct      uint64

	SweepSafetyMargin *big.Int
	ClearSafetyMargin *big.Int

	PollInterval time.Duration
	PollAttempts int

	KeystorePath string

	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:            GetEnvironment(),
		RPCEndpoint:            getString("RPC_ENDPOINT", DefaultRPCEndpoint),
		SponsorPrivateKey:      getString("SPONSOR_PRIVATE_KEY", ""),
		SponsorKMSKeyVersion:   getString("SPONSOR_KMS_KEY_VERSION", ""),
		SponsorPIN:             getString("SPONSOR_PIN", ""),
		SponsorAmount:          new(big.Int).Set(DefaultSponsorAmount),
		CredentialFilePath:     GetCredentialFilePath(),
		SendGasPriceBufferPct:  getUint64("SEND_GAS_PRICE_BUFFER_PCT", DefaultSendGasPriceBuffer),
		SweepGasPriceBufferPct: getUint64("SWEEP_GAS_PRICE_BUFFER_PCT", DefaultSweepGasPriceBuffer),
		GasLimitBufferPct:      getUint64("GAS_LIMIT_BUFFER_PCT", DefaultGasLimitBuffer),
		SweepSafetyMargin:      new(big.Int).SetUint64(getUint64("SWEEP_SAFETY_MARGIN_WEI", DefaultSweepSafetyMargin)),
		ClearSafetyMargin:      new(big.Int).SetUint64(getUint64("CLEAR_SAFETY_MARGIN_WEI", DefaultClearSafetyMargin)),
		PollInterval:           getDuration("POLL_INTERVAL", DefaultPollInterval),
		PollAttempts:           int(getUint64("POLL_ATTEMPTS", DefaultPollAttempts)),
		KeystorePath:           getString("KEYSTORE_PATH", DefaultKeystorePath),
		LogLevel:               getString("LOG_LEVEL", defaultLogLevel()),
		LogFormat:              getString("LOG_FORMAT", defaultLogFormat()),
		MetricsAddr:            getString("METRICS_ADDR", ""),
	}

	if !strings.HasPrefix(cfg.RPCEndpoint, "http://") && !strings.HasPrefix(cfg.RPCEndpoint, "https://") {
		return nil, &model.ValidationError{Field: "RPC_ENDPOINT", Reason: "must be an http(s) url"}
	}

	chainID, ok := new(big.Int).SetString(getString("CHAIN_ID", fmt.Sprint(model.ChainIDBaseSepolia)), 10)
	if !ok || chainID.Sign() <= 0 {
		return nil, &model.ValidationError{Field: "CHAIN_ID", Reason: "must be a positive integer"}
	}
	cfg.ChainID = chainID

	tokenID, ok := new(big.Int).SetString(getString("NFT_TOKEN_ID", "1"), 10)
	if !ok || tokenID.Sign() < 0 {
		return nil, &model.ValidationError{Field: "NFT_TOKEN_ID", Reason: "must be a non-negative integer"}
	}
	cfg.NFTTokenID = tokenID

	addresses := []struct {
		key      string
		fallback string
		dst      *common.Address
	}{
		{"TBA_REGISTRY_ADDRESS", DefaultRegistryAddress, &cfg.Registry},
		{"TBA_IMPLEMENTATION_ADDRESS", DefaultImplementationAddress, &cfg.Implementation},
		{"NFT_CONTRACT_ADDRESS", DefaultNFTContractAddress, &cfg.NFTContract},
		{"SWEEP_DESTINATION_ADDRESS", DefaultSweepDestinationAddress, &cfg.SweepDestination},
	}
	for _, a := range addresses {
		addr, ok := getAddress(a.key, a.fallback)
		if !ok {
			return nil, &model.ValidationError{Field: a.key, Reason: "not a hex address"}
		}
		*a.dst = addr
	}

	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = int(DefaultPollAttempts)
	}

	return cfg, nil
}

// SendPolicy buffers both quotes by the send percentages.
func (c *Config) SendPolicy() model.GasPolicy {
	return model.GasPolicy{Name: "send", GasPriceBufferPct: c.SendGasPriceBufferPct, GasLimitBufferPct: c.GasLimitBufferPct}
}

// SweepPolicy uses the smaller sweep gas price buffer.
func (c *Config) SweepPolicy() model.GasPolicy {
	return model.GasPolicy{Name: "sweep", GasPriceBufferPct: c.SweepGasPriceBufferPct, GasLimitBufferPct: c.GasLimitBufferPct}
}

// FixedPricePolicy takes the network gas price as quoted.
func (c *Config) FixedPricePolicy() model.GasPolicy {
	return model.GasPolicy{Name: "fixed", GasPriceBufferPct: 0, GasLimitBufferPct: c.GasLimitBufferPct}
}

// HasSponsor reports whether any sponsor credential is configured.
func (c *Config) HasSponsor() bool {
	return c.SponsorPrivateKey != "" || c.SponsorKMSKeyVersion != ""
}
