package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

func GetEnvironment() string {
	return os.Getenv("APP_ENV")
}

func IsLocal() bool {
	return GetEnvironment() == "local"
}

func IsDevelopment() bool {
	return GetEnvironment() == "local" || GetEnvironment() == "development"
}

func IsStaging() bool {
	return GetEnvironment() == "staging"
}

func IsProduction() bool {
	return GetEnvironment() == "production"
}

// defaultLogLevel is debug on a local machine and info elsewhere.
func defaultLogLevel() string {
	if IsLocal() {
		return "debug"
	}
	return "info"
}

// defaultLogFormat is JSON for deployed environments and console otherwise.
func defaultLogFormat() string {
	switch {
	case IsDevelopment():
		return "console"
	case IsStaging(), IsProduction():
		return "json"
	default:
		return "console"
	}
}

func GetCredentialFilePath() string {
	return os.Getenv("GCP_CREDENTIAL_FILE_PATH")
}

func getString(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getUint64 logs and falls back when the value is not a number.
func getUint64(key string, fallback uint64) uint64 {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		log.Error().Str("key", key).Err(err).Msg("config.getUint64: failed to parse, using default")
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return fallback
	}
	v, err := time.ParseDuration(s)
	if err != nil || v <= 0 {
		log.Error().Str("key", key).Str("value", s).Msg("config.getDuration: invalid duration, using default")
		return fallback
	}
	return v
}

// getAddress returns ok=false when the value is set but not a hex address.
func getAddress(key, fallback string) (common.Address, bool) {
	s := getString(key, fallback)
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}
