// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/gasless-relay/internal/relay"
	"github.com/ethereum/go-ethereum/common"
)

// Config holds all application configuration.
type Config struct {
	Port     string
	GRPCPort string // empty disables the gRPC health server
	AppEnv   string
	DBPath   string
	Debug    bool

	Chain ChainConfig

	ConfirmTimeout    time.Duration
	ContentCacheBytes int
	M2MAPIKey         string
	AllowedOrigins    []string
}

// ChainConfig describes the RPC endpoint and contracts the relay talks to.
type ChainConfig struct {
	RPCURL                   string
	ChainID                  int64
	RelayerPrivateKey        string
	SocialContractAddress    string
	SessionKeyManagerAddress string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		GRPCPort: getEnv("GRPC_PORT", ""),
		AppEnv:   strings.ToLower(strings.TrimSpace(getEnv("APP_ENV", "production"))),
		DBPath:   getEnv("DB_PATH", "./data/relay.db"),
		Debug:    getEnvBool("LOG_DEBUG", false),
		Chain: ChainConfig{
			RPCURL:                   getEnv("RPC_URL", ""),
			ChainID:                  int64(getEnvInt("CHAIN_ID", 31337)),
			RelayerPrivateKey:        getEnv("RELAYER_PRIVATE_KEY", ""),
			SocialContractAddress:    getEnv("SOCIAL_CONTRACT_ADDRESS", ""),
			SessionKeyManagerAddress: getEnv("SESSION_KEY_MANAGER_ADDRESS", ""),
		},
		ConfirmTimeout:    getEnvDuration("CONFIRM_TIMEOUT", relay.DefaultConfirmTimeout),
		ContentCacheBytes: getEnvInt("CONTENT_CACHE_BYTES", 32*1024*1024),
		M2MAPIKey:         getEnv("M2M_API_KEY", ""),
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "*")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that configured values are well formed. A missing social
// contract is not an error here; the relay reports it per request.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("CONFIRM_TIMEOUT must be > 0")
	}
	if c.ContentCacheBytes <= 0 {
		return fmt.Errorf("CONTENT_CACHE_BYTES must be > 0")
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be > 0")
	}
	if a := c.Chain.SocialContractAddress; a != "" && !common.IsHexAddress(a) {
		return fmt.Errorf("SOCIAL_CONTRACT_ADDRESS is not a valid address: %q", a)
	}
	if a := c.Chain.SessionKeyManagerAddress; a != "" && !common.IsHexAddress(a) {
		return fmt.Errorf("SESSION_KEY_MANAGER_ADDRESS is not a valid address: %q", a)
	}
	if c.Chain.RPCURL != "" && c.Chain.RelayerPrivateKey == "" {
		return fmt.Errorf("RELAYER_PRIVATE_KEY is required when RPC_URL is set")
	}
	return nil
}

// IsDevelopment returns true if running in development or test mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "test"
}

// Policy selects the signature enforcement policy. Only development and test
// deployments are permissive; everything else, including an unset or
// misspelled APP_ENV, is strict.
func (c *Config) Policy() relay.SecurityPolicy {
	if c.IsDevelopment() {
		return relay.PermissivePolicy()
	}
	return relay.StrictPolicy()
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
