package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is loaded once in main and injected into every component; there is
// no ambient global configuration.
type Config struct {
	DatabaseURL string
	Port        string

	// AuthSecret verifies HS256 tokens issued by the identity provider.
	AuthSecret string

	// WalletMasterKey is the passphrase the custody service derives its
	// AES-256 key from. Rotating it invalidates every stored wallet seed.
	WalletMasterKey string

	// MasterSeed is the secret seed of the master funding account. When
	// empty the service runs in faucet-only funding mode.
	MasterSeed string

	HorizonURL        string
	NetworkPassphrase string

	MinAmount            decimal.Decimal
	MaxAmount            decimal.Decimal
	DailySendLimit       decimal.Decimal
	DailyFundingLimit    decimal.Decimal
	MaxFundingsPerDay    int
	DefaultFundingAmount decimal.Decimal

	MaxRetries        int
	RetryBaseDelay    time.Duration
	WorkerConcurrency int

	AllowedOrigins []string
}

// Stellar testnet defaults.
const (
	defaultHorizonURL = "https://horizon-testnet.stellar.org"
	defaultPassphrase = "Test SDF Network ; September 2015"
)

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		Port:              envOr("PORT", "8080"),
		AuthSecret:        os.Getenv("AUTH_SECRET"),
		WalletMasterKey:   os.Getenv("WALLET_MASTER_KEY"),
		MasterSeed:        os.Getenv("MASTER_SEED"),
		HorizonURL:        envOr("HORIZON_URL", defaultHorizonURL),
		NetworkPassphrase: envOr("NETWORK_PASSPHRASE", defaultPassphrase),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("AUTH_SECRET environment variable is required")
	}
	if cfg.WalletMasterKey == "" {
		return nil, fmt.Errorf("WALLET_MASTER_KEY environment variable is required")
	}

	var err error
	if cfg.MinAmount, err = envDecimal("MIN_AMOUNT", "0.0000001"); err != nil {
		return nil, err
	}
	if cfg.MaxAmount, err = envDecimal("MAX_AMOUNT", "10000"); err != nil {
		return nil, err
	}
	if cfg.DailySendLimit, err = envDecimal("DAILY_SEND_LIMIT", "10000"); err != nil {
		return nil, err
	}
	if cfg.DailyFundingLimit, err = envDecimal("DAILY_FUNDING_LIMIT", "10000"); err != nil {
		return nil, err
	}
	if cfg.DefaultFundingAmount, err = envDecimal("DEFAULT_FUNDING_AMOUNT", "100"); err != nil {
		return nil, err
	}
	if cfg.MaxFundingsPerDay, err = envInt("MAX_FUNDINGS_PER_DAY", 3); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = envInt("MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency, err = envInt("WORKER_CONCURRENCY", 5); err != nil {
		return nil, err
	}

	baseDelay := envOr("RETRY_BASE_DELAY", "2s")
	if cfg.RetryBaseDelay, err = time.ParseDuration(baseDelay); err != nil {
		return nil, fmt.Errorf("RETRY_BASE_DELAY: %w", err)
	}

	origins := envOr("ALLOWED_ORIGINS", "http://localhost:3000")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDecimal(key, fallback string) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
