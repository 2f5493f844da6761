// Package config loads the crank's closed environment-variable set (spec §6)
// via spf13/viper, the teacher's configuration dependency. Nothing outside
// this closed set is read. validate's checks are fatal startup errors (exit
// code 1, per spec §6's exit-code table); a value that fails to parse is read
// as its zero value and is rejected only where validate checks that field.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved, validated crank configuration.
type Config struct {
	CrankEnabled          bool
	PollingInterval       time.Duration
	MaxConcurrentMatches  int
	WalletPath            string
	MinSolBalance         float64
	ErrorThreshold        int
	PauseDuration         time.Duration
	ShadowwireEnabled     bool
	ShadowwireAPIKey      string
	ShadowwireAPIURL      string
	ShadowwireMaxRetries  int
	ShadowwireRetryDelay  time.Duration
	ShadowwireTimeout     time.Duration
	DBPath                string
	LogLevel              string
	LogFile               string
	PreferPrivateTransfer bool

	// Derived defaults not independently configurable, named here for the
	// timeouts in spec §5. RollbackInterval is not read by the orchestrator,
	// whose maintenance loop runs on its own fixed 30s interval.
	LockTTL          time.Duration
	SettlementExpiry time.Duration
	CooldownPeriod   time.Duration
	RollbackInterval time.Duration
}

// Load binds the closed env-var set from spec §6 and applies defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("CRANK_ENABLED", true)
	v.SetDefault("CRANK_POLLING_INTERVAL_MS", 5000)
	v.SetDefault("CRANK_MAX_CONCURRENT_MATCHES", 10)
	v.SetDefault("CRANK_WALLET_PATH", "")
	v.SetDefault("CRANK_MIN_SOL_BALANCE", 0.1)
	v.SetDefault("CRANK_ERROR_THRESHOLD", 10)
	v.SetDefault("CRANK_PAUSE_DURATION_MS", 60000)
	v.SetDefault("SHADOWWIRE_ENABLED", true)
	v.SetDefault("SHADOWWIRE_API_KEY", "")
	v.SetDefault("SHADOWWIRE_API_URL", "")
	v.SetDefault("SHADOWWIRE_MAX_RETRIES", 3)
	v.SetDefault("SHADOWWIRE_RETRY_DELAY_MS", 1000)
	v.SetDefault("SHADOWWIRE_TIMEOUT_MS", 30000)
	v.SetDefault("DB_PATH", "./data/crank.db")
	v.SetDefault("CRANK_LOG_LEVEL", "info")
	v.SetDefault("CRANK_LOG_FILE", "")
	v.SetDefault("CRANK_PREFER_PRIVATE_TRANSFER", true)

	cfg := &Config{
		CrankEnabled:          v.GetBool("CRANK_ENABLED"),
		PollingInterval:       time.Duration(v.GetInt("CRANK_POLLING_INTERVAL_MS")) * time.Millisecond,
		MaxConcurrentMatches:  v.GetInt("CRANK_MAX_CONCURRENT_MATCHES"),
		WalletPath:            v.GetString("CRANK_WALLET_PATH"),
		MinSolBalance:         v.GetFloat64("CRANK_MIN_SOL_BALANCE"),
		ErrorThreshold:        v.GetInt("CRANK_ERROR_THRESHOLD"),
		PauseDuration:         time.Duration(v.GetInt("CRANK_PAUSE_DURATION_MS")) * time.Millisecond,
		ShadowwireEnabled:     v.GetBool("SHADOWWIRE_ENABLED"),
		ShadowwireAPIKey:      v.GetString("SHADOWWIRE_API_KEY"),
		ShadowwireAPIURL:      v.GetString("SHADOWWIRE_API_URL"),
		ShadowwireMaxRetries:  v.GetInt("SHADOWWIRE_MAX_RETRIES"),
		ShadowwireRetryDelay:  time.Duration(v.GetInt("SHADOWWIRE_RETRY_DELAY_MS")) * time.Millisecond,
		ShadowwireTimeout:     time.Duration(v.GetInt("SHADOWWIRE_TIMEOUT_MS")) * time.Millisecond,
		DBPath:                v.GetString("DB_PATH"),
		LogLevel:              v.GetString("CRANK_LOG_LEVEL"),
		LogFile:               v.GetString("CRANK_LOG_FILE"),
		PreferPrivateTransfer: v.GetBool("CRANK_PREFER_PRIVATE_TRANSFER"),

		LockTTL:          30 * time.Second,
		SettlementExpiry: 300 * time.Second,
		CooldownPeriod:   60 * time.Second,
		RollbackInterval: 30 * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ShadowwireEnabled && c.ShadowwireAPIURL == "" {
		return fmt.Errorf("SHADOWWIRE_API_URL is required when SHADOWWIRE_ENABLED=true")
	}
	if c.PollingInterval <= 0 {
		return fmt.Errorf("CRANK_POLLING_INTERVAL_MS must be positive")
	}
	if c.MaxConcurrentMatches <= 0 {
		return fmt.Errorf("CRANK_MAX_CONCURRENT_MATCHES must be positive")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	return nil
}
