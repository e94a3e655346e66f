// Package config defines the top-level configuration for the relayer daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by RELAYD_* environment variables.
type Config struct {
	Relayer  RelayerConfig  `toml:"relayer"`
	Chain    ChainConfig    `toml:"chain"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Relay    RelayConfig    `toml:"relay"`
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// RelayerConfig holds the relayer's signing identity and the token domain
// whose permits it accepts.
type RelayerConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`

	TokenName    string `toml:"token_name"`
	TokenVersion string `toml:"token_version"`
	TokenAddress string `toml:"token_address"`
	// MarketAddress is the betting contract; permits name it as spender.
	MarketAddress string `toml:"market_address"`
}

// ChainConfig holds RPC parameters used in chain mode.
type ChainConfig struct {
	RPCURL       string   `toml:"rpc_url"`
	ChainID      int64    `toml:"chain_id"`
	GasLimit     uint64   `toml:"gas_limit"`
	PollInterval duration `toml:"poll_interval"`
}

// LedgerConfig holds embedded-ledger parameters.
type LedgerConfig struct {
	// Operator is the address allowed to create and resolve markets. Empty
	// defaults to the relayer's own address.
	Operator         string `toml:"operator"`
	AllowEarlyResolve bool  `toml:"allow_early_resolve"`
}

// RelayConfig holds submission queue parameters.
type RelayConfig struct {
	MaxAttempts    int      `toml:"max_attempts"`
	RetryBaseDelay duration `toml:"retry_base_delay"`
	ConfirmTimeout duration `toml:"confirm_timeout"`
	QueueSize      int      `toml:"queue_size"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AdminToken guards the market create/resolve endpoints.
	AdminToken string `toml:"admin_token"`

	BetRateLimit  int      `toml:"bet_rate_limit"`
	BetRateWindow duration `toml:"bet_rate_window"`
}

// PostgresConfig holds PostgreSQL connection parameters for the job journal.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the receipt cache and
// rate limiter.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	ReceiptTTL duration `toml:"receipt_ttl"`
}

// S3Config holds S3-compatible object storage parameters for settlement
// archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Relayer: RelayerConfig{
			TokenName:    "Wrapped TRUST",
			TokenVersion: "1",
		},
		Chain: ChainConfig{
			RPCURL:       "https://testnet.rpc.intuition.systems",
			ChainID:      13579,
			GasLimit:     300_000,
			PollInterval: duration{2 * time.Second},
		},
		Ledger: LedgerConfig{
			AllowEarlyResolve: false,
		},
		Relay: RelayConfig{
			MaxAttempts:    3,
			RetryBaseDelay: duration{500 * time.Millisecond},
			ConfirmTimeout: duration{60 * time.Second},
			QueueSize:      64,
		},
		Server: ServerConfig{
			Port:          3001,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			BetRateLimit:  10,
			BetRateWindow: duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "relayd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			ReceiptTTL: duration{24 * time.Hour},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "relayd-settlements",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Mode:     "embedded",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"embedded": true,
	"chain":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: embedded, chain)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Relayer identity
	if c.Relayer.PrivateKey == "" && c.Relayer.EncryptedKeyPath == "" {
		errs = append(errs, "relayer: either private_key or encrypted_key_path must be set")
	}
	if c.Relayer.EncryptedKeyPath != "" && c.Relayer.KeyPassword == "" {
		errs = append(errs, "relayer: key_password is required when encrypted_key_path is set")
	}
	if c.Relayer.TokenName == "" {
		errs = append(errs, "relayer: token_name must not be empty")
	}
	if c.Relayer.TokenVersion == "" {
		errs = append(errs, "relayer: token_version must not be empty")
	}
	if c.Relayer.MarketAddress == "" {
		errs = append(errs, "relayer: market_address must not be empty")
	}

	// Chain: only binding in chain mode, but chain_id also names the permit
	// signing domain so it must always be set.
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if strings.ToLower(c.Mode) == "chain" {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url is required for chain mode")
		}
		if c.Relayer.TokenAddress == "" {
			errs = append(errs, "relayer: token_address is required for chain mode")
		}
	}

	// Relay
	if c.Relay.MaxAttempts < 1 {
		errs = append(errs, "relay: max_attempts must be >= 1")
	}
	if c.Relay.RetryBaseDelay.Duration <= 0 {
		errs = append(errs, "relay: retry_base_delay must be > 0")
	}
	if c.Relay.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "relay: confirm_timeout must be > 0")
	}
	if c.Relay.QueueSize < 1 {
		errs = append(errs, "relay: queue_size must be >= 1")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.BetRateLimit < 1 {
		errs = append(errs, "server: bet_rate_limit must be >= 1")
	}
	if c.Server.BetRateWindow.Duration <= 0 {
		errs = append(errs, "server: bet_rate_window must be > 0")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
