package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies RELAYD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known RELAYD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Relayer ──
	setStr(&cfg.Relayer.PrivateKey, "RELAYD_RELAYER_PRIVATE_KEY")
	setStr(&cfg.Relayer.EncryptedKeyPath, "RELAYD_RELAYER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Relayer.KeyPassword, "RELAYD_RELAYER_KEY_PASSWORD")
	setStr(&cfg.Relayer.TokenName, "RELAYD_RELAYER_TOKEN_NAME")
	setStr(&cfg.Relayer.TokenVersion, "RELAYD_RELAYER_TOKEN_VERSION")
	setStr(&cfg.Relayer.TokenAddress, "RELAYD_RELAYER_TOKEN_ADDRESS")
	setStr(&cfg.Relayer.MarketAddress, "RELAYD_RELAYER_MARKET_ADDRESS")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "RELAYD_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "RELAYD_CHAIN_CHAIN_ID")
	setUint64(&cfg.Chain.GasLimit, "RELAYD_CHAIN_GAS_LIMIT")
	setDuration(&cfg.Chain.PollInterval, "RELAYD_CHAIN_POLL_INTERVAL")

	// ── Ledger ──
	setStr(&cfg.Ledger.Operator, "RELAYD_LEDGER_OPERATOR")
	setBool(&cfg.Ledger.AllowEarlyResolve, "RELAYD_LEDGER_ALLOW_EARLY_RESOLVE")

	// ── Relay ──
	setInt(&cfg.Relay.MaxAttempts, "RELAYD_RELAY_MAX_ATTEMPTS")
	setDuration(&cfg.Relay.RetryBaseDelay, "RELAYD_RELAY_RETRY_BASE_DELAY")
	setDuration(&cfg.Relay.ConfirmTimeout, "RELAYD_RELAY_CONFIRM_TIMEOUT")
	setInt(&cfg.Relay.QueueSize, "RELAYD_RELAY_QUEUE_SIZE")

	// ── Server ──
	setInt(&cfg.Server.Port, "RELAYD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "RELAYD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminToken, "RELAYD_SERVER_ADMIN_TOKEN")
	setInt(&cfg.Server.BetRateLimit, "RELAYD_SERVER_BET_RATE_LIMIT")
	setDuration(&cfg.Server.BetRateWindow, "RELAYD_SERVER_BET_RATE_WINDOW")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "RELAYD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "RELAYD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RELAYD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RELAYD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RELAYD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RELAYD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RELAYD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RELAYD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RELAYD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RELAYD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "RELAYD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RELAYD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RELAYD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RELAYD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RELAYD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RELAYD_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.ReceiptTTL, "RELAYD_REDIS_RECEIPT_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "RELAYD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "RELAYD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RELAYD_S3_REGION")
	setStr(&cfg.S3.Bucket, "RELAYD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RELAYD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RELAYD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RELAYD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RELAYD_S3_FORCE_PATH_STYLE")

	// ── Top-level ──
	setStr(&cfg.Mode, "RELAYD_MODE")
	setStr(&cfg.LogLevel, "RELAYD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
