package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsAndFile(t *testing.T) {
	path := writeConfig(t, `
mode = "embedded"

[relayer]
private_key = "deadbeef"
market_address = "0x000000000000000000000000000000000000beef"

[server]
port = 4000

[relay]
confirm_timeout = "90s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Relay.ConfirmTimeout.Duration != 90*time.Second {
		t.Errorf("Relay.ConfirmTimeout = %v, want 90s", cfg.Relay.ConfirmTimeout.Duration)
	}

	// Untouched fields keep their defaults.
	if cfg.Chain.ChainID != 13579 {
		t.Errorf("Chain.ChainID = %d, want default 13579", cfg.Chain.ChainID)
	}
	if cfg.Relayer.TokenName != "Wrapped TRUST" {
		t.Errorf("Relayer.TokenName = %q, want default", cfg.Relayer.TokenName)
	}
	if cfg.Redis.ReceiptTTL.Duration != 24*time.Hour {
		t.Errorf("Redis.ReceiptTTL = %v, want default 24h", cfg.Redis.ReceiptTTL.Duration)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[relayer]
private_key = "deadbeef"
market_address = "0x000000000000000000000000000000000000beef"
`)

	t.Setenv("RELAYD_SERVER_PORT", "8080")
	t.Setenv("RELAYD_MODE", "chain")
	t.Setenv("RELAYD_CHAIN_POLL_INTERVAL", "5s")
	t.Setenv("RELAYD_LEDGER_ALLOW_EARLY_RESOLVE", "true")
	t.Setenv("RELAYD_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Mode != "chain" {
		t.Errorf("Mode = %q, want chain", cfg.Mode)
	}
	if cfg.Chain.PollInterval.Duration != 5*time.Second {
		t.Errorf("Chain.PollInterval = %v, want 5s", cfg.Chain.PollInterval.Duration)
	}
	if !cfg.Ledger.AllowEarlyResolve {
		t.Error("Ledger.AllowEarlyResolve not overridden")
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != want[0] || cfg.Server.CORSOrigins[1] != want[1] {
		t.Errorf("Server.CORSOrigins = %v, want %v", cfg.Server.CORSOrigins, want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("Load with missing file succeeded")
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "hybrid"
	cfg.Server.Port = 0
	cfg.Relay.MaxAttempts = 0
	// No relayer key, no market address.

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted a broken config")
	}
	for _, want := range []string{"unknown mode", "port", "max_attempts", "private_key", "market_address"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidate_ChainModeRequirements(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "chain"
	cfg.Relayer.PrivateKey = "deadbeef"
	cfg.Relayer.MarketAddress = "0x000000000000000000000000000000000000beef"
	cfg.Chain.RPCURL = ""
	cfg.Relayer.TokenAddress = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted chain mode without rpc_url")
	}
	if !strings.Contains(err.Error(), "rpc_url") || !strings.Contains(err.Error(), "token_address") {
		t.Errorf("error %q does not mention chain-mode requirements", err)
	}

	cfg.Chain.RPCURL = "https://rpc.example"
	cfg.Relayer.TokenAddress = "0x00000000000000000000000000000000000070c1"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate_EncryptedKeyNeedsPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Relayer.EncryptedKeyPath = "/etc/relayd/key.json"
	cfg.Relayer.MarketAddress = "0x000000000000000000000000000000000000beef"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "key_password") {
		t.Errorf("err = %v, want key_password complaint", err)
	}
}
