package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "TRANSFER_DELAY_MILLIS")
	unsetEnvWithCleanup(t, "LOOKUP_DELAY_MILLIS")
	unsetEnvWithCleanup(t, "PROVIDER_DELAY_MILLIS")
	unsetEnvWithCleanup(t, "VIRTUAL_ACCOUNT_TTL_MINUTES")
	unsetEnvWithCleanup(t, "PIN_MAX_ATTEMPTS")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default ServerPort 8080, got %q", cfg.ServerPort)
	}
	if cfg.TransferDelayMillis != 500 {
		t.Fatalf("expected default TransferDelayMillis 500, got %d", cfg.TransferDelayMillis)
	}
	if cfg.LookupDelayMillis != 300 {
		t.Fatalf("expected default LookupDelayMillis 300, got %d", cfg.LookupDelayMillis)
	}
	if cfg.ProviderDelayMillis != 1000 {
		t.Fatalf("expected default ProviderDelayMillis 1000, got %d", cfg.ProviderDelayMillis)
	}
	if cfg.VirtualAccountTTLMinutes != 30 {
		t.Fatalf("expected default VirtualAccountTTLMinutes 30, got %d", cfg.VirtualAccountTTLMinutes)
	}
	if cfg.PINMaxAttempts != 0 {
		t.Fatalf("expected PIN lockout disabled by default, got max attempts %d", cfg.PINMaxAttempts)
	}
	if cfg.RedisRateLimitPrefix != "freerider:rate_limit" {
		t.Fatalf("expected default rate limit prefix, got %q", cfg.RedisRateLimitPrefix)
	}
}

func TestLoadConfig_PortAliasOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9999")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9999" {
		t.Fatalf("expected PORT to override SERVER_PORT, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_NegativeDelaysCoercedToZero(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "TRANSFER_DELAY_MILLIS", "-100")
	setEnvWithCleanup(t, "LOOKUP_DELAY_MILLIS", "-1")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.TransferDelayMillis != 0 {
		t.Fatalf("expected negative transfer delay coerced to 0, got %d", cfg.TransferDelayMillis)
	}
	if cfg.LookupDelayMillis != 0 {
		t.Fatalf("expected negative lookup delay coerced to 0, got %d", cfg.LookupDelayMillis)
	}
}

func TestLoadConfig_InvalidTTLFallsBackToDefault(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "VIRTUAL_ACCOUNT_TTL_MINUTES", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.VirtualAccountTTLMinutes != 30 {
		t.Fatalf("expected zero TTL to fall back to 30 minutes, got %d", cfg.VirtualAccountTTLMinutes)
	}
}

func TestLoadConfig_LedgerRedisURLAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "REDIS_URL")
	setEnvWithCleanup(t, "LEDGER_REDIS_URL", "redis://localhost:6379/2")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RedisURL != "redis://localhost:6379/2" {
		t.Fatalf("expected RedisURL from alias env var, got %q", cfg.RedisURL)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
