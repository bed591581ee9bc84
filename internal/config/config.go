/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	AuthJWKSURL                string `mapstructure:"AUTH_JWKS_URL"`
	TransferDelayMillis        int    `mapstructure:"TRANSFER_DELAY_MILLIS"`
	LookupDelayMillis          int    `mapstructure:"LOOKUP_DELAY_MILLIS"`
	ProviderDelayMillis        int    `mapstructure:"PROVIDER_DELAY_MILLIS"`
	VirtualAccountTTLMinutes   int    `mapstructure:"VIRTUAL_ACCOUNT_TTL_MINUTES"`
	VirtualAccountSweepSeconds int    `mapstructure:"VIRTUAL_ACCOUNT_SWEEP_SECONDS"`
	PINMaxAttempts             int    `mapstructure:"PIN_MAX_ATTEMPTS"`
	PINLockoutSeconds          int    `mapstructure:"PIN_LOCKOUT_SECONDS"`
	TransferRateLimitPerMinute int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`
	BalanceRateLimitPerMinute  int    `mapstructure:"BALANCE_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "freerider:rate_limit")
	viper.SetDefault("TRANSFER_DELAY_MILLIS", 500)
	viper.SetDefault("LOOKUP_DELAY_MILLIS", 300)
	viper.SetDefault("PROVIDER_DELAY_MILLIS", 1000)
	viper.SetDefault("VIRTUAL_ACCOUNT_TTL_MINUTES", 30)
	viper.SetDefault("VIRTUAL_ACCOUNT_SWEEP_SECONDS", 60)
	viper.SetDefault("PIN_MAX_ATTEMPTS", 0)
	viper.SetDefault("PIN_LOCKOUT_SECONDS", 300)
	viper.SetDefault("TRANSFER_RATE_LIMIT_PER_MINUTE", 0)
	viper.SetDefault("BALANCE_RATE_LIMIT_PER_MINUTE", 0)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("TRANSFER_DELAY_MILLIS")
	_ = viper.BindEnv("LOOKUP_DELAY_MILLIS")
	_ = viper.BindEnv("PROVIDER_DELAY_MILLIS")
	_ = viper.BindEnv("VIRTUAL_ACCOUNT_TTL_MINUTES")
	_ = viper.BindEnv("VIRTUAL_ACCOUNT_SWEEP_SECONDS")
	_ = viper.BindEnv("PIN_MAX_ATTEMPTS")
	_ = viper.BindEnv("PIN_LOCKOUT_SECONDS")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("BALANCE_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "freerider:rate_limit"
	}
	config.AuthJWKSURL = strings.TrimSpace(config.AuthJWKSURL)

	if config.TransferDelayMillis < 0 {
		log.Printf("level=warn component=config msg=\"negative transfer delay configured; coercing to zero\" delay_ms=%d", config.TransferDelayMillis)
		config.TransferDelayMillis = 0
	}
	if config.LookupDelayMillis < 0 {
		log.Printf("level=warn component=config msg=\"negative lookup delay configured; coercing to zero\" delay_ms=%d", config.LookupDelayMillis)
		config.LookupDelayMillis = 0
	}
	if config.ProviderDelayMillis < 0 {
		log.Printf("level=warn component=config msg=\"negative provider delay configured; coercing to zero\" delay_ms=%d", config.ProviderDelayMillis)
		config.ProviderDelayMillis = 0
	}
	if config.VirtualAccountTTLMinutes <= 0 {
		config.VirtualAccountTTLMinutes = 30
	}
	if config.VirtualAccountSweepSeconds <= 0 {
		config.VirtualAccountSweepSeconds = 60
	}
	if config.PINMaxAttempts < 0 {
		config.PINMaxAttempts = 0
	}
	if config.PINLockoutSeconds <= 0 {
		config.PINLockoutSeconds = 300
	}
	if config.TransferRateLimitPerMinute < 0 {
		config.TransferRateLimitPerMinute = 0
	}
	if config.BalanceRateLimitPerMinute < 0 {
		config.BalanceRateLimitPerMinute = 0
	}

	return
}
