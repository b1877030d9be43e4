/**
 * @description
 * This package handles the configuration management for the ledger-service. It uses the
 * Viper library to read configuration from environment variables (and an optional .env
 * file), then normalises the values the settlement core depends on.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - github.com/shopspring/decimal: whole-currency limits are converted to cents exactly.
 * - github.com/rs/zerolog/log: warnings for values that had to be coerced.
 */

package config

import (
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	DefaultMaxDepositCents = int64(10_000_000 * 100)
	DefaultMaxBalanceCents = int64(1_000_000_000 * 100)
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                  string   `mapstructure:"SERVER_PORT"`
	StoreDriver                 string   `mapstructure:"STORE_DRIVER"`
	DatabaseURL                 string   `mapstructure:"DATABASE_URL"`
	RedisURL                    string   `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix        string   `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                 string   `mapstructure:"RABBITMQ_URL"`
	NotificationExchange        string   `mapstructure:"NOTIFICATION_EXCHANGE"`
	JWTSecret                   string   `mapstructure:"JWT_SECRET"`
	JWTIssuer                   string   `mapstructure:"JWT_ISSUER"`
	CORSAllowedOrigins          []string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel                    string   `mapstructure:"LOG_LEVEL"`
	LogFormat                   string   `mapstructure:"LOG_FORMAT"`
	SettlementMaxRetries        int      `mapstructure:"SETTLEMENT_MAX_RETRIES"`
	NotificationTimeoutSeconds  int      `mapstructure:"NOTIFICATION_TIMEOUT_SECONDS"`
	EMIAnnualRatePercent        string   `mapstructure:"EMI_ANNUAL_RATE_PERCENT"`
	EMICollectionSchedule       string   `mapstructure:"EMI_COLLECTION_SCHEDULE"`
	StatementGenerationSchedule string   `mapstructure:"STATEMENT_GENERATION_SCHEDULE"`
	PurchaseRateLimitPerMinute  int      `mapstructure:"PURCHASE_RATE_LIMIT_PER_MINUTE"`
	TempCardTTLHours            int      `mapstructure:"TEMP_CARD_TTL_HOURS"`
	MaxDepositCents             int64    `mapstructure:"MAX_DEPOSIT_CENTS"`
	MaxBalanceCents             int64    `mapstructure:"MAX_BALANCE_CENTS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_DRIVER", "postgres")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "bankify:rate_limit")
	viper.SetDefault("NOTIFICATION_EXCHANGE", "bankify.events")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("SETTLEMENT_MAX_RETRIES", 3)
	viper.SetDefault("NOTIFICATION_TIMEOUT_SECONDS", 5)
	viper.SetDefault("EMI_ANNUAL_RATE_PERCENT", "10")
	viper.SetDefault("EMI_COLLECTION_SCHEDULE", "@daily")
	viper.SetDefault("STATEMENT_GENERATION_SCHEDULE", "0 1 1 * *")
	viper.SetDefault("PURCHASE_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("TEMP_CARD_TTL_HOURS", 24)
	viper.SetDefault("MAX_DEPOSIT_CENTS", DefaultMaxDepositCents)
	viper.SetDefault("MAX_BALANCE_CENTS", DefaultMaxBalanceCents)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("STORE_DRIVER")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("NOTIFICATION_EXCHANGE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("LOG_FORMAT")
	_ = viper.BindEnv("SETTLEMENT_MAX_RETRIES")
	_ = viper.BindEnv("NOTIFICATION_TIMEOUT_SECONDS")
	_ = viper.BindEnv("EMI_ANNUAL_RATE_PERCENT")
	_ = viper.BindEnv("EMI_COLLECTION_SCHEDULE")
	_ = viper.BindEnv("STATEMENT_GENERATION_SCHEDULE")
	_ = viper.BindEnv("PURCHASE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("TEMP_CARD_TTL_HOURS")
	_ = viper.BindEnv("MAX_DEPOSIT_CENTS")
	_ = viper.BindEnv("MAX_DEPOSIT")
	_ = viper.BindEnv("MAX_BALANCE_CENTS")
	_ = viper.BindEnv("MAX_BALANCE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn().Str("component", "config").Err(err).Msg("failed to read config file; using environment values")
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	if config.StoreDriver != "memory" {
		config.StoreDriver = "postgres"
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "bankify:rate_limit"
	}
	config.CORSAllowedOrigins = splitOrigins(config.CORSAllowedOrigins)

	if config.SettlementMaxRetries <= 0 {
		config.SettlementMaxRetries = 3
	}
	if config.NotificationTimeoutSeconds <= 0 {
		config.NotificationTimeoutSeconds = 5
	}
	if config.PurchaseRateLimitPerMinute < 0 {
		config.PurchaseRateLimitPerMinute = 0
	}
	if config.TempCardTTLHours <= 0 {
		config.TempCardTTLHours = 24
	}

	rate, parseErr := decimal.NewFromString(strings.TrimSpace(config.EMIAnnualRatePercent))
	if parseErr != nil || rate.IsNegative() {
		log.Warn().Str("component", "config").Str("value", config.EMIAnnualRatePercent).Msg("invalid EMI_ANNUAL_RATE_PERCENT; using 10")
		config.EMIAnnualRatePercent = "10"
	}

	// Allow limits in whole currency units via MAX_DEPOSIT / MAX_BALANCE.
	if cents, ok := wholeUnitsToCents("MAX_DEPOSIT"); ok {
		config.MaxDepositCents = cents
	}
	if cents, ok := wholeUnitsToCents("MAX_BALANCE"); ok {
		config.MaxBalanceCents = cents
	}
	if config.MaxDepositCents <= 0 {
		config.MaxDepositCents = DefaultMaxDepositCents
	}
	if config.MaxBalanceCents <= 0 {
		config.MaxBalanceCents = DefaultMaxBalanceCents
	}

	return
}

// EMIAnnualRate returns the configured annual EMI rate as a fraction (10 -> 0.10).
func (c Config) EMIAnnualRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.EMIAnnualRatePercent))
	if err != nil || rate.IsNegative() {
		rate = decimal.NewFromInt(10)
	}
	return rate.Div(decimal.NewFromInt(100))
}

func wholeUnitsToCents(key string) (int64, bool) {
	if !viper.IsSet(key) {
		return 0, false
	}
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return 0, false
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		log.Warn().Str("component", "config").Str("key", key).Str("value", raw).Err(err).Msg("invalid whole-currency limit")
		return 0, false
	}
	return value.Shift(2).Round(0).IntPart(), true
}

func splitOrigins(raw []string) []string {
	origins := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
