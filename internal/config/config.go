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

// Config holds all the configuration variables for the payout-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort            string  `mapstructure:"SERVER_PORT"`
	DatabaseURL           string  `mapstructure:"DATABASE_URL"`
	RedisURL              string  `mapstructure:"REDIS_URL"`
	RabbitMQURL           string  `mapstructure:"RABBITMQ_URL"`
	ProviderStatusQueue   string  `mapstructure:"PROVIDER_STATUS_QUEUE"`
	ClerkJWKSURL          string  `mapstructure:"CLERK_JWKS_URL"`
	InternalAPIKey        string  `mapstructure:"INTERNAL_API_KEY"`
	WebhookSecret         string  `mapstructure:"WEBHOOK_SECRET"`
	WebhookToleranceSec   int     `mapstructure:"WEBHOOK_TOLERANCE_SECONDS"`
	WebhookDedupeTTLMin   int     `mapstructure:"WEBHOOK_DEDUPE_TTL_MINUTES"`
	MaxRetries            int     `mapstructure:"PAYOUT_MAX_RETRIES"`
	RetryBackoffMinutes   int     `mapstructure:"PAYOUT_RETRY_BACKOFF_MINUTES"`
	StuckAfterMinutes     int     `mapstructure:"PAYOUT_STUCK_AFTER_MINUTES"`
	RetrySweepLimit       int     `mapstructure:"PAYOUT_RETRY_SWEEP_LIMIT"`
	BatchChunkSize        int     `mapstructure:"BATCH_CHUNK_SIZE"`
	BatchParallel         bool    `mapstructure:"BATCH_PARALLEL_PROCESSING"`
	BatchMinAmount        int64   `mapstructure:"BATCH_MIN_AMOUNT"`
	RetrySweepSchedule    string  `mapstructure:"RETRY_SWEEP_SCHEDULE"`
	ScheduledBatchCron    string  `mapstructure:"SCHEDULED_BATCH_SCHEDULE"`
	StuckAlertSchedule    string  `mapstructure:"STUCK_ALERT_SCHEDULE"`
	NarrationTemplate     string  `mapstructure:"PAYOUT_NARRATION_TEMPLATE"`
	DefaultFeePercent     float64 `mapstructure:"DEFAULT_FEE_PERCENT"`
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
	viper.SetDefault("PROVIDER_STATUS_QUEUE", "payout_service.provider_status")
	viper.SetDefault("WEBHOOK_TOLERANCE_SECONDS", 300)
	viper.SetDefault("WEBHOOK_DEDUPE_TTL_MINUTES", 10)
	viper.SetDefault("PAYOUT_MAX_RETRIES", 3)
	viper.SetDefault("PAYOUT_RETRY_BACKOFF_MINUTES", 5)
	viper.SetDefault("PAYOUT_STUCK_AFTER_MINUTES", 30)
	viper.SetDefault("PAYOUT_RETRY_SWEEP_LIMIT", 200)
	viper.SetDefault("BATCH_CHUNK_SIZE", 25)
	viper.SetDefault("BATCH_PARALLEL_PROCESSING", true)
	viper.SetDefault("BATCH_MIN_AMOUNT", 0)
	viper.SetDefault("RETRY_SWEEP_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("SCHEDULED_BATCH_SCHEDULE", "")
	viper.SetDefault("STUCK_ALERT_SCHEDULE", "*/30 * * * *")
	viper.SetDefault("PAYOUT_NARRATION_TEMPLATE", "TRM referral payout %s")
	viper.SetDefault("DEFAULT_FEE_PERCENT", 0.0)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYOUT_REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PROVIDER_STATUS_QUEUE")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PAYOUT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("WEBHOOK_SECRET", "WEBHOOK_SECRET", "PAYOUT_WEBHOOK_SECRET")
	_ = viper.BindEnv("WEBHOOK_TOLERANCE_SECONDS")
	_ = viper.BindEnv("WEBHOOK_DEDUPE_TTL_MINUTES")
	_ = viper.BindEnv("PAYOUT_MAX_RETRIES")
	_ = viper.BindEnv("PAYOUT_RETRY_BACKOFF_MINUTES")
	_ = viper.BindEnv("PAYOUT_STUCK_AFTER_MINUTES")
	_ = viper.BindEnv("PAYOUT_RETRY_SWEEP_LIMIT")
	_ = viper.BindEnv("BATCH_CHUNK_SIZE")
	_ = viper.BindEnv("BATCH_PARALLEL_PROCESSING")
	_ = viper.BindEnv("BATCH_MIN_AMOUNT")
	_ = viper.BindEnv("RETRY_SWEEP_SCHEDULE")
	_ = viper.BindEnv("SCHEDULED_BATCH_SCHEDULE")
	_ = viper.BindEnv("STUCK_ALERT_SCHEDULE")
	_ = viper.BindEnv("PAYOUT_NARRATION_TEMPLATE")
	_ = viper.BindEnv("DEFAULT_FEE_PERCENT")

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
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("PAYOUT_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.WebhookSecret = strings.TrimSpace(config.WebhookSecret)

	if config.MaxRetries < 0 {
		log.Printf("level=warn component=config msg=\"negative max retries configured; coercing to zero\" max_retries=%d", config.MaxRetries)
		config.MaxRetries = 0
	}
	if config.RetryBackoffMinutes <= 0 {
		config.RetryBackoffMinutes = 5
	}
	if config.StuckAfterMinutes <= 0 {
		config.StuckAfterMinutes = 30
	}
	if config.RetrySweepLimit <= 0 {
		config.RetrySweepLimit = 200
	}
	if config.BatchChunkSize <= 0 {
		config.BatchChunkSize = 25
	}
	if config.WebhookToleranceSec <= 0 {
		config.WebhookToleranceSec = 300
	}
	if config.WebhookDedupeTTLMin <= 0 {
		config.WebhookDedupeTTLMin = 10
	}

	if config.DefaultFeePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative default fee percent configured; coercing to zero\" fee_percent=%f", config.DefaultFeePercent)
		config.DefaultFeePercent = 0
	}
	if config.DefaultFeePercent > 100 {
		log.Printf("level=warn component=config msg=\"default fee percent too high; capping at 100\" fee_percent=%f", config.DefaultFeePercent)
		config.DefaultFeePercent = 100
	}

	return
}
