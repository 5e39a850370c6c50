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

// Config holds all the configuration variables for the rosca-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	NotificationExchange       string `mapstructure:"NOTIFICATION_EXCHANGE"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	ClerkJWKSURL               string `mapstructure:"CLERK_JWKS_URL"`
	MutationRateLimitPerMinute int    `mapstructure:"MUTATION_RATE_LIMIT_PER_MINUTE"`
	LatePaymentSweepSchedule   string `mapstructure:"LATE_PAYMENT_SWEEP_SCHEDULE"`
	PaymentGracePeriodHours    int    `mapstructure:"PAYMENT_GRACE_PERIOD_HOURS"`
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
	viper.SetDefault("NOTIFICATION_EXCHANGE", "ajopool.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "ajopool:rate_limit")
	viper.SetDefault("MUTATION_RATE_LIMIT_PER_MINUTE", 60)
	// Hourly sweep keeps the late status at most one hour behind the due date.
	viper.SetDefault("LATE_PAYMENT_SWEEP_SCHEDULE", "0 * * * *")
	viper.SetDefault("PAYMENT_GRACE_PERIOD_HOURS", 24)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("NOTIFICATION_EXCHANGE")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "ROSCA_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("MUTATION_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("LATE_PAYMENT_SWEEP_SCHEDULE")
	_ = viper.BindEnv("PAYMENT_GRACE_PERIOD_HOURS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
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
		config.RedisRateLimitPrefix = "ajopool:rate_limit"
	}
	if strings.TrimSpace(config.NotificationExchange) == "" {
		config.NotificationExchange = "ajopool.events"
	}
	if strings.TrimSpace(config.LatePaymentSweepSchedule) == "" {
		config.LatePaymentSweepSchedule = "0 * * * *"
	}
	if config.MutationRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative mutation rate limit configured; disabling\" limit=%d", config.MutationRateLimitPerMinute)
		config.MutationRateLimitPerMinute = 0
	}
	if config.PaymentGracePeriodHours < 0 {
		log.Printf("level=warn component=config msg=\"negative payment grace period configured; coercing to zero\" hours=%d", config.PaymentGracePeriodHours)
		config.PaymentGracePeriodHours = 0
	}

	return
}
