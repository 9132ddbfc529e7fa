package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppConfig represents the application configuration
type AppConfig struct {
	Port        string `validate:"required,numeric"`
	Environment string `validate:"required,oneof=development staging production"`
	LogLevel    string `validate:"oneof=debug info warn error"`
	AppURL      string `validate:"required,url"`

	// APIKey guards the merchant API; bank callbacks stay open
	APIKey             string `validate:"required_if=Environment production"`
	RateLimitPerMinute int    `validate:"gte=0"`

	// ConfigFile is an optional YAML file with a gateways: section
	ConfigFile   string
	DatabasePath string `validate:"required"`

	BankTestBaseURL string `validate:"omitempty,url"`
	HTTPTimeout     time.Duration
	RateLimit       float64 `validate:"gte=0"`

	RedisAddr string
	RedisPass string
	RedisDB   int `validate:"gte=0"`

	OpenSearchURL    string `validate:"omitempty,url"`
	OpenSearchUser   string
	OpenSearchPass   string
	EnableOpenSearch bool

	// viper holds the parsed YAML file for gateway lookups
	viper *viper.Viper
}

// Load reads .env, the environment and the optional YAML file
func Load() (*AppConfig, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_PORT", "9999")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_URL", "http://localhost:9999")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 100)
	v.SetDefault("DB_PATH", "data/shaparak.db")
	v.SetDefault("HTTP_TIMEOUT", "15s")
	v.SetDefault("HTTP_RATE_LIMIT", 0)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("OPENSEARCH_URL", "http://localhost:9200")
	v.SetDefault("ENABLE_OPENSEARCH_LOGGING", false)

	timeout, err := time.ParseDuration(v.GetString("HTTP_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}

	cfg := &AppConfig{
		Port:               v.GetString("APP_PORT"),
		Environment:        v.GetString("APP_ENV"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		AppURL:             v.GetString("APP_URL"),
		APIKey:             v.GetString("API_KEY"),
		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
		ConfigFile:         v.GetString("SHAPARAK_CONFIG"),
		DatabasePath:       v.GetString("DB_PATH"),
		BankTestBaseURL:    v.GetString("BANKTEST_BASE_URL"),
		HTTPTimeout:        timeout,
		RateLimit:          v.GetFloat64("HTTP_RATE_LIMIT"),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisPass:          v.GetString("REDIS_PASS"),
		RedisDB:            v.GetInt("REDIS_DB"),
		OpenSearchURL:      v.GetString("OPENSEARCH_URL"),
		OpenSearchUser:     v.GetString("OPENSEARCH_USER"),
		OpenSearchPass:     v.GetString("OPENSEARCH_PASSWORD"),
		EnableOpenSearch:   v.GetBool("ENABLE_OPENSEARCH_LOGGING"),
	}

	if cfg.ConfigFile != "" {
		file := viper.New()
		file.SetConfigFile(cfg.ConfigFile)
		if err := file.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", cfg.ConfigFile, err)
		}
		cfg.viper = file
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its field rules
func (c *AppConfig) Validate() error {
	err := validator.New().Struct(c)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		f := verrs[0]
		return fmt.Errorf("invalid configuration: %s failed on %s", f.Field(), f.Tag())
	}
	return err
}

// IsProduction reports whether the service runs in production
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetBoolEnv returns the boolean value of an environment variable or a default value
func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetIntEnv returns the integer value of an environment variable or a default value
func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
