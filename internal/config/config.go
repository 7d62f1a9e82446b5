package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Prices     Prices     `mapstructure:"prices"`
	Settlement Settlement `mapstructure:"settlement"`
	Logger     Logger     `mapstructure:"logger"`
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
}

// Prices holds the configuration for the market data feed.
type Prices struct {
	BaseURL        string  `mapstructure:"base_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Settlement holds the configuration for the settlement engine.
type Settlement struct {
	SweepInterval int `mapstructure:"sweep_interval"` // seconds between scheduler sweeps
	RetryBackoff  int `mapstructure:"retry_backoff"`  // seconds before the single price retry
}

// Server holds the configuration for the HTTP servers.
type Server struct {
	Port   int `mapstructure:"port"`    // settler ops API
	UIPort int `mapstructure:"ui_port"` // dashboard API
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("prices.rate_limit", 20)      // requests per second
	viper.SetDefault("prices.rate_limit_burst", 5) // burst size
	viper.SetDefault("settlement.sweep_interval", 5)
	viper.SetDefault("settlement.retry_backoff", 3)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
