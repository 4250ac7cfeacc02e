// Package config loads server configuration from an optional YAML file
// with sane defaults for every key.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Ledger LedgerConfig `mapstructure:"ledger"`
}

// AppConfig holds process-level settings.
type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	DB   string `mapstructure:"db"`
}

// LedgerConfig holds engine settings.
type LedgerConfig struct {
	// DepositLimit is the maximum single deposit, in minor currency units.
	DepositLimit int64 `mapstructure:"deposit_limit"`
}

// Load reads configuration from path. An empty path yields defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("app.name", "ledger-engine")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.db", "ledger.db")
	v.SetDefault("ledger.deposit_limit", 2000)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.DB == "" {
		return fmt.Errorf("server.db is required")
	}
	if c.Ledger.DepositLimit <= 0 {
		return fmt.Errorf("ledger.deposit_limit must be positive")
	}
	return nil
}
