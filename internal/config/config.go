// Package config loads the runtime configuration for the skein process:
// logging, persistence, and the HTTP listen address. Pipeline documents carry
// their own execution settings and are not configured here.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the process-level runtime configuration.
type Config struct {
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
	HTTPAddr     string `mapstructure:"http_addr"`
	DatabasePath string `mapstructure:"database_path"` // empty disables persistence
}

// Load reads configuration with the following precedence, highest first:
// environment variables (prefix SKEIN_), an optional YAML config file, and
// built-in defaults. A .env file in the working directory is loaded into the
// environment first when present.
func Load(configFile string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	v := viper.New()
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("http_addr", ":8440")
	v.SetDefault("database_path", "")

	v.SetEnvPrefix("SKEIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}
