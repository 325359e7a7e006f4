package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration of the service. Values are read by viper
// from a config file or QUOTE_-prefixed environment variables.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Session   SessionConfig   `mapstructure:"session"`
	Quote     QuoteConfig     `mapstructure:"quote"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig stores webhook listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SessionConfig stores turn-log and debounce settings. Timezone is the
// single civil timezone used for "first message today"; it is deliberately
// not per-user.
type SessionConfig struct {
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
	Retention      time.Duration `mapstructure:"retention"`
	RecentLimit    int           `mapstructure:"recent_limit"`
	Timezone       string        `mapstructure:"timezone"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// QuoteConfig stores quote-session and basket lifecycle settings.
type QuoteConfig struct {
	InactivityTTL time.Duration `mapstructure:"inactivity_ttl"`
}

// CatalogConfig stores the read-only catalog database location.
type CatalogConfig struct {
	DSN string `mapstructure:"dsn"`
}

// MessagingConfig stores the outbound chat gateway settings. The gateway
// API key is read from SSM under <aws.param_prefix>/evolution-api-key.
type MessagingConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Instance string `mapstructure:"instance"`
}

// AWSConfig stores the DynamoDB table and SSM parameter prefix.
type AWSConfig struct {
	SessionTable string `mapstructure:"session_table"`
	ParamPrefix  string `mapstructure:"param_prefix"`
}

// LoggingConfig stores log output settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration from the given file (optional) and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("QUOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("session.debounce_window", 15*time.Second)
	v.SetDefault("session.retention", 24*time.Hour)
	v.SetDefault("session.recent_limit", 10)
	v.SetDefault("session.timezone", "America/Sao_Paulo")
	v.SetDefault("session.sweep_interval", 5*time.Minute)
	v.SetDefault("quote.inactivity_ttl", 30*time.Minute)
	v.SetDefault("catalog.dsn", "catalog.db")
	v.SetDefault("messaging.instance", "quotes")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)
}

func (c Config) validate() error {
	if c.Session.DebounceWindow <= 0 {
		return fmt.Errorf("config: session.debounce_window must be positive")
	}
	if c.Session.Retention <= 0 {
		return fmt.Errorf("config: session.retention must be positive")
	}
	if c.Quote.InactivityTTL <= 0 {
		return fmt.Errorf("config: quote.inactivity_ttl must be positive")
	}
	if strings.TrimSpace(c.Messaging.BaseURL) == "" {
		return fmt.Errorf("config: messaging.base_url is required")
	}
	if strings.TrimSpace(c.AWS.SessionTable) == "" {
		return fmt.Errorf("config: aws.session_table is required")
	}
	if strings.TrimSpace(c.AWS.ParamPrefix) == "" {
		return fmt.Errorf("config: aws.param_prefix is required")
	}
	return nil
}
