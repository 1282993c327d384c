// Package config loads settings from a YAML file and HELPTHREAD_* environment
// variables, env taking precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Server        Server        `mapstructure:"server"`
	Client        Client        `mapstructure:"client"`
	Notifications Notifications `mapstructure:"notifications"`
	Logging       Logging       `mapstructure:"logging"`
}

type Server struct {
	// Addr is the listen address of the REST server.
	Addr string `mapstructure:"addr"`
	// StateDSN selects the snapshot backend: empty or file://... for a JSON
	// file, memory:// for none, postgres://... for a database row.
	StateDSN        string        `mapstructure:"state_dsn"`
	RateLimitMax    int           `mapstructure:"rate_limit_max"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	MaxRecordAge    time.Duration `mapstructure:"max_record_age"`
}

type Client struct {
	ServerURL string `mapstructure:"server_url"`
	// CacheFile is the JSON file holding the local record cache. Empty
	// falls back to helpthread.json in the working directory.
	CacheFile string `mapstructure:"cache_file"`
	// UserEmail pins the acting user; when empty the identity chain runs.
	UserEmail     string `mapstructure:"user_email"`
	UserinfoURL   string `mapstructure:"userinfo_url"`
	UserinfoToken string `mapstructure:"userinfo_token"`
	FeedURL       string `mapstructure:"feed_url"`
}

type Notifications struct {
	// Method is "log" or "none".
	Method string `mapstructure:"method"`
}

type Logging struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

const DefaultCacheFile = "helpthread.json"

// Load reads the config file at path, or searches the usual locations when
// path is empty. A missing file is fine; defaults and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":3001")
	v.SetDefault("server.state_dsn", "")
	v.SetDefault("server.rate_limit_max", 100)
	v.SetDefault("server.rate_limit_window", 15*time.Minute)
	v.SetDefault("server.max_body_bytes", int64(50<<20))
	v.SetDefault("server.sweep_interval", 24*time.Hour)
	v.SetDefault("server.max_record_age", 7*24*time.Hour)

	v.SetDefault("client.server_url", "http://localhost:3001")
	v.SetDefault("client.cache_file", DefaultCacheFile)
	v.SetDefault("client.user_email", "")
	v.SetDefault("client.userinfo_url", "")
	v.SetDefault("client.userinfo_token", "")
	v.SetDefault("client.feed_url", "")

	v.SetDefault("notifications.method", "log")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("helpthread")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.helpthread")
	}

	v.SetEnvPrefix("HELPTHREAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// BuildLogger constructs the process logger from the logging section.
func (l Logging) BuildLogger() (*zap.Logger, error) {
	var zcfg zap.Config
	if l.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", l.Level, err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
