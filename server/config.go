// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/http1"
	"github.com/momentics/hioload-http/hub"
	"github.com/momentics/hioload-http/internal/logging"
)

// EnvPrefix prefixes environment overrides: HIOLOAD_PORT, HIOLOAD_HUB_WAIT_TIMEOUT, ...
const EnvPrefix = "HIOLOAD"

// Config holds all server-side configuration parameters.
type Config struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Workers int    `mapstructure:"workers"`
	Backlog int    `mapstructure:"backlog"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`

	// StaticDir and StaticPrefix configure the optional static file route.
	StaticDir    string `mapstructure:"static_dir"`
	StaticPrefix string `mapstructure:"static_prefix"`

	Hub hub.Config     `mapstructure:"hub"`
	Log logging.Config `mapstructure:"log"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		Workers:        4,
		Backlog:        128,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: http1.DefaultMaxHeaderBytes,
		MaxBodyBytes:   http1.DefaultMaxBodyBytes,
		StaticPrefix:   "/assets",
		Hub:            hub.DefaultConfig(),
		Log:            logging.DefaultConfig(),
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative"))
	}
	if c.Backlog <= 0 {
		errs = append(errs, fmt.Errorf("backlog must be positive"))
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("timeouts must not be negative"))
	}
	if c.MaxHeaderBytes <= 0 || c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("size limits must be positive"))
	}
	if c.StaticDir != "" && !strings.HasPrefix(c.StaticPrefix, "/") {
		errs = append(errs, fmt.Errorf("static_prefix %q must start with /", c.StaticPrefix))
	}
	if c.Hub.CPU < 0 {
		errs = append(errs, fmt.Errorf("hub.cpu must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return api.NewError(api.KindInvalidArgument, "config validate", errors.Join(errs...))
	}
	return nil
}

// NewViper returns a viper instance carrying DefaultConfig values and env
// overrides. path may be empty.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, api.NewError(api.KindInvalidArgument, "config read", err).WithContext("path", path)
		}
	}
	return v, nil
}

// LoadConfig reads path (YAML, JSON or TOML; empty for defaults only),
// applies HIOLOAD_* environment overrides and validates the result.
func LoadConfig(path string) (Config, *viper.Viper, error) {
	v, err := NewViper(path)
	if err != nil {
		return Config{}, nil, err
	}
	cfg, err := Decode(v)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, v, nil
}

// Decode unmarshals v into a validated Config.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, api.NewError(api.KindInvalidArgument, "config decode", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("backlog", d.Backlog)
	v.SetDefault("read_timeout", d.ReadTimeout)
	v.SetDefault("write_timeout", d.WriteTimeout)
	v.SetDefault("max_header_bytes", d.MaxHeaderBytes)
	v.SetDefault("max_body_bytes", d.MaxBodyBytes)
	v.SetDefault("static_dir", d.StaticDir)
	v.SetDefault("static_prefix", d.StaticPrefix)

	v.SetDefault("hub.max_events", d.Hub.MaxEvents)
	v.SetDefault("hub.wait_timeout", d.Hub.WaitTimeout)
	v.SetDefault("hub.max_message_size", d.Hub.MaxMessageSize)
	v.SetDefault("hub.slow_handler_threshold", d.Hub.SlowHandlerThreshold)
	v.SetDefault("hub.pin_loop", d.Hub.PinLoop)
	v.SetDefault("hub.cpu", d.Hub.CPU)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.console", d.Log.Console)
}
