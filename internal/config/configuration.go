package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key when reading the environment.
const EnvPrefix = "ZDOWNLOAD"

// Tool payload sources.
const (
	ToolsSourceEmbedded = "embedded"
	ToolsSourcePath     = "path"
	ToolsSourceAuto     = "auto"
)

type Config struct {
	// HTTP API
	ListenAddr string `mapstructure:"LISTEN_ADDR" validate:"required"`

	// Tool provisioning
	ToolsDir    string `mapstructure:"TOOLS_DIR"`
	ToolsSource string `mapstructure:"TOOLS_SOURCE" validate:"oneof=embedded path auto"`

	// Session behaviour
	RelayInterval  time.Duration `mapstructure:"RELAY_INTERVAL" validate:"gte=0"`
	CleanupPolicy  string        `mapstructure:"CLEANUP_POLICY" validate:"oneof=on-success always never"`
	OutputEncoding string        `mapstructure:"OUTPUT_ENCODING"`
	KillGrace      time.Duration `mapstructure:"KILL_GRACE" validate:"gte=0"`

	// User settings file; empty means the per-user config dir.
	SettingsPath string `mapstructure:"SETTINGS_PATH"`

	// Logging
	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"oneof=text json"`
}

// SlogLevel maps LogLevel onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		tag := typ.Field(i).Tag.Get("mapstructure")
		if tag != "" {
			_ = viper.BindEnv(tag)
		}
	}
}

// FlagName turns a config key into its CLI flag name: LISTEN_ADDR -> listen-addr.
func FlagName(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "_", "-")
}

// RegisterFlags adds one flag per config key to fs. Flags left unset do not
// override the environment or defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(FlagName("LISTEN_ADDR"), "", "HTTP API listen address")
	fs.String(FlagName("TOOLS_DIR"), "", "directory for provisioned tool binaries")
	fs.String(FlagName("TOOLS_SOURCE"), "", "where tool binaries come from: embedded, path or auto")
	fs.Duration(FlagName("RELAY_INTERVAL"), 0, "minimum delay between relayed output lines")
	fs.String(FlagName("CLEANUP_POLICY"), "", "when to delete provisioned tools: on-success, always or never")
	fs.String(FlagName("OUTPUT_ENCODING"), "", "IANA name of the downloader's output encoding")
	fs.Duration(FlagName("KILL_GRACE"), 0, "how long a cancelled download may hold its pipes open")
	fs.String(FlagName("SETTINGS_PATH"), "", "settings file path")
	fs.String(FlagName("LOG_LEVEL"), "", "debug, info, warn or error")
	fs.String(FlagName("LOG_FORMAT"), "", "text or json")
}

// BindFlags makes flags set on the command line win over env and defaults.
func BindFlags(fs *pflag.FlagSet) error {
	var bindErr error
	typ := reflect.TypeOf(Config{})
	for i := 0; i < typ.NumField(); i++ {
		tag := typ.Field(i).Tag.Get("mapstructure")
		if tag == "" {
			continue
		}
		f := fs.Lookup(FlagName(tag))
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(tag, f); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	}
	return bindErr
}

func LoadConfig(ctx context.Context) (*Config, error) {
	viper.SetEnvPrefix(EnvPrefix)
	bindEnv(Config{})
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("LISTEN_ADDR", "127.0.0.1:8765")
	viper.SetDefault("TOOLS_SOURCE", ToolsSourceAuto)
	viper.SetDefault("RELAY_INTERVAL", time.Duration(0))
	viper.SetDefault("CLEANUP_POLICY", "on-success")
	viper.SetDefault("KILL_GRACE", 5*time.Second)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.ToolsSource = strings.ToLower(strings.TrimSpace(cfg.ToolsSource))
	cfg.CleanupPolicy = strings.ToLower(strings.TrimSpace(cfg.CleanupPolicy))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	slog.Debug("Loaded configuration", "config", cfg)
	return &cfg, nil
}
