// Package config loads the naidesk TOML configuration with viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/naidesk/internal/env"
	"github.com/loykin/naidesk/internal/logger"
	"github.com/loykin/naidesk/internal/overlay"
	"github.com/loykin/naidesk/internal/process"
	"github.com/loykin/naidesk/internal/remote"
	"github.com/loykin/naidesk/internal/sidecar"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. NAIDESK_SERVER_LISTEN.
const EnvPrefix = "NAIDESK"

// Config represents the top-level TOML structure.
type Config struct {
	Server  ServerConfig   `toml:"server" mapstructure:"server"`
	Tagger  TaggerConfig   `toml:"tagger" mapstructure:"tagger"`
	Overlay OverlayConfig  `toml:"overlay" mapstructure:"overlay"`
	Remote  remote.Config  `toml:"remote" mapstructure:"remote"`
	Log     logger.Options `toml:"log" mapstructure:"log"`
	History HistoryConfig  `toml:"history" mapstructure:"history"`
	Metrics MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type TaggerConfig struct {
	Binary      string        `toml:"binary" mapstructure:"binary"`
	Port        int           `toml:"port" mapstructure:"port"`
	Args        []string      `toml:"args" mapstructure:"args"`
	Autostart   bool          `toml:"autostart" mapstructure:"autostart"`
	PIDFile     string        `toml:"pidfile" mapstructure:"pidfile"`
	Termination string        `toml:"termination" mapstructure:"termination"`
	ReapTimeout time.Duration `toml:"reap_timeout" mapstructure:"reap_timeout"`
	Env         []string      `toml:"env" mapstructure:"env"`
	EnvFiles    []string      `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv    bool          `toml:"use_os_env" mapstructure:"use_os_env"`
	Log         logger.Config `toml:"log" mapstructure:"log"`
}

type OverlayConfig struct {
	Label string `toml:"label" mapstructure:"label"`
}

// HistoryConfig selects the lifecycle journal. The SQLite database at DSN
// backs GET /history; OpenSearchURL, when set, receives a copy of each event.
type HistoryConfig struct {
	Enabled         bool   `toml:"enabled" mapstructure:"enabled"`
	DSN             string `toml:"dsn" mapstructure:"dsn"`
	OpenSearchURL   string `toml:"opensearch_url" mapstructure:"opensearch_url"`
	OpenSearchIndex string `toml:"opensearch_index" mapstructure:"opensearch_index"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{Listen: "127.0.0.1:8001", BasePath: "/api"},
		Tagger: TaggerConfig{
			Binary:      sidecar.DefaultBinary,
			Port:        sidecar.DefaultPort,
			Autostart:   true,
			Termination: string(process.StrategyAuto),
			ReapTimeout: 10 * time.Second,
			UseOSEnv:    true,
		},
		Overlay: OverlayConfig{Label: overlay.DefaultLabel},
		Remote: remote.Config{
			NovelAIURL:    remote.DefaultNovelAIURL,
			BackgroundURL: remote.DefaultBackgroundURL,
			Timeout:       remote.DefaultTimeout,
		},
		Log:     logger.Options{Level: "info", Format: "text", Color: true},
		History: HistoryConfig{Enabled: false, DSN: "sqlite://naidesk-history.db"},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// setDefaults mirrors Default into v so env overrides work for keys the
// file does not mention.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("tagger.binary", d.Tagger.Binary)
	v.SetDefault("tagger.port", d.Tagger.Port)
	v.SetDefault("tagger.args", d.Tagger.Args)
	v.SetDefault("tagger.autostart", d.Tagger.Autostart)
	v.SetDefault("tagger.pidfile", d.Tagger.PIDFile)
	v.SetDefault("tagger.termination", d.Tagger.Termination)
	v.SetDefault("tagger.reap_timeout", d.Tagger.ReapTimeout)
	v.SetDefault("tagger.env", d.Tagger.Env)
	v.SetDefault("tagger.env_files", d.Tagger.EnvFiles)
	v.SetDefault("tagger.use_os_env", d.Tagger.UseOSEnv)
	v.SetDefault("tagger.log.dir", "")
	v.SetDefault("tagger.log.stdout", "")
	v.SetDefault("tagger.log.stderr", "")
	v.SetDefault("tagger.log.max_size_mb", 0)
	v.SetDefault("tagger.log.max_backups", 0)
	v.SetDefault("tagger.log.max_age_days", 0)
	v.SetDefault("tagger.log.compress", false)
	v.SetDefault("overlay.label", d.Overlay.Label)
	v.SetDefault("remote.novelai_url", d.Remote.NovelAIURL)
	v.SetDefault("remote.background_url", d.Remote.BackgroundURL)
	v.SetDefault("remote.timeout", d.Remote.Timeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.color", d.Log.Color)
	v.SetDefault("log.max_size_mb", 0)
	v.SetDefault("log.max_backups", 0)
	v.SetDefault("log.max_age_days", 0)
	v.SetDefault("log.compress", false)
	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.dsn", d.History.DSN)
	v.SetDefault("history.opensearch_url", d.History.OpenSearchURL)
	v.SetDefault("history.opensearch_index", d.History.OpenSearchIndex)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
}

// Load reads path (optional) over the defaults, applies NAIDESK_* env
// overrides and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values viper cannot type-check.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start with /", c.Server.BasePath))
	}
	if c.Tagger.Binary == "" {
		errs = append(errs, errors.New("tagger.binary must not be empty"))
	}
	if c.Tagger.Port <= 0 || c.Tagger.Port > 65535 {
		errs = append(errs, fmt.Errorf("tagger.port %d out of range", c.Tagger.Port))
	}
	if _, err := process.ParseStrategy(c.Tagger.Termination); err != nil {
		errs = append(errs, fmt.Errorf("tagger.termination: %w", err))
	}
	if c.Tagger.ReapTimeout < 0 {
		errs = append(errs, errors.New("tagger.reap_timeout must not be negative"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if c.History.Enabled && c.History.DSN == "" {
		errs = append(errs, errors.New("history.dsn is required when history is enabled"))
	}
	if u := c.History.OpenSearchURL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		errs = append(errs, fmt.Errorf("history.opensearch_url %q must be an http(s) URL", u))
	}
	if c.Remote.Timeout < 0 {
		errs = append(errs, errors.New("remote.timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// Terminator builds the termination strategy chosen in the config.
func (c Config) Terminator() process.Terminator {
	s, err := process.ParseStrategy(c.Tagger.Termination)
	if err != nil {
		s = process.StrategyAuto
	}
	return process.NewTerminator(s, goos, c.Tagger.ReapTimeout)
}

// SidecarConfig converts the [tagger] section, composing the worker
// environment from the OS, env files and env entries.
func (c Config) SidecarConfig() (sidecar.Config, error) {
	environ, err := env.Compose(c.Tagger.UseOSEnv, c.Tagger.EnvFiles, c.Tagger.Env)
	if err != nil {
		return sidecar.Config{}, fmt.Errorf("tagger environment: %w", err)
	}
	return sidecar.Config{
		Binary:  c.Tagger.Binary,
		Port:    c.Tagger.Port,
		Args:    c.Tagger.Args,
		Env:     environ,
		PIDFile: c.Tagger.PIDFile,
		Log:     c.Tagger.Log,
	}, nil
}
