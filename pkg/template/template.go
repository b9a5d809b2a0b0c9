// Package template generates starter naidesk configuration files.
package template

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/loykin/naidesk/internal/config"
	"github.com/loykin/naidesk/internal/process"
	"github.com/pelletier/go-toml/v2"
)

// Preset names a starter configuration.
type Preset string

const (
	PresetMinimal Preset = "minimal"
	PresetDesktop Preset = "desktop"
	PresetDebug   Preset = "debug"
)

// Generator produces configurations rooted at DataDir, where relative
// paths for logs, pid files and the history database are placed.
type Generator struct {
	DataDir string
}

// NewGenerator creates a new template generator
func NewGenerator(dataDir string) *Generator {
	return &Generator{DataDir: dataDir}
}

// Generate builds the configuration for preset.
func (g *Generator) Generate(p Preset) (config.Config, error) {
	switch p {
	case PresetMinimal, "":
		return g.minimal(), nil
	case PresetDesktop:
		return g.desktop(), nil
	case PresetDebug:
		return g.debug(), nil
	default:
		return config.Config{}, fmt.Errorf("unknown preset: %s (supported: minimal, desktop, debug)", p)
	}
}

// GenerateTOML renders the preset as TOML. The output validates and loads
// back through config.Load.
func (g *Generator) GenerateTOML(p Preset) ([]byte, error) {
	cfg, err := g.Generate(p)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("preset %s: %w", p, err)
	}
	return Encode(cfg)
}

// GetSupportedPresets returns a list of all supported presets
func (g *Generator) GetSupportedPresets() []string {
	return []string{string(PresetMinimal), string(PresetDesktop), string(PresetDebug)}
}

// Encode renders cfg as TOML. Durations are written as strings so viper
// reads them back unchanged.
func Encode(cfg config.Config) ([]byte, error) {
	doc := map[string]any{
		"server": cfg.Server,
		"tagger": map[string]any{
			"binary":       cfg.Tagger.Binary,
			"port":         cfg.Tagger.Port,
			"args":         nonNil(cfg.Tagger.Args),
			"autostart":    cfg.Tagger.Autostart,
			"pidfile":      cfg.Tagger.PIDFile,
			"termination":  cfg.Tagger.Termination,
			"reap_timeout": cfg.Tagger.ReapTimeout.String(),
			"env":          nonNil(cfg.Tagger.Env),
			"env_files":    nonNil(cfg.Tagger.EnvFiles),
			"use_os_env":   cfg.Tagger.UseOSEnv,
			"log":          cfg.Tagger.Log,
		},
		"overlay": cfg.Overlay,
		"remote": map[string]any{
			"novelai_url":    cfg.Remote.NovelAIURL,
			"background_url": cfg.Remote.BackgroundURL,
			"timeout":        cfg.Remote.Timeout.String(),
		},
		"log":     cfg.Log,
		"history": cfg.History,
		"metrics": cfg.Metrics,
	}
	out, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (g *Generator) path(name string) string {
	if g.DataDir == "" {
		return name
	}
	return filepath.Join(g.DataDir, name)
}

// Helper functions to create specific presets

func (g *Generator) minimal() config.Config {
	cfg := config.Default()
	cfg.Tagger.Autostart = false
	cfg.Metrics.Enabled = false
	return cfg
}

func (g *Generator) desktop() config.Config {
	cfg := config.Default()
	cfg.Tagger.PIDFile = g.path("tagger-server.pid")
	cfg.Tagger.Log.Dir = g.path("logs")
	cfg.Tagger.Log.MaxSizeMB = 10
	cfg.Tagger.Log.MaxBackups = 3
	cfg.Log.File = g.path(filepath.Join("logs", "naidesk.log"))
	cfg.Log.Color = false
	cfg.History.Enabled = true
	cfg.History.DSN = "sqlite://" + g.path("history.db")
	return cfg
}

func (g *Generator) debug() config.Config {
	cfg := g.desktop()
	cfg.Log.Level = "debug"
	cfg.Log.File = ""
	cfg.Log.Color = true
	cfg.Tagger.Termination = string(process.StrategyTree)
	cfg.Tagger.ReapTimeout = 30 * time.Second
	cfg.Tagger.Env = []string{"PYTHONUNBUFFERED=1"}
	cfg.Metrics.Enabled = true
	return cfg
}
