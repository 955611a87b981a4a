// Package config loads the CLI configuration from an optional CUE file.
//
// The file is unified with the embedded #Config schema, so it is validated
// and defaulted in one step. Unknown fields are rejected.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSource string

// Config is the decoded configuration.
type Config struct {
	DB         string        `json:"db"`
	Store      string        `json:"store"`
	Version    int           `json:"version"`
	Timeout    time.Duration `json:"-"`
	MaxPending int           `json:"max_pending"`
	LogLevel   string        `json:"log_level"`
	Format     string        `json:"format"`

	// TimeoutText is the raw duration string; Timeout is parsed from it.
	TimeoutText string `json:"timeout"`
}

// Default returns the schema defaults.
func Default() (*Config, error) {
	return decode(nil, "defaults")
}

// Load reads, validates and decodes a CUE config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(data, path)
}

// Parse validates and decodes CUE source. filename is used in error positions.
func Parse(data []byte, filename string) (*Config, error) {
	return decode(data, filename)
}

func decode(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := def
	if data != nil {
		file := ctx.CompileBytes(data, cue.Filename(filename))
		if err := file.Err(); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", filename, err)
		}
		value = def.Unify(file)
	}

	if err := value.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}

	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", filename, err)
	}

	timeout, err := time.ParseDuration(cfg.TimeoutText)
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: timeout: %w", filename, err)
	}
	if timeout < 0 {
		return nil, fmt.Errorf("invalid config %s: timeout must not be negative", filename)
	}
	cfg.Timeout = timeout
	return &cfg, nil
}

// Level maps LogLevel to a slog level.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
