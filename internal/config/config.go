// Package config loads server configuration.
//
// Values come from three layers, later ones winning: built-in defaults, an
// optional YAML file, and POTLUCK_* environment variables. Command-line
// flags are applied on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "POTLUCK_"

// Config is the full server configuration.
type Config struct {
	Store   Store   `yaml:"store"`
	Server  Server  `yaml:"server"`
	Session Session `yaml:"session"`
	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
}

// Store configures the relational store.
type Store struct {
	Dialect         string        `yaml:"dialect" validate:"oneof=sqlite postgres"`
	DSN             string        `yaml:"dsn" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
	Migrate         bool          `yaml:"migrate"`
}

// Server configures the WebSocket transport.
type Server struct {
	Addr             string        `yaml:"addr" validate:"required"`
	MaxMessageSize   int64         `yaml:"max_message_size" validate:"gte=0"`
	SendBuffer       int           `yaml:"send_buffer" validate:"gte=0"`
	FrameConcurrency int           `yaml:"frame_concurrency" validate:"gte=0"`
	WriteWait        time.Duration `yaml:"write_wait" validate:"gte=0"`
	PongWait         time.Duration `yaml:"pong_wait" validate:"gte=0"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// Session configures the session registry.
type Session struct {
	Policy string `yaml:"policy" validate:"oneof=replace keep_first"`
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// Metrics toggles the Prometheus endpoint.
type Metrics struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the built-in configuration: a local SQLite file, port
// 8080, replace-on-collision sessions.
func Default() Config {
	return Config{
		Store: Store{
			Dialect: "sqlite",
			DSN:     "potluck.db",
			Migrate: true,
		},
		Server: Server{
			Addr:             ":8080",
			MaxMessageSize:   64 * 1024,
			SendBuffer:       64,
			FrameConcurrency: 8,
			WriteWait:        10 * time.Second,
			PongWait:         60 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
		Session: Session{Policy: "replace"},
		Log:     Log{Level: "info", Format: "json"},
		Metrics: Metrics{Enabled: true},
	}
}

var validate = validator.New()

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), and environment variables read through getenv. A nil
// getenv reads the process environment.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := decode(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode overlays YAML onto cfg. Unknown keys are an error.
func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"STORE_DIALECT":  &c.Store.Dialect,
		"STORE_DSN":      &c.Store.DSN,
		"SERVER_ADDR":    &c.Server.Addr,
		"SESSION_POLICY": &c.Session.Policy,
		"LOG_LEVEL":      &c.Log.Level,
		"LOG_FORMAT":     &c.Log.Format,
	}
	for key, dst := range strs {
		if v := getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"STORE_MIGRATE":   &c.Store.Migrate,
		"METRICS_ENABLED": &c.Metrics.Enabled,
	}
	for key, dst := range bools {
		v := getenv(EnvPrefix + key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
	}

	ints := map[string]*int{
		"STORE_MAX_OPEN_CONNS":     &c.Store.MaxOpenConns,
		"SERVER_FRAME_CONCURRENCY": &c.Server.FrameConcurrency,
	}
	for key, dst := range ints {
		v := getenv(EnvPrefix + key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}
	return nil
}
