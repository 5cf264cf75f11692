// Package config loads server settings from a TOML file layered over defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Economy EconomyConfig `toml:"economy"`
	Storage StorageConfig `toml:"storage"`
	Catalog CatalogConfig `toml:"catalog"`
	Events  EventsConfig  `toml:"events"`
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
}

type EconomyConfig struct {
	BasePassiveRate    float64 `toml:"base_passive_rate"`
	PerClickAmount     float64 `toml:"per_click_amount"`
	Conversion         float64 `toml:"conversion"`
	MaxClicksPerSecond int     `toml:"max_clicks_per_second"`
	TickIntervalMS     int     `toml:"tick_interval_ms"`
	ClickFormula       string  `toml:"click_formula"`
}

// TickInterval is the ticker period.
func (e EconomyConfig) TickInterval() time.Duration {
	return time.Duration(e.TickIntervalMS) * time.Millisecond
}

type StorageConfig struct {
	Path      string `toml:"path"`
	KeyPrefix string `toml:"key_prefix"`
	Memory    bool   `toml:"memory"`
}

type CatalogConfig struct {
	// Path to a YAML catalog. Empty means the built-in catalog.
	Path string `toml:"path"`
}

type EventsConfig struct {
	Retention     int  `toml:"retention"`
	Buffer        int  `toml:"buffer"`
	Persist       bool `toml:"persist"`
	LogTickEvents bool `toml:"log_tick_events"`
}

type ServerConfig struct {
	Addr             string `toml:"addr"`
	ClientSendBuffer int    `toml:"client_send_buffer"`
	BroadcastBuffer  int    `toml:"broadcast_buffer"`
	EventPollMS      int    `toml:"event_poll_ms"`
	MaxClients       int    `toml:"max_clients"`
	// Inbound WebSocket frames per second per connection; 0 disables.
	ActionRate  float64 `toml:"action_rate"`
	ActionBurst int     `toml:"action_burst"`
	// Profile names a buffer preset (default, stress, low) that overrides
	// the sizes above and events.buffer.
	Profile string `toml:"profile"`
}

// EventPoll is how often the hub pulls new events for broadcast.
func (s ServerConfig) EventPoll() time.Duration {
	return time.Duration(s.EventPollMS) * time.Millisecond
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

// Default returns the settings the game ships with.
func Default() Config {
	return Config{
		Economy: EconomyConfig{
			BasePassiveRate:    50,
			PerClickAmount:     3,
			Conversion:         0.00018,
			MaxClicksPerSecond: 12,
			TickIntervalMS:     1000,
			ClickFormula:       "flat",
		},
		Storage: StorageConfig{
			Path:      "mechafrog.db",
			KeyPrefix: "mf_ptm",
		},
		Events: EventsConfig{
			Retention: 500,
			Buffer:    1024,
			Persist:   true,
		},
		Server: ServerConfig{
			Addr:             ":8080",
			ClientSendBuffer: 64,
			BroadcastBuffer:  256,
			EventPollMS:      200,
			MaxClients:       8,
			ActionRate:       40,
			ActionBurst:      20,
		},
		Log: LogConfig{
			Level:  slog.LevelInfo,
			Format: "text",
		},
	}
}

// Load reads path over Default. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	dec := toml.NewDecoder(file)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	e := c.Economy
	check(e.BasePassiveRate > 0, "economy.base_passive_rate must be positive, got %v", e.BasePassiveRate)
	check(e.PerClickAmount > 0, "economy.per_click_amount must be positive, got %v", e.PerClickAmount)
	check(e.Conversion > 0, "economy.conversion must be positive, got %v", e.Conversion)
	check(e.MaxClicksPerSecond >= 0, "economy.max_clicks_per_second must not be negative, got %d", e.MaxClicksPerSecond)
	check(e.TickIntervalMS > 0, "economy.tick_interval_ms must be positive, got %d", e.TickIntervalMS)
	check(e.ClickFormula == "flat" || e.ClickFormula == "log10", "economy.click_formula must be flat or log10, got %q", e.ClickFormula)

	check(c.Storage.Memory || c.Storage.Path != "", "storage.path is required unless storage.memory is set")
	check(c.Storage.KeyPrefix != "", "storage.key_prefix is required")

	check(c.Events.Retention > 0, "events.retention must be positive, got %d", c.Events.Retention)
	check(c.Events.Buffer > 0, "events.buffer must be positive, got %d", c.Events.Buffer)

	s := c.Server
	check(s.ClientSendBuffer > 0, "server.client_send_buffer must be positive, got %d", s.ClientSendBuffer)
	check(s.BroadcastBuffer > 0, "server.broadcast_buffer must be positive, got %d", s.BroadcastBuffer)
	check(s.EventPollMS > 0, "server.event_poll_ms must be positive, got %d", s.EventPollMS)
	check(s.MaxClients >= 0, "server.max_clients must not be negative, got %d", s.MaxClients)
	check(s.ActionRate >= 0, "server.action_rate must not be negative, got %v", s.ActionRate)
	check(s.ActionBurst >= 0, "server.action_burst must not be negative, got %d", s.ActionBurst)

	return errors.Join(errs...)
}
