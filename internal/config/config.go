// Package config loads the daemon's YAML configuration, applies command line
// overrides and validates the result so the rest of the code can assume a
// well-formed config.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"overlayd/internal/logging"
	"overlayd/internal/protocol"
	"overlayd/internal/state"
)

// DefaultSocketPath is where the daemon listens and the client dials unless
// told otherwise.
const DefaultSocketPath = "/tmp/overlayd.sock"

// Config is the top-level YAML configuration.
type Config struct {
	IPC IPCConfig `yaml:"ipc"`

	// Monitors names the outputs overlays are drawn on. Their count defines
	// the valid target indices.
	Monitors []string `yaml:"monitors"`

	Volume     PanelConfig `yaml:"volume"`
	Brightness PanelConfig `yaml:"brightness"`

	Animation AnimationConfig `yaml:"animation"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
	Render    RenderConfig    `yaml:"render"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type PanelConfig struct {
	Max     float64 `yaml:"max"`
	Initial float64 `yaml:"initial"`
	Step    float64 `yaml:"step"` // quantization step for smoothed and relative changes
}

// AnimationConfig shapes the exponential ramp used for smoothed changes.
type AnimationConfig struct {
	Ticks          int     `yaml:"ticks"`
	TickIntervalMS int     `yaml:"tick_interval_ms"`
	Alpha          float64 `yaml:"alpha"` // fraction of the remaining distance covered per tick
}

type ShutdownConfig struct {
	GraceMS int `yaml:"grace_ms"`
}

// RenderConfig configures the websocket state feed. An empty WsListen
// disables it.
type RenderConfig struct {
	WsListen string `yaml:"ws_listen"`
	WsPath   string `yaml:"ws_path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		IPC: IPCConfig{
			SocketPath: DefaultSocketPath,
		},
		Monitors: []string{"primary"},
		Volume: PanelConfig{
			Max:     100,
			Initial: 50,
			Step:    5,
		},
		Brightness: PanelConfig{
			Max:     100,
			Initial: 100,
			Step:    5,
		},
		Animation: AnimationConfig{
			Ticks:          50,
			TickIntervalMS: 10,
			Alpha:          0.1,
		},
		Shutdown: ShutdownConfig{
			GraceMS: 2000,
		},
		Render: RenderConfig{
			WsListen: "127.0.0.1:3002",
			WsPath:   "/state",
		},
		Logging: LoggingConfig{
			Level: logging.LevelInfo,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/overlayd/config.yaml, falling back to
// ~/.config when XDG_CONFIG_HOME is unset.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "overlayd", "config.yaml")
	}
	return ExpandPath("~/.config/overlayd/config.yaml")
}

// ExpandPath expands a leading "~/" to the user's home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
// Unknown fields are rejected so typos surface immediately.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if len(bytes.TrimSpace(b)) == 0 {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace and comments may follow the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// Load returns the defaults when path does not exist and required is false,
// otherwise the parsed file.
func Load(path string, required bool) (Config, error) {
	if path == "" {
		if required {
			return Config{}, errors.New("config path is empty")
		}
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(ExpandPath(path)); errors.Is(err, os.ErrNotExist) && !required {
		return DefaultConfig(), nil
	}
	return LoadConfigFile(path)
}

// FlagOverrides holds command line values that win over the file. A nil
// pointer means the flag was not given.
type FlagOverrides struct {
	SocketPath *string
	LogLevel   *string
	WsListen   *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.SocketPath != nil {
		cfg.IPC.SocketPath = *o.SocketPath
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.WsListen != nil {
		cfg.Render.WsListen = *o.WsListen
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults, file and overrides have been applied.
func (c *Config) Validate() error {
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	if len(c.Monitors) == 0 {
		return errors.New("monitors must list at least one monitor")
	}
	seen := make(map[string]bool, len(c.Monitors))
	for i, name := range c.Monitors {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("monitors[%d] is empty", i)
		}
		if seen[name] {
			return fmt.Errorf("monitors[%d]: duplicate monitor %q", i, name)
		}
		seen[name] = true
	}

	if err := c.Volume.validate("volume"); err != nil {
		return err
	}
	if err := c.Brightness.validate("brightness"); err != nil {
		return err
	}

	if c.Animation.Ticks <= 0 || c.Animation.Ticks > 1000 {
		return errors.New("animation.ticks must be between 1 and 1000")
	}
	if c.Animation.TickIntervalMS <= 0 {
		return errors.New("animation.tick_interval_ms must be > 0")
	}
	if c.Animation.Alpha <= 0 || c.Animation.Alpha > 1 {
		return errors.New("animation.alpha must be in (0, 1]")
	}

	if c.Shutdown.GraceMS <= 0 {
		return errors.New("shutdown.grace_ms must be > 0")
	}

	if c.Render.WsListen != "" && !strings.HasPrefix(c.Render.WsPath, "/") {
		return errors.New("render.ws_path must start with /")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

func (p PanelConfig) validate(section string) error {
	if p.Max <= 0 {
		return fmt.Errorf("%s.max must be > 0", section)
	}
	if p.Initial < 0 || p.Initial > p.Max {
		return fmt.Errorf("%s.initial must be between 0 and %s.max", section, section)
	}
	if p.Step < 0 || p.Step > p.Max {
		return fmt.Errorf("%s.step must be between 0 and %s.max", section, section)
	}
	return nil
}

// PanelDefaults converts the slider sections into store seeds.
func (c *Config) PanelDefaults() map[protocol.Widget]state.PanelDefaults {
	return map[protocol.Widget]state.PanelDefaults{
		protocol.WidgetVolume:     {Max: c.Volume.Max, Initial: c.Volume.Initial, Step: c.Volume.Step},
		protocol.WidgetBrightness: {Max: c.Brightness.Max, Initial: c.Brightness.Initial, Step: c.Brightness.Step},
	}
}

// TickInterval is the ramp tick period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Animation.TickIntervalMS) * time.Millisecond
}

// Grace is how long a cooperative shutdown may take.
func (c *Config) Grace() time.Duration {
	return time.Duration(c.Shutdown.GraceMS) * time.Millisecond
}
