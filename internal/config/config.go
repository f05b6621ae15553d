// Package config is the YAML configuration shared by all daemons.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"caracas/internal/bus"
	"caracas/internal/hw"
	"caracas/internal/ladder"
	"caracas/internal/logging"
)

// DefaultPath is where the daemons look when -config is not given.
const DefaultPath = "/etc/caracas/caracas.yml"

// ==============================
// Config schema
// ==============================

type Config struct {
	Bus     BusConfig     `yaml:"bus"`
	Signal  SignalConfig  `yaml:"signal"`
	MPD     MPDConfig     `yaml:"mpd"`
	Card    CardConfig    `yaml:"card"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// BusConfig names the two broker endpoints. The broker binds them; everyone
// else connects.
type BusConfig struct {
	// Publishers connect here (SUB ingress of the broker).
	Publishers string `yaml:"publishers"`
	// Subscribers connect here (XPUB side of the broker).
	Subscribers string `yaml:"subscribers"`
	// Bind addresses for the broker; default to the connect endpoints.
	BindPublishers  string `yaml:"bind_publishers,omitempty"`
	BindSubscribers string `yaml:"bind_subscribers,omitempty"`
}

type PinConfig struct {
	Name      string `yaml:"name"`
	Pull      string `yaml:"pull"`
	ActiveLow bool   `yaml:"active_low"`
	Debounce  bool   `yaml:"debounce"`
}

type RangeConfig struct {
	Channel int      `yaml:"channel"`
	Min     int      `yaml:"min"`
	Max     int      `yaml:"max"`
	Buttons []string `yaml:"buttons"`
}

type AnalogConfig struct {
	Enabled bool `yaml:"enabled"`
	// SPI port name as known to periph ("" picks the first one).
	SPIPort string        `yaml:"spi_port"`
	SPIHz   int64         `yaml:"spi_hz"`
	PollMS  int           `yaml:"poll_ms"`
	Ranges  []RangeConfig `yaml:"ranges"`
}

type SignalConfig struct {
	// Mode is "edge" or "poll".
	Mode           string `yaml:"mode"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`

	DebounceMS      int `yaml:"debounce_ms"`
	DebounceSamples int `yaml:"debounce_samples"`

	RotaryClick PinConfig `yaml:"rotary_click"`
	RotaryLeft  PinConfig `yaml:"rotary_left"`
	RotaryRight PinConfig `yaml:"rotary_right"`
	Power       PinConfig `yaml:"power"`

	Analog AnalogConfig `yaml:"analog"`
}

type MPDConfig struct {
	Address      string `yaml:"address"`
	PasswordFile string `yaml:"password_file,omitempty"`
	BackoffMS    int    `yaml:"backoff_ms"`
	// StatusListen serves the now-playing WebSocket at /status; empty disables.
	StatusListen string `yaml:"status_listen,omitempty"`
}

type RotaryAccelConfig struct {
	WindowMS   int `yaml:"window_ms"`
	Threshold  int `yaml:"threshold"`
	Multiplier int `yaml:"multiplier"`
}

type CardConfig struct {
	VolumeStep     int    `yaml:"volume_step"`
	RepeatMS       int    `yaml:"repeat_ms"`
	PowerTimeoutMS int    `yaml:"power_timeout_ms"`
	KeepaliveFile  string `yaml:"keepalive_file"`
	// DryRun logs the shutdown instead of powering off.
	DryRun      bool              `yaml:"dry_run"`
	RotaryAccel RotaryAccelConfig `yaml:"rotary_accel"`
}

type MetricsConfig struct {
	// Listen serves /metrics; empty disables.
	Listen string `yaml:"listen,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Bus: BusConfig{
			Publishers:  bus.DefaultPublisherEndpoint,
			Subscribers: bus.DefaultSubscriberEndpoint,
		},
		Signal: SignalConfig{
			Mode:            "edge",
			PollIntervalMS:  2,
			DebounceMS:      50,
			DebounceSamples: 50,
			RotaryClick:     PinConfig{Name: "GPIO14", Pull: "up", ActiveLow: true, Debounce: true},
			RotaryLeft:      PinConfig{Name: "GPIO15", Pull: "up", ActiveLow: true, Debounce: true},
			RotaryRight:     PinConfig{Name: "GPIO18", Pull: "up", ActiveLow: true, Debounce: true},
			Power:           PinConfig{Name: "GPIO23", Pull: "down", ActiveLow: false, Debounce: true},
			Analog: AnalogConfig{
				Enabled: true,
				SPIHz:   1_000_000,
				PollMS:  50,
				Ranges:  defaultRanges(),
			},
		},
		MPD: MPDConfig{
			Address:   "localhost:6600",
			BackoffMS: 1000,
		},
		Card: CardConfig{
			VolumeStep:     2,
			RepeatMS:       100,
			PowerTimeoutMS: 2000,
			KeepaliveFile:  "/tmp/keepalive",
			RotaryAccel: RotaryAccelConfig{
				WindowMS:   300,
				Threshold:  4,
				Multiplier: 3,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultRanges() []RangeConfig {
	var out []RangeConfig
	for _, r := range ladder.DefaultRanges() {
		out = append(out, RangeConfig{
			Channel: r.Channel,
			Min:     r.Min,
			Max:     r.Max,
			Buttons: r.Buttons.Sources(),
		})
	}
	return out
}

// ==============================
// Loading
// ==============================

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
// Unknown fields are rejected via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}

	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// only whitespace/comments may follow the document
	var trailing yaml.Node
	if err := dec.Decode(&trailing); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}
	return cfg, nil
}

// Load returns the defaults when path is empty and the default file does not
// exist; otherwise it loads the file.
func Load(path string) (Config, error) {
	if path == "" {
		if _, err := os.Stat(DefaultPath); err != nil {
			return DefaultConfig(), nil
		}
		path = DefaultPath
	}
	return LoadConfigFile(path)
}

// FlagOverrides holds optional command-line values. A nil pointer means the
// flag was not given.
type FlagOverrides struct {
	BusPublishers  *string
	BusSubscribers *string
	MPDAddress     *string
	MetricsListen  *string
	LogLevel       *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.BusPublishers != nil {
		cfg.Bus.Publishers = *o.BusPublishers
	}
	if o.BusSubscribers != nil {
		cfg.Bus.Subscribers = *o.BusSubscribers
	}
	if o.MPDAddress != nil {
		cfg.MPD.Address = *o.MPDAddress
	}
	if o.MetricsListen != nil {
		cfg.Metrics.Listen = *o.MetricsListen
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// ==============================
// Validation
// ==============================

// Validate checks config invariants after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	if c.Bus.Publishers == "" {
		return errors.New("bus.publishers must not be empty")
	}
	if c.Bus.Subscribers == "" {
		return errors.New("bus.subscribers must not be empty")
	}
	if c.Bus.Publishers == c.Bus.Subscribers {
		return errors.New("bus.publishers and bus.subscribers must differ")
	}

	if err := c.Signal.validate(); err != nil {
		return err
	}

	if c.MPD.Address == "" {
		return errors.New("mpd.address must not be empty")
	}
	if c.MPD.BackoffMS <= 0 {
		return errors.New("mpd.backoff_ms must be > 0")
	}

	if c.Card.VolumeStep <= 0 || c.Card.VolumeStep > 100 {
		return errors.New("card.volume_step must be between 1 and 100")
	}
	if c.Card.RepeatMS <= 0 {
		return errors.New("card.repeat_ms must be > 0")
	}
	if c.Card.PowerTimeoutMS < 0 {
		return errors.New("card.power_timeout_ms must be >= 0")
	}
	if c.Card.RotaryAccel.Multiplier < 1 {
		return errors.New("card.rotary_accel.multiplier must be >= 1")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

func (s *SignalConfig) validate() error {
	if s.Mode != "edge" && s.Mode != "poll" {
		return fmt.Errorf("signal.mode must be %q or %q", "edge", "poll")
	}
	if s.PollIntervalMS <= 0 {
		return errors.New("signal.poll_interval_ms must be > 0")
	}
	if s.DebounceMS <= 0 {
		return errors.New("signal.debounce_ms must be > 0")
	}
	if s.DebounceSamples < 16 {
		return errors.New("signal.debounce_samples must be >= 16")
	}

	pins := map[string]PinConfig{
		"rotary_click": s.RotaryClick,
		"rotary_left":  s.RotaryLeft,
		"rotary_right": s.RotaryRight,
		"power":        s.Power,
	}
	seen := map[string]string{}
	for field, p := range pins {
		if p.Name == "" {
			return fmt.Errorf("signal.%s.name must not be empty", field)
		}
		if other, dup := seen[p.Name]; dup {
			return fmt.Errorf("signal.%s and signal.%s both use pin %s", field, other, p.Name)
		}
		seen[p.Name] = field
		if _, err := hw.ParsePull(p.Pull); err != nil {
			return fmt.Errorf("signal.%s.pull: %w", field, err)
		}
	}

	if s.Analog.Enabled {
		if s.Analog.PollMS <= 0 {
			return errors.New("signal.analog.poll_ms must be > 0")
		}
		if s.Analog.SPIHz <= 0 {
			return errors.New("signal.analog.spi_hz must be > 0")
		}
		if _, err := s.Analog.LadderRanges(); err != nil {
			return fmt.Errorf("signal.analog.ranges: %w", err)
		}
	}
	return nil
}

// LadderRanges converts the calibration to decoder ranges and validates them.
func (a AnalogConfig) LadderRanges() ([]ladder.Range, error) {
	if len(a.Ranges) == 0 {
		return nil, errors.New("at least one range is required")
	}
	out := make([]ladder.Range, 0, len(a.Ranges))
	for i, rc := range a.Ranges {
		var mask ladder.Mask
		for _, name := range rc.Buttons {
			b, err := ladder.ParseButton(name)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			mask |= b
		}
		out = append(out, ladder.Range{Channel: rc.Channel, Min: rc.Min, Max: rc.Max, Buttons: mask})
	}
	if _, err := ladder.NewTable(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Millis converts a millisecond config value.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// ExpandPath expands ~ and environment variables.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// ReadSecret reads a single-line secret file, trimming whitespace.
func ReadSecret(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return "", fmt.Errorf("read secret file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
