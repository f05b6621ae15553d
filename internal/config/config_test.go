package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"caracas/internal/ladder"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "caracas.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadConfigFileOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
bus:
  publishers: tcp://10.0.0.2:9080
signal:
  power:
    name: GPIO24
    pull: up
    active_low: true
    debounce: false
  analog:
    ranges:
      - {channel: 1, min: 1014, max: 1023, buttons: [MODE]}
      - {channel: 1, min: 500, max: 520, buttons: ["ARROW UP", "ARROW DOWN"]}
logging:
  level: debug
`)

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Bus.Publishers != "tcp://10.0.0.2:9080" {
		t.Errorf("publishers = %q", cfg.Bus.Publishers)
	}
	if cfg.Bus.Subscribers != DefaultConfig().Bus.Subscribers {
		t.Errorf("subscribers lost its default: %q", cfg.Bus.Subscribers)
	}
	if !cfg.Signal.Power.ActiveLow || cfg.Signal.Power.Debounce {
		t.Errorf("power pin = %+v", cfg.Signal.Power)
	}
	if cfg.Signal.RotaryClick.Name != "GPIO14" {
		t.Errorf("rotary_click default lost: %+v", cfg.Signal.RotaryClick)
	}

	ranges, err := cfg.Signal.Analog.LadderRanges()
	if err != nil {
		t.Fatalf("LadderRanges: %v", err)
	}
	if len(ranges) != 2 || ranges[1].Buttons != ladder.ArrowUp|ladder.ArrowDown {
		t.Errorf("ranges = %+v", ranges)
	}
}

func TestLoadConfigFileRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "bus:\n  publisher: tcp://x:1\n")
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoadConfigFileRejectsTrailingDocument(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n---\nlogging:\n  level: debug\n")
	_, err := LoadConfigFile(path)
	if err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("expected trailing document error, got %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]func(*Config){
		"bus.publishers and bus.subscribers must differ": func(c *Config) { c.Bus.Subscribers = c.Bus.Publishers },
		"signal.mode":                                    func(c *Config) { c.Signal.Mode = "irq" },
		"signal.debounce_samples":                        func(c *Config) { c.Signal.DebounceSamples = 8 },
		"both use pin":                                   func(c *Config) { c.Signal.Power.Name = c.Signal.RotaryLeft.Name },
		"signal.rotary_click.pull":                       func(c *Config) { c.Signal.RotaryClick.Pull = "sideways" },
		"signal.analog.ranges":                           func(c *Config) { c.Signal.Analog.Ranges[0].Max = 2000 },
		"card.volume_step":                               func(c *Config) { c.Card.VolumeStep = 0 },
		"logging.level":                                  func(c *Config) { c.Logging.Level = "loud" },
	}
	for want, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("%s: got %v", want, err)
		}
	}
}

func TestAnalogDisabledSkipsRanges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Signal.Analog.Enabled = false
	cfg.Signal.Analog.Ranges = nil
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestFlagOverrides(t *testing.T) {
	cfg := DefaultConfig()
	level := "debug"
	addr := "music.local:6600"
	FlagOverrides{LogLevel: &level, MPDAddress: &addr}.Apply(&cfg)

	if cfg.Logging.Level != "debug" || cfg.MPD.Address != addr {
		t.Fatalf("overrides not applied: %+v %+v", cfg.Logging, cfg.MPD)
	}
	if cfg.Bus.Publishers != DefaultConfig().Bus.Publishers {
		t.Fatalf("unset override changed publishers")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/x.yml"); got != filepath.Join(home, "x.yml") {
		t.Errorf("ExpandPath(~/x.yml) = %q", got)
	}
	if got := ExpandPath("/etc/x.yml"); got != "/etc/x.yml" {
		t.Errorf("ExpandPath(/etc/x.yml) = %q", got)
	}
}

func TestReadSecret(t *testing.T) {
	path := writeConfig(t, "hunter2\n")
	got, err := ReadSecret(path)
	if err != nil || got != "hunter2" {
		t.Fatalf("ReadSecret = %q, %v", got, err)
	}
	if got, err := ReadSecret(""); err != nil || got != "" {
		t.Fatalf("ReadSecret(\"\") = %q, %v", got, err)
	}
}
