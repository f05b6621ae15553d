package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"error":   LevelError,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		" info ":  LevelInfo,
		"debug":   LevelDebug,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := ParseLevel("trace"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewWriterFiltersAndTags(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, LevelWarn, "sigd")

	logger.Info("hidden")
	logger.Warn("shown", "channel", "power")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "daemon=sigd") || !strings.Contains(out, "channel=power") {
		t.Fatalf("missing attributes in %q", out)
	}
}
