// Package cli holds the start-up plumbing every daemon shares: common
// flags, configuration loading, the signal-cancelled root context and exit
// codes.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"caracas/internal/config"
	"caracas/internal/httpserver"
	"caracas/internal/logging"
	"caracas/internal/metrics"
)

// Version is shared by all binaries.
const Version = "1.0.0"

// Exit codes.
const (
	ExitBus    = 1
	ExitGPIO   = 2
	ExitSPI    = 3
	ExitConfig = 4
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// Exit wraps err with an exit code. A nil err stays nil.
func Exit(code int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}

// Code returns the exit code for err: 0 for nil, the wrapped code for an
// ExitError, 1 otherwise.
func Code(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// Common are the flags every daemon accepts.
type Common struct {
	ConfigPath string
	LogLevel   string
	Version    bool
	Help       bool

	fs *flag.FlagSet
}

// RegisterCommon adds -config, -log-level, -version and -help to fs.
func RegisterCommon(fs *flag.FlagSet) *Common {
	c := &Common{fs: fs}
	fs.StringVar(&c.ConfigPath, "config", "", "Path to YAML config file (default "+config.DefaultPath+" if present)")
	fs.StringVar(&c.LogLevel, "log-level", "", "Log level: error, warn, info, debug (overrides config)")
	fs.BoolVar(&c.Version, "version", false, "Print version and exit")
	fs.BoolVar(&c.Help, "help", false, "Print help message")
	return c
}

// Set reports whether the named flag was given on the command line.
func (c *Common) Set(name string) bool {
	found := false
	c.fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// StringOverride returns &value when the flag was given, nil otherwise.
func (c *Common) StringOverride(name, value string) *string {
	if !c.Set(name) {
		return nil
	}
	return &value
}

// Load reads, overrides and validates the configuration. Errors carry
// ExitConfig.
func (c *Common) Load(overrides config.FlagOverrides) (config.Config, error) {
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		return config.Config{}, Exit(ExitConfig, err)
	}
	if overrides.LogLevel == nil {
		overrides.LogLevel = c.StringOverride("log-level", c.LogLevel)
	}
	overrides.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, Exit(ExitConfig, fmt.Errorf("invalid config: %w", err))
	}
	return cfg, nil
}

// Logger builds the daemon logger from a validated config.
func Logger(cfg config.Config, daemon string) *slog.Logger {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.New(level, daemon)
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ServeMetrics serves /metrics and /healthz on addr until ctx is done.
// An empty addr disables the endpoint.
func ServeMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *slog.Logger, extra func(*http.ServeMux)) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}
	mux := httpserver.NewMux()
	mux.Handle("/metrics", m.Handler())
	if extra != nil {
		extra(mux)
	}
	return httpserver.Run(ctx, addr, mux, logger)
}

// Fail prints err to w in the daemons' "error: ..." format and returns the
// exit code.
func Fail(w io.Writer, err error) int {
	fmt.Fprintln(w, "error:", err)
	return Code(err)
}

// Main runs fn and exits with its code.
func Main(fn func() error) {
	if err := fn(); err != nil {
		os.Exit(Fail(os.Stderr, err))
	}
}
