package card

import (
	"log/slog"
	"os"
)

// System performs host-level actions.
type System interface {
	PowerOff() error
}

// HostSystem powers the machine off for real unless DryRun is set.
type HostSystem struct {
	DryRun bool
	Logger *slog.Logger
}

func (h HostSystem) PowerOff() error {
	if h.DryRun {
		h.Logger.Warn("dry run: skipping power off")
		return nil
	}
	return powerOff()
}

// FileExists reports whether path exists. Used for the keepalive file.
func FileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
