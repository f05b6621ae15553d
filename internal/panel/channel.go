package panel

import (
	"caracas/internal/debounce"
	"caracas/internal/hw"
)

// Channel is one digital input with its polarity and last settled level.
type Channel struct {
	Name      string
	Pin       hw.Pin
	ActiveLow bool
	// Debounce settles the level through the filter before accepting it.
	// Channels with hardware filtering may turn it off.
	Debounce bool

	level bool
}

// NewChannel reads the pin once so the first change is relative to the
// level at startup.
func NewChannel(name string, pin hw.Pin, activeLow, debounced bool) *Channel {
	return &Channel{
		Name:      name,
		Pin:       pin,
		ActiveLow: activeLow,
		Debounce:  debounced,
		level:     pin.Read(),
	}
}

// Refresh samples the pin and reports whether the settled level changed.
// The filter only runs when the raw level differs from the settled one. A
// debounce timeout leaves the level untouched and returns the error.
func (c *Channel) Refresh(f *debounce.Filter) (bool, error) {
	level := c.Pin.Read()
	if level == c.level {
		return false, nil
	}

	if c.Debounce {
		v, err := f.Settle(c.Pin.Read)
		if err != nil {
			return false, err
		}
		level = v
	}

	if level == c.level {
		return false, nil
	}
	c.level = level
	return true, nil
}

// Active applies polarity to the settled level.
func (c *Channel) Active() bool {
	return c.level != c.ActiveLow
}
