// Package hw is the sample source: raw digital pin levels and analog channel
// readings, behind small interfaces so the decoders can run against fakes.
package hw

import (
	"fmt"
	"strings"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Pin is a digital input line. Read returns the raw level, true being high.
type Pin interface {
	Name() string
	Read() bool
}

// EdgePin is a Pin that can block until its level changes.
type EdgePin interface {
	Pin
	WaitForEdge(timeout time.Duration) bool
}

// ADC reads one single-ended analog channel. Values are 0 to MaxADC.
type ADC interface {
	Read(channel int) (int, error)
}

// MaxADC is the largest 10-bit conversion result.
const MaxADC = 1023

// Init loads the host drivers. It must run before any pin or SPI port is
// opened.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}
	return nil
}

// ParsePull maps a config value to a periph pull setting.
func ParsePull(s string) (gpio.Pull, error) {
	switch strings.ToLower(s) {
	case "up":
		return gpio.PullUp, nil
	case "down":
		return gpio.PullDown, nil
	case "float", "none":
		return gpio.Float, nil
	case "", "keep":
		return gpio.PullNoChange, nil
	default:
		return gpio.PullNoChange, fmt.Errorf("invalid pull %q (must be up, down, float or keep)", s)
	}
}

// GPIOPin adapts a periph pin.
type GPIOPin struct {
	p gpio.PinIO
}

// OpenPin looks up a pin by name ("GPIO14", "17", ...) and configures it as an
// input reporting both edges.
func OpenPin(name string, pull gpio.Pull) (*GPIOPin, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	return NewGPIOPin(p, pull)
}

// NewGPIOPin configures an already resolved pin.
func NewGPIOPin(p gpio.PinIO, pull gpio.Pull) (*GPIOPin, error) {
	if err := p.In(pull, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("configure %s as input: %w", p.Name(), err)
	}
	return &GPIOPin{p: p}, nil
}

func (g *GPIOPin) Name() string { return g.p.Name() }

func (g *GPIOPin) Read() bool { return g.p.Read() == gpio.High }

func (g *GPIOPin) WaitForEdge(timeout time.Duration) bool {
	return g.p.WaitForEdge(timeout)
}

// Halt stops edge detection on the pin.
func (g *GPIOPin) Halt() error {
	return g.p.Halt()
}
