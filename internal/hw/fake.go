package hw

import (
	"fmt"
	"sync"
	"time"
)

// ScriptPin replays a scripted sequence of levels, repeating the last one
// once the script runs out.
type ScriptPin struct {
	mu      sync.Mutex
	name    string
	samples []bool
	pos     int
	edges   chan struct{}
}

// NewScriptPin creates a pin that starts at level.
func NewScriptPin(name string, level bool) *ScriptPin {
	return &ScriptPin{name: name, samples: []bool{level}, edges: make(chan struct{}, 1)}
}

func (p *ScriptPin) Name() string { return p.name }

func (p *ScriptPin) Read() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.samples[p.pos]
	if p.pos < len(p.samples)-1 {
		p.pos++
	}
	return v
}

// Set replaces the script and signals an edge.
func (p *ScriptPin) Set(samples ...bool) {
	if len(samples) == 0 {
		return
	}
	p.mu.Lock()
	p.samples = samples
	p.pos = 0
	p.mu.Unlock()

	select {
	case p.edges <- struct{}{}:
	default:
	}
}

func (p *ScriptPin) WaitForEdge(timeout time.Duration) bool {
	if timeout < 0 {
		<-p.edges
		return true
	}
	select {
	case <-p.edges:
		return true
	case <-time.After(timeout):
		return false
	}
}

// StaticADC returns fixed values per channel.
type StaticADC struct {
	mu     sync.Mutex
	Values map[int]int
	Err    error
}

func (a *StaticADC) Set(channel, value int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Values == nil {
		a.Values = map[int]int{}
	}
	a.Values[channel] = value
}

func (a *StaticADC) Read(channel int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return 0, a.Err
	}
	v, ok := a.Values[channel]
	if !ok {
		return 0, fmt.Errorf("channel %d not wired", channel)
	}
	return v, nil
}
