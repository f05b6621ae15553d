// Package ladder turns resistor-ladder ADC readings into button press and
// release events.
//
// Each analog channel has a lookup table from raw value to a button bitmask.
// The masks of all channels are OR'd into one aggregate per poll, and the
// difference with the previous aggregate produces the events.
package ladder

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"

	"caracas/internal/event"
	"caracas/internal/hw"
)

// Mask is a set of buttons.
type Mask uint8

// Buttons, in event emission order.
const (
	Mode Mask = 1 << iota
	ArrowUp
	ArrowDown
	VolumeUp
	VolumeDown
)

var buttonSources = [...]string{
	event.SourceMode,
	event.SourceArrowUp,
	event.SourceArrowDown,
	event.SourceVolumeUp,
	event.SourceVolumeDown,
}

// ErrInvalidRange is returned for calibration ranges outside the ADC scale.
var ErrInvalidRange = errors.New("invalid calibration range")

// ParseButton maps an event source name to its bit.
func ParseButton(name string) (Mask, error) {
	for i, src := range buttonSources {
		if strings.EqualFold(src, strings.TrimSpace(name)) {
			return 1 << i, nil
		}
	}
	return 0, fmt.Errorf("unknown button %q", name)
}

// Sources lists the event sources in m in bit order.
func (m Mask) Sources() []string {
	var out []string
	for i, src := range buttonSources {
		if m&(1<<i) != 0 {
			out = append(out, src)
		}
	}
	return out
}

func (m Mask) String() string {
	if m == 0 {
		return "none"
	}
	return strings.Join(m.Sources(), "|")
}

// Range maps the inclusive raw interval [Min, Max] on Channel to Buttons.
type Range struct {
	Channel int
	Min     int
	Max     int
	Buttons Mask
}

// DefaultRanges is the calibration of the stock front panel.
func DefaultRanges() []Range {
	return []Range{
		{Channel: 0, Min: 1014, Max: 1023, Buttons: VolumeUp},
		{Channel: 0, Min: 830, Max: 900, Buttons: VolumeDown},
		{Channel: 1, Min: 1014, Max: 1023, Buttons: Mode},
		{Channel: 1, Min: 830, Max: 900, Buttons: ArrowUp},
		{Channel: 1, Min: 640, Max: 720, Buttons: ArrowDown},
	}
}

// Table is the precomputed lookup for a set of channels.
type Table struct {
	channels []int
	lut      map[int]*[hw.MaxADC + 1]Mask
}

// NewTable validates ranges and builds the lookup. Overlapping ranges on the
// same channel combine their buttons.
func NewTable(ranges []Range) (*Table, error) {
	t := &Table{lut: map[int]*[hw.MaxADC + 1]Mask{}}
	for _, r := range ranges {
		if r.Channel < 0 || r.Channel > 7 {
			return nil, fmt.Errorf("%w: channel %d", ErrInvalidRange, r.Channel)
		}
		if r.Min < 0 || r.Max > hw.MaxADC || r.Min > r.Max {
			return nil, fmt.Errorf("%w: channel %d [%d, %d]", ErrInvalidRange, r.Channel, r.Min, r.Max)
		}
		if r.Buttons == 0 {
			return nil, fmt.Errorf("%w: channel %d [%d, %d] maps no buttons", ErrInvalidRange, r.Channel, r.Min, r.Max)
		}

		lut, ok := t.lut[r.Channel]
		if !ok {
			lut = new([hw.MaxADC + 1]Mask)
			t.lut[r.Channel] = lut
			t.channels = append(t.channels, r.Channel)
		}
		for v := r.Min; v <= r.Max; v++ {
			lut[v] |= r.Buttons
		}
	}
	return t, nil
}

// Channels lists the channels that have at least one range, in first-seen order.
func (t *Table) Channels() []int {
	return t.channels
}

// Lookup returns the buttons for a raw reading. Out-of-scale readings map to
// no buttons.
func (t *Table) Lookup(channel, raw int) Mask {
	lut, ok := t.lut[channel]
	if !ok || raw < 0 || raw > hw.MaxADC {
		return 0
	}
	return lut[raw]
}

// Diff returns the events for going from prev to cur: presses for new bits,
// depresses for cleared bits, both in bit order.
func Diff(prev, cur Mask) []event.Event {
	changed := prev ^ cur
	if changed == 0 {
		return nil
	}
	out := make([]event.Event, 0, bits.OnesCount8(uint8(changed)))
	for i, src := range buttonSources {
		bit := Mask(1 << i)
		if changed&bit == 0 {
			continue
		}
		state := event.StateDepress
		if cur&bit != 0 {
			state = event.StatePress
		}
		out = append(out, event.New(src, state))
	}
	return out
}

// Decoder polls an ADC through a Table. It is not safe for concurrent use.
type Decoder struct {
	table *Table
	adc   hw.ADC
	prev  Mask
}

func NewDecoder(table *Table, adc hw.ADC) *Decoder {
	return &Decoder{table: table, adc: adc}
}

// Sample reads every channel once and returns the resulting events. On a read
// error nothing is emitted and the previous aggregate is kept.
func (d *Decoder) Sample() ([]event.Event, error) {
	var cur Mask
	for _, ch := range d.table.channels {
		raw, err := d.adc.Read(ch)
		if err != nil {
			return nil, err
		}
		cur |= d.table.Lookup(ch, raw)
	}

	events := Diff(d.prev, cur)
	d.prev = cur
	return events, nil
}

// Pressed is the aggregate from the last successful sample.
func (d *Decoder) Pressed() Mask {
	return d.prev
}
