package debounce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now    time.Time
	sleeps int
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps++
	c.now = c.now.Add(d)
}

// script returns successive samples, repeating the last one when exhausted.
func script(samples ...bool) func() bool {
	i := 0
	return func() bool {
		v := samples[min(i, len(samples)-1)]
		i++
		return v
	}
}

func repeat(v bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestSettleConstantHigh(t *testing.T) {
	clock := &fakeClock{}
	f := New(Config{}, clock)

	got, err := f.Settle(script(true))
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, 15, clock.sleeps, "settles on the 16th sample")
}

func TestSettleConstantLow(t *testing.T) {
	f := New(Config{}, &fakeClock{})

	got, err := f.Settle(script(false))
	require.NoError(t, err)
	assert.False(t, got)
}

func TestSettleAfterNoise(t *testing.T) {
	samples := []bool{}
	for i := 0; i < 20; i++ {
		samples = append(samples, i%2 == 0)
	}
	samples = append(samples, repeat(true, 16)...)

	got, err := New(Config{}, &fakeClock{}).Settle(script(samples...))
	require.NoError(t, err)
	assert.True(t, got)
}

func TestSettleFifteenAgreeingIsNotEnough(t *testing.T) {
	samples := append(repeat(true, 15), repeat(false, 15)...)
	read := func() func() bool {
		i := 0
		return func() bool {
			v := samples[i%len(samples)]
			i++
			return v
		}
	}()

	_, err := New(Config{}, &fakeClock{}).Settle(read)
	assert.ErrorIs(t, err, ErrIndeterminate)
}

func TestSettleAlternatingIsIndeterminate(t *testing.T) {
	clock := &fakeClock{}
	n := 0
	read := func() bool {
		n++
		return n%2 == 0
	}

	_, err := New(Config{Duration: 50 * time.Millisecond, Samples: 50}, clock).Settle(read)
	assert.ErrorIs(t, err, ErrIndeterminate)
	assert.Equal(t, 50, n, "one sample per interval across the window")
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{Duration: DefaultDuration, Samples: DefaultSamples}.Validate())
	assert.Error(t, Config{Duration: 0, Samples: 50}.Validate())
	assert.Error(t, Config{Duration: time.Millisecond, Samples: 8}.Validate())
}

func TestInterval(t *testing.T) {
	f := New(Config{Duration: 50 * time.Millisecond, Samples: 50}, nil)
	assert.Equal(t, time.Millisecond, f.Interval())
}
