package hw

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/spi/spitest"
)

func TestMCP3008Read(t *testing.T) {
	port := &spitest.Playback{
		Playback: conntest.Playback{
			Ops: []conntest.IO{
				{W: []byte{0x01, 0x80, 0x00}, R: []byte{0x00, 0x03, 0xFA}},
				{W: []byte{0x01, 0x90, 0x00}, R: []byte{0x00, 0x01, 0x00}},
			},
		},
	}
	adc, err := NewMCP3008(port, 0)
	require.NoError(t, err)

	v, err := adc.Read(0)
	require.NoError(t, err)
	assert.Equal(t, 1018, v)

	v, err = adc.Read(1)
	require.NoError(t, err)
	assert.Equal(t, 256, v)

	require.NoError(t, port.Close())
}

func TestMCP3008ChannelRange(t *testing.T) {
	adc, err := NewMCP3008(&spitest.Playback{}, 0)
	require.NoError(t, err)
	_, err = adc.Read(8)
	assert.Error(t, err)
}

func TestParsePull(t *testing.T) {
	for _, s := range []string{"up", "down", "float", "", "keep"} {
		_, err := ParsePull(s)
		assert.NoError(t, err, s)
	}
	_, err := ParsePull("sideways")
	assert.Error(t, err)
}

func TestScriptPin(t *testing.T) {
	p := NewScriptPin("p", false)
	assert.False(t, p.Read())
	p.Set(true, false, true)
	assert.True(t, p.WaitForEdge(time.Second))
	assert.Equal(t, []bool{true, false, true, true}, []bool{p.Read(), p.Read(), p.Read(), p.Read()})
}
