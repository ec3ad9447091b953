package audio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrames(t *testing.T) {
	samples := []float64{0.5, -0.5, 0.25, 1, -1}

	chunks := Frames(samples, 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, []float32{0.5, -0.5}, chunks[0])
	assert.Equal(t, []float32{0.25, 1}, chunks[1])
	assert.Equal(t, []float32{-1, 0}, chunks[2])

	assert.Nil(t, Frames(nil, 4))
	assert.Nil(t, Frames(samples, 0))
}

func TestFrames_ExactMultiple(t *testing.T) {
	chunks := Frames(make([]float64, 8), 4)
	assert.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Len(t, c, 4)
	}
}

func TestNewStream_Defaults(t *testing.T) {
	s := NewStream(16000, 0, nil)
	assert.Equal(t, DefaultFramesPerBuffer, s.FramesPerBuffer())

	s = NewStream(16000, 256, nil)
	assert.Equal(t, 256, s.FramesPerBuffer())
}

func TestStream_Exclusive(t *testing.T) {
	s := NewStream(16000, 256, nil)
	require.True(t, s.acquire(&s.capturing))
	assert.False(t, s.acquire(&s.capturing))
	assert.True(t, s.acquire(&s.playing))

	s.release(&s.capturing)
	assert.True(t, s.acquire(&s.capturing))
}

func TestWriteDevices(t *testing.T) {
	var buf bytes.Buffer
	WriteDevices(&buf, []DeviceInfo{
		{Name: "mic", MaxInputChannels: 1, DefaultSampleRate: 48000, IsDefault: true},
		{Name: "speaker", MaxOutputChannels: 2, DefaultSampleRate: 44100},
	}, true, false)

	out := buf.String()
	assert.Contains(t, out, "0: mic (in:1 out:0 rate:48000) [DEFAULT]")
	assert.Contains(t, out, "1: speaker (in:0 out:2 rate:44100)\n")
	assert.Contains(t, out, "No default output device")
	assert.NotContains(t, out, "No default input device")
}

func TestWriteDevices_Empty(t *testing.T) {
	var buf bytes.Buffer
	WriteDevices(&buf, nil, true, true)
	assert.Contains(t, buf.String(), "(no devices found)")
}
