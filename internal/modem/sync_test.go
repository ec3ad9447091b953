package modem

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChirp(t *testing.T) {
	c := Chirp(2000, 6000, 4096, 16000)
	require.Len(t, c, 4096)
	assert.Equal(t, 0.0, c[0])
	for i, s := range c {
		if s > 1.0 || s < -1.0 {
			t.Fatalf("chirp sample %d out of range: %v", i, s)
		}
	}

	// the instantaneous frequency sweeps upward: the late half has more
	// zero crossings than the early half
	crossings := func(x []float64) int {
		n := 0
		for i := 1; i < len(x); i++ {
			if (x[i-1] < 0) != (x[i] < 0) {
				n++
			}
		}
		return n
	}
	assert.Greater(t, crossings(c[2048:]), crossings(c[:2048]))
}

func TestNewCorrelator_Flat(t *testing.T) {
	_, err := NewCorrelator(make([]float64, 128))
	assert.True(t, errors.Is(err, ErrFlatPreamble))

	_, err = NewCorrelator([]float64{1})
	assert.True(t, errors.Is(err, ErrFlatPreamble))
}

func TestCorrelator_PerfectMatch(t *testing.T) {
	preamble := Chirp(2000, 6000, 1024, 16000)
	c, err := NewCorrelator(preamble)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, c.ScoreAt(preamble, 0), 1e-9)

	scores := c.Scores(preamble, 0)
	require.Len(t, scores, 1)
	assert.InDelta(t, 1.0, scores[0], 1e-9)

	inverted := make([]float64, len(preamble))
	for i, v := range preamble {
		inverted[i] = -v
	}
	assert.InDelta(t, -1.0, c.ScoreAt(inverted, 0), 1e-9)
}

func TestCorrelator_GainInvariance(t *testing.T) {
	preamble := Chirp(2000, 6000, 1024, 16000)
	c, err := NewCorrelator(preamble)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	signal := make([]float64, 3000)
	for i := range signal {
		signal[i] = 0.1 * rng.NormFloat64()
	}
	for i, v := range preamble {
		signal[700+i] += v
	}

	base := c.Scores(signal, 0)
	scaled := make([]float64, len(signal))
	for i, v := range signal {
		scaled[i] = 0.01*v + 0.3
	}
	other := c.Scores(scaled, 0)
	require.Equal(t, len(base), len(other))
	for k := range base {
		if math.Abs(base[k]-other[k]) > 1e-6 {
			t.Fatalf("lag %d: score %v changed to %v under gain and offset", k, base[k], other[k])
		}
	}
}

func TestCorrelator_FFTMatchesDirect(t *testing.T) {
	preamble := Chirp(1000, 3000, 256, 8000)
	c, err := NewCorrelator(preamble)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	signal := make([]float64, 1500)
	for i := range signal {
		signal[i] = rng.NormFloat64()
	}
	copy(signal[400:], preamble)

	scores := c.Scores(signal, 0)
	require.Len(t, scores, c.Lags(len(signal)))
	require.Greater(t, len(scores), directScanLimit)
	for k := range scores {
		if want := c.ScoreAt(signal, k); math.Abs(scores[k]-want) > 1e-9 {
			t.Fatalf("lag %d: FFT score %v, direct score %v", k, scores[k], want)
		}
	}

	// an offset scan returns the tail of the same scores
	tail := c.Scores(signal, 1000)
	require.Len(t, tail, len(scores)-1000)
	for i := range tail {
		assert.InDelta(t, scores[1000+i], tail[i], 1e-9)
	}
}

func TestCorrelator_DetectsPreambleInNoise(t *testing.T) {
	e := newTestEngine(t)
	preamble := e.Preamble()
	c, err := NewCorrelator(preamble)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	offset := 5123
	signal := make([]float64, offset+len(preamble)+3000)
	for i := range signal {
		signal[i] = 0.2 * rng.NormFloat64()
	}
	for i, v := range preamble {
		signal[offset+i] += 0.5 * v
	}

	scores := c.Scores(signal, 0)
	best := 0
	for k := range scores {
		if scores[k] > scores[best] {
			best = k
		}
	}
	assert.Equal(t, offset, best)
	assert.Greater(t, scores[best], 0.6)

	// away from the preamble the noise floor stays well under threshold
	for k := 0; k < offset-len(preamble); k++ {
		if scores[k] >= 0.6 {
			t.Fatalf("false detection at lag %d: %v", k, scores[k])
		}
	}
}

func TestCorrelator_ShortSignal(t *testing.T) {
	c, err := NewCorrelator(Chirp(1000, 2000, 128, 8000))
	require.NoError(t, err)

	assert.Nil(t, c.Scores(make([]float64, 100), 0))
	assert.Equal(t, 0, c.Lags(127))
	assert.Equal(t, 1, c.Lags(128))
	assert.Equal(t, 0.0, c.ScoreAt(make([]float64, 100), 0))
	// silence has no variance and scores zero
	assert.Equal(t, []float64{0, 0, 0}, c.Scores(make([]float64, 130), 0))
}
