package modem

import (
	"fmt"
	"math"
)

// binTolerance absorbs float rounding when checking that a frequency sits on
// a bin; it is expressed in bins, not Hz.
const binTolerance = 1e-9

// FrequencyTable is the ordered, evenly spaced set of carrier frequencies.
// Carriers are stored as FFT bin indices so that membership tests against a
// spectrum are exact integer comparisons.
type FrequencyTable struct {
	bins     []int
	binWidth float64
}

// NewFrequencyTable builds size carriers starting at startHz. The spacing is
// the largest multiple of the bin width (sampleRateHz/samplesPerSymbol) for
// which the highest carrier does not exceed endHz.
func NewFrequencyTable(startHz, endHz float64, size, samplesPerSymbol int, sampleRateHz float64) (FrequencyTable, error) {
	if size <= 1 {
		return FrequencyTable{}, fmt.Errorf("%w: symbol size must be greater than 1", ErrInvalidConfig)
	}
	if samplesPerSymbol <= 0 || sampleRateHz <= 0 {
		return FrequencyTable{}, fmt.Errorf("%w: samples per symbol and sample rate must be positive", ErrInvalidConfig)
	}
	if startHz <= 0 || endHz <= startHz {
		return FrequencyTable{}, fmt.Errorf("%w: frequency range [%g, %g] Hz", ErrInvalidConfig, startHz, endHz)
	}

	binWidth := sampleRateHz / float64(samplesPerSymbol)
	startPos := startHz / binWidth
	startBin := int(math.Round(startPos))
	if math.Abs(startPos-float64(startBin)) > binTolerance {
		return FrequencyTable{}, fmt.Errorf("%w: start %g Hz is not a multiple of the %g Hz bin width",
			ErrOffBin, startHz, binWidth)
	}

	endBin := int(math.Floor(endHz/binWidth + binTolerance))
	step := (endBin - startBin) / (size - 1)
	if step < 1 {
		return FrequencyTable{}, fmt.Errorf("%w: range [%g, %g] Hz too narrow for %d carriers at %g Hz resolution",
			ErrInvalidConfig, startHz, endHz, size, binWidth)
	}

	bins := make([]int, size)
	for i := range bins {
		bins[i] = startBin + i*step
	}
	if top := bins[size-1]; top >= samplesPerSymbol/2 {
		return FrequencyTable{}, fmt.Errorf("%w: top carrier %g Hz at or above Nyquist",
			ErrInvalidConfig, float64(top)*binWidth)
	}

	return FrequencyTable{bins: bins, binWidth: binWidth}, nil
}

// Len returns the number of carriers.
func (t FrequencyTable) Len() int { return len(t.bins) }

// Bin returns the FFT bin of carrier i.
func (t FrequencyTable) Bin(i int) int { return t.bins[i] }

// Hz returns the frequency of carrier i.
func (t FrequencyTable) Hz(i int) float64 { return float64(t.bins[i]) * t.binWidth }

// BinWidth returns the spectral resolution in Hz.
func (t FrequencyTable) BinWidth() float64 { return t.binWidth }

// Frequencies returns all carrier frequencies in Hz.
func (t FrequencyTable) Frequencies() []float64 {
	out := make([]float64, len(t.bins))
	for i := range t.bins {
		out[i] = t.Hz(i)
	}
	return out
}

// Step returns the carrier spacing in Hz.
func (t FrequencyTable) Step() float64 {
	if len(t.bins) < 2 {
		return 0
	}
	return float64(t.bins[1]-t.bins[0]) * t.binWidth
}

// Index returns the carrier index for an FFT bin.
func (t FrequencyTable) Index(bin int) (int, bool) {
	if len(t.bins) < 2 {
		return 0, false
	}
	step := t.bins[1] - t.bins[0]
	off := bin - t.bins[0]
	if off < 0 || off%step != 0 || off/step >= len(t.bins) {
		return 0, false
	}
	return off / step, true
}
