package modem

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// RealFFT computes the Fourier coefficients of a real-valued sequence.
// Only the non-negative frequencies are returned (len(x)/2+1 values).
// Any length is accepted.
func RealFFT(x []float64) []complex128 {
	if len(x) == 0 {
		return nil
	}
	return fourier.NewFFT(len(x)).Coefficients(nil, x)
}

// MagnitudeSpectrum returns the frequency in Hz and magnitude of each bin in
// the positive half of the spectrum, [0, len(x)/2).
func MagnitudeSpectrum(x []float64, sampleRateHz float64) (freqs, mags []float64) {
	if len(x) < 2 {
		return nil, nil
	}
	a := newSpectrumAnalyzer(len(x))
	mags = append([]float64(nil), a.magnitudes(x)...)
	freqs = make([]float64, len(mags))
	for i := range freqs {
		freqs[i] = a.fft.Freq(i) * sampleRateHz
	}
	return freqs, mags
}

// spectrumAnalyzer computes magnitude spectra of fixed-length real blocks,
// reusing its buffers between calls. Not safe for concurrent use.
type spectrumAnalyzer struct {
	n     int
	fft   *fourier.FFT
	coeff []complex128
	mags  []float64
}

func newSpectrumAnalyzer(n int) *spectrumAnalyzer {
	return &spectrumAnalyzer{
		n:     n,
		fft:   fourier.NewFFT(n),
		coeff: make([]complex128, n/2+1),
		mags:  make([]float64, n/2),
	}
}

// magnitudes returns |X[k]| for k in [0, n/2). The returned slice is reused
// by the next call.
func (s *spectrumAnalyzer) magnitudes(x []float64) []float64 {
	s.coeff = s.fft.Coefficients(s.coeff, x)
	for k := range s.mags {
		s.mags[k] = cmplx.Abs(s.coeff[k])
	}
	return s.mags
}
