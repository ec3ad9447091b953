package modem

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Preamble synthesis and normalized cross-correlation for frame sync.

// directScanLimit is the lag count below which correlation is computed by
// direct dot products instead of FFT.
const directScanLimit = 64

// Chirp returns n samples of a unit-amplitude linear sweep from startHz to
// endHz.
func Chirp(startHz, endHz float64, n int, sampleRateHz float64) []float64 {
	out := make([]float64, n)
	if n == 0 || sampleRateHz <= 0 {
		return out
	}
	duration := float64(n) / sampleRateHz
	rate := (endHz - startHz) / duration
	for i := range out {
		t := float64(i) / sampleRateHz
		out[i] = math.Sin(2 * math.Pi * (startHz*t + rate/2*t*t))
	}
	return out
}

// Correlator scores how well windows of a signal match a known preamble.
// The score at lag k is the cross-correlation of the standardized preamble
// with signal[k:k+L], divided by the rolling standard deviation of that
// window and by L. Scores lie in [-1, 1] and do not depend on input gain.
// Not safe for concurrent use.
type Correlator struct {
	template []float64
	plans    map[int]*correlationPlan
}

type correlationPlan struct {
	fft      *fourier.FFT
	spectrum []complex128 // conjugated template spectrum
	seq      []float64
	coeff    []complex128
}

// NewCorrelator prepares a correlator for preamble.
func NewCorrelator(preamble []float64) (*Correlator, error) {
	if len(preamble) < 2 {
		return nil, fmt.Errorf("%w: %d samples", ErrFlatPreamble, len(preamble))
	}
	mean, std := stat.PopMeanStdDev(preamble, nil)
	if std == 0 || math.IsNaN(std) {
		return nil, ErrFlatPreamble
	}
	template := make([]float64, len(preamble))
	copy(template, preamble)
	floats.AddConst(-mean, template)
	floats.Scale(1/std, template)

	return &Correlator{
		template: template,
		plans:    make(map[int]*correlationPlan),
	}, nil
}

// Len returns the preamble length in samples.
func (c *Correlator) Len() int { return len(c.template) }

// Lags returns the number of complete preamble windows in n samples.
func (c *Correlator) Lags(n int) int {
	if n < len(c.template) {
		return 0
	}
	return n - len(c.template) + 1
}

// Scores returns the score for every lag in [from, len(signal)-L].
// Index i of the result corresponds to lag from+i.
func (c *Correlator) Scores(signal []float64, from int) []float64 {
	if from < 0 {
		from = 0
	}
	lags := c.Lags(len(signal)) - from
	if lags <= 0 {
		return nil
	}
	L := len(c.template)
	seg := signal[from : from+lags+L-1]

	var raw []float64
	if lags <= directScanLimit {
		raw = make([]float64, lags)
		for k := range raw {
			raw[k] = floats.Dot(seg[k:k+L], c.template)
		}
	} else {
		raw = c.crossCorrelate(seg, lags)
	}

	// rolling standard deviation over each window via prefix sums
	scores := make([]float64, lags)
	var s1, s2 float64
	for i := 0; i < L-1; i++ {
		s1 += seg[i]
		s2 += seg[i] * seg[i]
	}
	n := float64(L)
	for k := 0; k < lags; k++ {
		in := seg[k+L-1]
		s1 += in
		s2 += in * in
		variance := s2/n - (s1/n)*(s1/n)
		if variance > 1e-18 {
			scores[k] = raw[k] / (n * math.Sqrt(variance))
		}
		out := seg[k]
		s1 -= out
		s2 -= out * out
	}
	return scores
}

// ScoreAt returns the score of the single window starting at lag.
func (c *Correlator) ScoreAt(signal []float64, lag int) float64 {
	L := len(c.template)
	if lag < 0 || lag+L > len(signal) {
		return 0
	}
	window := signal[lag : lag+L]
	_, std := stat.PopMeanStdDev(window, nil)
	if std < 1e-9 || math.IsNaN(std) {
		return 0
	}
	return floats.Dot(window, c.template) / (float64(L) * std)
}

// crossCorrelate returns sum_i seg[k+i]*template[i] for k in [0, lags).
func (c *Correlator) crossCorrelate(seg []float64, lags int) []float64 {
	m := 1
	for m < len(seg) {
		m <<= 1
	}
	p := c.plan(m)

	for i := range p.seq {
		p.seq[i] = 0
	}
	copy(p.seq, seg)
	p.coeff = p.fft.Coefficients(p.coeff, p.seq)
	for i := range p.coeff {
		p.coeff[i] *= p.spectrum[i]
	}
	p.seq = p.fft.Sequence(p.seq, p.coeff)

	out := make([]float64, lags)
	copy(out, p.seq[:lags])
	floats.Scale(1/float64(m), out)
	return out
}

func (c *Correlator) plan(m int) *correlationPlan {
	if p, ok := c.plans[m]; ok {
		return p
	}
	fft := fourier.NewFFT(m)
	padded := make([]float64, m)
	copy(padded, c.template)
	spectrum := fft.Coefficients(nil, padded)
	for i, v := range spectrum {
		spectrum[i] = complex(real(v), -imag(v))
	}
	p := &correlationPlan{
		fft:      fft,
		spectrum: spectrum,
		seq:      make([]float64, m),
		coeff:    make([]complex128, m/2+1),
	}
	c.plans[m] = p
	return p
}
