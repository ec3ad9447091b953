package modem

import (
	"math"
	"math/cmplx"
	"testing"
)

func TestRealFFT_KnownValues(t *testing.T) {
	// FFT of [1, 1, 1, 1] should be [4, 0, 0]
	y := RealFFT([]float64{1, 1, 1, 1})

	if len(y) != 3 {
		t.Fatalf("len(RealFFT) = %d, want 3", len(y))
	}
	if cmplx.Abs(y[0]-4) > 1e-10 {
		t.Errorf("RealFFT([1,1,1,1])[0] = %v, want 4", y[0])
	}
	for i := 1; i < len(y); i++ {
		if cmplx.Abs(y[i]) > 1e-10 {
			t.Errorf("RealFFT([1,1,1,1])[%d] = %v, want 0", i, y[i])
		}
	}
}

func TestRealFFT_Parseval(t *testing.T) {
	// Parseval's theorem for a real sequence of even length n:
	// sum|x|^2 == (|X0|^2 + 2*sum|Xk|^2 + |Xn/2|^2) / n
	n := 256
	x := make([]float64, n)
	for i := range x {
		x[i] = math.Sin(2*math.Pi*float64(i)/float64(n)) + 0.25*math.Cos(2*math.Pi*7*float64(i)/float64(n))
	}

	y := RealFFT(x)

	var sumX, sumY float64
	for _, v := range x {
		sumX += v * v
	}
	for k, v := range y {
		p := real(v)*real(v) + imag(v)*imag(v)
		if k == 0 || k == n/2 {
			sumY += p
		} else {
			sumY += 2 * p
		}
	}
	sumY /= float64(n)

	if math.Abs(sumX-sumY) > 1e-6 {
		t.Errorf("Parseval's theorem violated: sumX=%v, sumY/N=%v", sumX, sumY)
	}
}

func TestMagnitudeSpectrum_Sine(t *testing.T) {
	n := 512
	sampleRate := 8000.0
	bin := 10
	x := make([]float64, n)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * float64(bin) * float64(i) / float64(n))
	}

	freqs, mags := MagnitudeSpectrum(x, sampleRate)
	if len(freqs) != n/2 || len(mags) != n/2 {
		t.Fatalf("spectrum length %d/%d, want %d", len(freqs), len(mags), n/2)
	}

	maxIdx := 0
	for i := range mags {
		if mags[i] > mags[maxIdx] {
			maxIdx = i
		}
	}

	if maxIdx != bin {
		t.Errorf("Peak at index %d, expected %d", maxIdx, bin)
	}
	if want := float64(bin) * sampleRate / float64(n); freqs[maxIdx] != want {
		t.Errorf("Peak frequency %v, expected %v", freqs[maxIdx], want)
	}
}

func TestMagnitudeSpectrum_NonPowerOfTwo(t *testing.T) {
	n := 600
	x := make([]float64, n)
	for i := range x {
		x[i] = math.Cos(2 * math.Pi * 25 * float64(i) / float64(n))
	}

	_, mags := MagnitudeSpectrum(x, 600)
	if math.Abs(mags[25]-float64(n)/2) > 1e-6 {
		t.Errorf("|X[25]| = %v, want %v", mags[25], float64(n)/2)
	}
}
