package modem

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Engine converts between bytes, symbols and time-domain signals.
//
// Each symbol occupies SamplesPerSymbol samples: a silent guard of
// SamplesPerSymbol/16 samples at both ends and the sum of the symbol's
// carrier sinusoids in between.
//
// Synthesis is safe for concurrent use; analysis (SignalToSymbol and the
// functions built on it) reuses internal buffers and is not.
type Engine struct {
	cfg       Config
	table     FrequencyTable
	alphabet  *Alphabet
	guard     int
	tones     [][]float64 // per-carrier sinusoid over the symbol interior
	preamble  []float64
	analyzer  *spectrumAnalyzer
	threshold float64

	ranked []rankedCarrier
}

type rankedCarrier struct {
	index     int
	magnitude float64
}

// NewEngine validates cfg and builds the frequency table, alphabet and
// preamble.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table, err := NewFrequencyTable(cfg.FrequencyStartHz, cfg.FrequencyEndHz,
		cfg.SymbolSize, cfg.SamplesPerSymbol, cfg.SampleRateHz)
	if err != nil {
		return nil, fmt.Errorf("frequency table: %w", err)
	}
	alphabet, err := NewAlphabet(cfg.SymbolSize, cfg.SymbolWeight)
	if err != nil {
		return nil, fmt.Errorf("alphabet: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		table:     table,
		alphabet:  alphabet,
		guard:     cfg.GuardLength(),
		analyzer:  newSpectrumAnalyzer(cfg.SamplesPerSymbol),
		threshold: cfg.snrThreshold(),
		ranked:    make([]rankedCarrier, table.Len()),
	}

	interior := cfg.SamplesPerSymbol - 2*e.guard
	e.tones = make([][]float64, table.Len())
	for i := range e.tones {
		tone := make([]float64, interior)
		f := table.Hz(i)
		for t := range tone {
			tone[t] = math.Sin(2 * math.Pi * f * float64(t) / cfg.SampleRateHz)
		}
		e.tones[i] = tone
	}

	switch cfg.Preamble {
	case PreambleSyncSymbol:
		e.preamble = e.SymbolToSignal(alphabet.SyncSymbol())
	default:
		e.preamble = Chirp(table.Hz(0), table.Hz(table.Len()-1), cfg.SamplesPerSymbol, cfg.SampleRateHz)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Alphabet returns the byte/symbol mapping.
func (e *Engine) Alphabet() *Alphabet { return e.alphabet }

// FrequencyTable returns the carrier table.
func (e *Engine) FrequencyTable() FrequencyTable { return e.table }

// Frequencies returns the carrier frequencies in Hz.
func (e *Engine) Frequencies() []float64 { return e.table.Frequencies() }

// SamplesPerSymbol returns the symbol length in samples.
func (e *Engine) SamplesPerSymbol() int { return e.cfg.SamplesPerSymbol }

// SampleRate returns the sample rate in Hz.
func (e *Engine) SampleRate() float64 { return e.cfg.SampleRateHz }

// Preamble returns a copy of the synchronization waveform.
func (e *Engine) Preamble() []float64 {
	out := make([]float64, len(e.preamble))
	copy(out, e.preamble)
	return out
}

// TerminationSymbol returns the end-of-message marker symbol.
func (e *Engine) TerminationSymbol() Symbol { return e.alphabet.TerminationSymbol() }

// SyncSymbol returns the reserved sync symbol.
func (e *Engine) SyncSymbol() Symbol { return e.alphabet.SyncSymbol() }

// SymbolToSignal synthesizes one symbol using the configured normalization.
func (e *Engine) SymbolToSignal(s Symbol) []float64 {
	return e.SymbolToSignalNormalized(s, e.cfg.Normalization)
}

// SymbolToSignalNormalized synthesizes one symbol. Peak amplitude never
// exceeds 1.0 for either normalization. NoSymbol yields silence.
func (e *Engine) SymbolToSignalNormalized(s Symbol, norm Normalization) []float64 {
	out := make([]float64, e.cfg.SamplesPerSymbol)
	body := out[e.guard : len(out)-e.guard]

	n := 0
	for _, i := range s.Indices() {
		if i >= len(e.tones) {
			continue
		}
		floats.Add(body, e.tones[i])
		n++
	}
	if n == 0 {
		return out
	}

	switch norm {
	case NormalizeByPeak:
		peak := math.Max(floats.Max(body), -floats.Min(body))
		if peak > 0 {
			floats.Scale(1/peak, body)
		}
	default:
		floats.Scale(1/float64(n), body)
	}
	return out
}

// SymbolsToSignal concatenates the signals of symbols.
func (e *Engine) SymbolsToSignal(symbols []Symbol) []float64 {
	out := make([]float64, 0, len(symbols)*e.cfg.SamplesPerSymbol)
	for _, s := range symbols {
		out = append(out, e.SymbolToSignal(s)...)
	}
	return out
}

// SignalToSymbol classifies exactly one symbol's worth of samples. It keeps
// the carrier bins of the positive-half magnitude spectrum, ranks them, and
// accepts the top weight carriers only if the weakest of them is at least
// SNRThreshold times stronger than the strongest rejected carrier. Ambiguous
// blocks yield NoSymbol.
func (e *Engine) SignalToSymbol(chunk []float64) (Symbol, error) {
	if len(chunk) != e.cfg.SamplesPerSymbol {
		return NoSymbol, fmt.Errorf("%w: expected %d samples, got %d",
			ErrSignalLength, e.cfg.SamplesPerSymbol, len(chunk))
	}
	return e.classify(chunk), nil
}

func (e *Engine) classify(chunk []float64) Symbol {
	mags := e.analyzer.magnitudes(chunk)
	for i := range e.ranked {
		e.ranked[i] = rankedCarrier{index: i, magnitude: mags[e.table.Bin(i)]}
	}
	sort.SliceStable(e.ranked, func(a, b int) bool {
		return e.ranked[a].magnitude > e.ranked[b].magnitude
	})

	w := e.cfg.SymbolWeight
	weakest, strongestRejected := e.ranked[w-1].magnitude, e.ranked[w].magnitude
	if weakest <= 0 {
		return NoSymbol
	}
	if strongestRejected > 0 && weakest/strongestRejected < e.threshold {
		return NoSymbol
	}

	var s Symbol
	for _, r := range e.ranked[:w] {
		s |= 1 << uint(r.index)
	}
	return s
}

// SignalToSymbols zero-pads signal to a whole number of symbols and
// classifies each block.
func (e *Engine) SignalToSymbols(signal []float64) []Symbol {
	n := e.cfg.SamplesPerSymbol
	count := (len(signal) + n - 1) / n
	out := make([]Symbol, 0, count)
	for start := 0; start < len(signal); start += n {
		end := start + n
		if end <= len(signal) {
			out = append(out, e.classify(signal[start:end]))
			continue
		}
		chunk := make([]float64, n)
		copy(chunk, signal[start:])
		out = append(out, e.classify(chunk))
	}
	return out
}

// DataToSignal modulates bytes without preamble or markers.
func (e *Engine) DataToSignal(data []byte) []float64 {
	return e.SymbolsToSignal(e.alphabet.BytesToSymbols(data))
}

// StripMarkers removes one leading sync symbol and one trailing termination
// symbol when present.
func (e *Engine) StripMarkers(symbols []Symbol) []Symbol {
	if len(symbols) > 0 && symbols[len(symbols)-1] == e.alphabet.TerminationSymbol() {
		symbols = symbols[:len(symbols)-1]
	}
	if len(symbols) > 0 && symbols[0] == e.alphabet.SyncSymbol() {
		symbols = symbols[1:]
	}
	return symbols
}

// SignalToData demodulates signal, strips markers and maps symbols to bytes.
// The erasure list holds the positions of unrecognized symbols.
func (e *Engine) SignalToData(signal []float64) ([]byte, []int) {
	return e.alphabet.SymbolsToBytes(e.StripMarkers(e.SignalToSymbols(signal)))
}
