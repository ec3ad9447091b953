package modem

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/stat/combin"
)

// DefaultSNRThreshold is used when Config.SNRThreshold is zero.
const DefaultSNRThreshold = 1.0

// Normalization selects how synthesized tones are scaled into [-1, 1].
type Normalization int

const (
	// NormalizeByWeight divides the tone sum by the symbol weight.
	NormalizeByWeight Normalization = iota
	// NormalizeByPeak divides the tone sum by its largest absolute sample.
	NormalizeByPeak
)

// String returns the normalization name.
func (n Normalization) String() string {
	switch n {
	case NormalizeByWeight:
		return "weight"
	case NormalizeByPeak:
		return "peak"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (n Normalization) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Normalization) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "weight":
		*n = NormalizeByWeight
	case "peak":
		*n = NormalizeByPeak
	default:
		return fmt.Errorf("%w: unknown normalization %q", ErrInvalidConfig, text)
	}
	return nil
}

// PreambleKind selects the synchronization waveform.
type PreambleKind int

const (
	// PreambleChirp is a linear sweep across the carrier band over one symbol.
	PreambleChirp PreambleKind = iota
	// PreambleSyncSymbol is the synthesized reserved sync symbol.
	PreambleSyncSymbol
)

// String returns the preamble name.
func (k PreambleKind) String() string {
	switch k {
	case PreambleChirp:
		return "chirp"
	case PreambleSyncSymbol:
		return "sync-symbol"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k PreambleKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PreambleKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "chirp":
		*k = PreambleChirp
	case "sync-symbol", "sync_symbol", "sync":
		*k = PreambleSyncSymbol
	default:
		return fmt.Errorf("%w: unknown preamble %q", ErrInvalidConfig, text)
	}
	return nil
}

// Config holds the modulation engine parameters.
type Config struct {
	SymbolWeight     int           `yaml:"symbol_weight"`
	SymbolSize       int           `yaml:"symbol_size"`
	SamplesPerSymbol int           `yaml:"samples_per_symbol"`
	SampleRateHz     float64       `yaml:"sample_rate_hz"`
	FrequencyStartHz float64       `yaml:"frequency_range_start_hz"`
	FrequencyEndHz   float64       `yaml:"frequency_range_end_hz"`
	SNRThreshold     float64       `yaml:"snr_threshold"`
	Normalization    Normalization `yaml:"normalization"`
	Preamble         PreambleKind  `yaml:"preamble"`
}

// GuardLength returns the silent guard inserted at each end of a symbol.
func (c Config) GuardLength() int {
	return c.SamplesPerSymbol / 16
}

// Validate checks the parameters that do not depend on the frequency table.
func (c Config) Validate() error {
	if c.SymbolSize <= 1 || c.SymbolSize > MaxSymbolSize {
		return fmt.Errorf("%w: symbol_size %d outside [2, %d]", ErrInvalidConfig, c.SymbolSize, MaxSymbolSize)
	}
	if c.SymbolWeight < 1 || c.SymbolWeight >= c.SymbolSize {
		return fmt.Errorf("%w: symbol_weight %d outside [1, %d)", ErrInvalidConfig, c.SymbolWeight, c.SymbolSize)
	}
	if n := combin.Binomial(c.SymbolSize, c.SymbolWeight); n < AlphabetSize {
		return fmt.Errorf("%w: C(%d,%d)=%d < %d symbols required",
			ErrInvalidConfig, c.SymbolSize, c.SymbolWeight, n, AlphabetSize)
	}
	if c.SamplesPerSymbol < 32 {
		return fmt.Errorf("%w: samples_per_symbol %d below 32", ErrInvalidConfig, c.SamplesPerSymbol)
	}
	if c.SampleRateHz <= 0 {
		return fmt.Errorf("%w: sample_rate_hz must be positive", ErrInvalidConfig)
	}
	if c.SNRThreshold < 0 {
		return fmt.Errorf("%w: snr_threshold must not be negative", ErrInvalidConfig)
	}
	if c.Normalization != NormalizeByWeight && c.Normalization != NormalizeByPeak {
		return fmt.Errorf("%w: normalization %d", ErrInvalidConfig, c.Normalization)
	}
	if c.Preamble != PreambleChirp && c.Preamble != PreambleSyncSymbol {
		return fmt.Errorf("%w: preamble %d", ErrInvalidConfig, c.Preamble)
	}
	return nil
}

func (c Config) snrThreshold() float64 {
	if c.SNRThreshold == 0 {
		return DefaultSNRThreshold
	}
	return c.SNRThreshold
}
