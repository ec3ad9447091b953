package protocol

import (
	"fmt"

	"github.com/jeongseonghan/tonemodem/internal/fec"
	"github.com/jeongseonghan/tonemodem/internal/modem"
)

// Link defaults.
const (
	DefaultCorrelationThreshold = 0.6
	DefaultPreambleRepeat       = 2
	// DefaultMaxMessageSamples bounds an unterminated message to one minute
	// at 16 kHz.
	DefaultMaxMessageSamples = 60 * 16000

	// SyncSymbolMargin is how far a sync-symbol threshold must sit above
	// the (w-1)/w correlation of a data symbol sharing all but one tone.
	SyncSymbolMargin = 0.1
)

// Config is the complete parameter set shared by both ends of a link.
// Transmitter and Receiver must be built from equal configurations.
type Config struct {
	Modem modem.Config `yaml:",inline"`
	ECC   fec.Config   `yaml:",inline"`

	// CorrelationThreshold is the minimum normalized correlation that
	// declares a preamble.
	CorrelationThreshold float64 `yaml:"correlation_threshold"`
	// PreambleRepeat is the number of leading preamble copies.
	PreambleRepeat int `yaml:"preamble_repeat"`
	// MaxMessageSamples caps the samples buffered while synced; an
	// unterminated message longer than this is dropped. Zero disables the cap.
	MaxMessageSamples int `yaml:"max_message_samples"`
	// AppendChecksum adds a CRC-32 trailer to the payload before ECC.
	AppendChecksum bool `yaml:"append_checksum"`
}

// DefaultConfig returns the canonical 16-carrier, weight-3 preset at
// 16 kHz with RS(15, 10).
func DefaultConfig() Config {
	return Config{
		Modem: modem.Config{
			SymbolWeight:     3,
			SymbolSize:       16,
			SamplesPerSymbol: 4096,
			SampleRateHz:     16000,
			FrequencyStartHz: 2000,
			FrequencyEndHz:   6000,
			SNRThreshold:     2,
			Normalization:    modem.NormalizeByWeight,
			Preamble:         modem.PreambleChirp,
		},
		ECC:                  fec.DefaultConfig(),
		CorrelationThreshold: DefaultCorrelationThreshold,
		PreambleRepeat:       DefaultPreambleRepeat,
		MaxMessageSamples:    DefaultMaxMessageSamples,
	}
}

// Validate checks every parameter that can be checked without building the
// engine.
func (c Config) Validate() error {
	if err := c.Modem.Validate(); err != nil {
		return err
	}
	if err := c.ECC.Validate(); err != nil {
		return err
	}
	if c.CorrelationThreshold <= 0 || c.CorrelationThreshold > 1 {
		return fmt.Errorf("%w: correlation_threshold %g outside (0, 1]",
			modem.ErrInvalidConfig, c.CorrelationThreshold)
	}
	if c.Modem.Preamble == modem.PreambleSyncSymbol {
		if floor := c.SyncSymbolThresholdFloor(); c.CorrelationThreshold <= floor {
			return fmt.Errorf("%w: correlation_threshold %g must exceed %.3g with the sync-symbol preamble",
				modem.ErrInvalidConfig, c.CorrelationThreshold, floor)
		}
	}
	if c.PreambleRepeat < 1 {
		return fmt.Errorf("%w: preamble_repeat %d must be at least 1", modem.ErrInvalidConfig, c.PreambleRepeat)
	}
	if c.MaxMessageSamples < 0 {
		return fmt.Errorf("%w: max_message_samples must not be negative", modem.ErrInvalidConfig)
	}
	if c.MaxMessageSamples > 0 && c.MaxMessageSamples < 4*c.Modem.SamplesPerSymbol {
		return fmt.Errorf("%w: max_message_samples %d below four symbols",
			modem.ErrInvalidConfig, c.MaxMessageSamples)
	}
	return nil
}

// SyncSymbolThresholdFloor returns the correlation threshold a sync-symbol
// preamble must exceed for data symbols not to be taken for it.
func (c Config) SyncSymbolThresholdFloor() float64 {
	w := float64(c.Modem.SymbolWeight)
	return (w-1)/w + SyncSymbolMargin
}

// RefineWindow returns the number of lags searched past a threshold
// crossing for the correlation peak. It is also the silence that follows a
// transmission, so the trailing preamble can be refined. A chirp peaks
// within the symbol guard of its first crossing; a multi-tone sync symbol
// can cross one tone period early, up to a whole symbol.
func (c Config) RefineWindow() int {
	if c.Modem.Preamble == modem.PreambleSyncSymbol {
		return c.Modem.SamplesPerSymbol - 1
	}
	return c.Modem.GuardLength()
}

// build validates c and constructs the shared engine and codec.
func (c Config) build() (*modem.Engine, *fec.Codec, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	engine, err := modem.NewEngine(c.Modem)
	if err != nil {
		return nil, nil, fmt.Errorf("create engine: %w", err)
	}
	codec, err := fec.NewCodec(c.ECC)
	if err != nil {
		return nil, nil, fmt.Errorf("create codec: %w", err)
	}
	return engine, codec, nil
}
