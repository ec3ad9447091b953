package modem

import "errors"

var (
	// ErrInvalidConfig is returned when engine parameters are inconsistent.
	ErrInvalidConfig = errors.New("modem: invalid configuration")

	// ErrOffBin is returned when a carrier frequency does not fall on an FFT bin center.
	ErrOffBin = errors.New("modem: carrier frequency not on an FFT bin")

	// ErrSignalLength is returned when a symbol chunk has the wrong number of samples.
	ErrSignalLength = errors.New("modem: unexpected signal length")

	// ErrFlatPreamble is returned when a correlation template has no variance.
	ErrFlatPreamble = errors.New("modem: preamble has zero variance")
)
