package protocol

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeongseonghan/tonemodem/internal/fec"
	"github.com/jeongseonghan/tonemodem/internal/modem"
)

// Transmitter turns payloads into complete transmissions:
//
//	N × preamble | payload symbols | termination symbol | preamble | silence
//
// The trailing preamble marks the end of the message; the short silence
// after it lets a receiver confirm the marker peak without further input.
// A Transmitter holds no per-message state and is safe for concurrent use.
type Transmitter struct {
	cfg    Config
	engine *modem.Engine
	codec  *fec.Codec
	log    logrus.FieldLogger
}

// NewTransmitter creates a transmitter. A nil logger uses the logrus
// standard logger.
func NewTransmitter(cfg Config, log logrus.FieldLogger) (*Transmitter, error) {
	engine, codec, err := cfg.build()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Transmitter{
		cfg:    cfg,
		engine: engine,
		codec:  codec,
		log:    log.WithField("component", "transmitter"),
	}, nil
}

// Engine returns the modulation engine.
func (t *Transmitter) Engine() *modem.Engine { return t.engine }

// Encode applies the optional checksum and ECC to payload.
func (t *Transmitter) Encode(payload []byte) ([]byte, error) {
	if t.cfg.AppendChecksum {
		payload = fec.AppendChecksum(payload)
	}
	encoded, err := t.codec.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("ecc encode: %w", err)
	}
	return encoded, nil
}

// Transmit returns the full signal for payload.
func (t *Transmitter) Transmit(payload []byte) ([]float64, error) {
	encoded, err := t.Encode(payload)
	if err != nil {
		return nil, err
	}

	sps := t.engine.SamplesPerSymbol()
	preamble := t.engine.Preamble()
	tail := t.cfg.RefineWindow()
	n := (t.cfg.PreambleRepeat+len(encoded)+2)*sps + tail

	signal := make([]float64, 0, n)
	for i := 0; i < t.cfg.PreambleRepeat; i++ {
		signal = append(signal, preamble...)
	}
	signal = append(signal, t.engine.DataToSignal(encoded)...)
	signal = append(signal, t.engine.SymbolToSignal(t.engine.TerminationSymbol())...)
	signal = append(signal, preamble...)
	signal = append(signal, make([]float64, tail)...)

	t.log.WithFields(logrus.Fields{
		"bytes":    len(payload),
		"encoded":  len(encoded),
		"samples":  len(signal),
		"duration": t.Duration(len(signal)),
	}).Debug("Transmission built")
	return signal, nil
}

// TransmitString is Transmit for text payloads.
func (t *Transmitter) TransmitString(s string) ([]float64, error) {
	return t.Transmit([]byte(s))
}

// TransmitPCM returns the transmission as 16-bit little-endian mono PCM.
func (t *Transmitter) TransmitPCM(payload []byte) ([]byte, error) {
	signal, err := t.Transmit(payload)
	if err != nil {
		return nil, err
	}
	return modem.SignalToPCM(signal), nil
}

// Duration returns the playback time of n samples.
func (t *Transmitter) Duration(n int) time.Duration {
	return time.Duration(float64(n) / t.engine.SampleRate() * float64(time.Second))
}
