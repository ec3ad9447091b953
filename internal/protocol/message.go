package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DecodePass records which error-control pass produced a message.
type DecodePass int

const (
	// PassErasures corrected the declared erasures alone.
	PassErasures DecodePass = iota
	// PassErrata located undeclared errors as well.
	PassErrata
	// PassFallback means both passes failed; Data is the erasure-substituted
	// payload.
	PassFallback
)

// String returns the pass name.
func (p DecodePass) String() string {
	switch p {
	case PassErasures:
		return "erasures"
	case PassErrata:
		return "errata"
	case PassFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p DecodePass) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Message is a fully terminated transmission.
type Message struct {
	ID uuid.UUID `json:"id"`
	// RawData is the demodulated ECC stream before correction.
	RawData []byte `json:"raw_data"`
	// Erasures are the positions in RawData of unrecognized symbols.
	Erasures []int `json:"erasures"`
	// Data is the corrected payload, or the fallback output.
	Data []byte `json:"data"`
	// Corrected are the positions in RawData rebuilt by the codec.
	Corrected []int      `json:"corrected"`
	Pass      DecodePass `json:"pass"`
	// Valid is false after a fallback or a checksum mismatch.
	Valid      bool      `json:"valid"`
	SyncScore  float64   `json:"sync_score"`
	Offset     int64     `json:"offset"`
	ReceivedAt time.Time `json:"received_at"`
}

// Text returns Data as a string.
func (m Message) Text() string { return string(m.Data) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *DecodePass) UnmarshalText(text []byte) error {
	switch string(text) {
	case "erasures":
		*p = PassErasures
	case "errata":
		*p = PassErrata
	case "fallback":
		*p = PassFallback
	default:
		return fmt.Errorf("unknown decode pass %q", text)
	}
	return nil
}
