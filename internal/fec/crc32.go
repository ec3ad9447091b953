package fec

import (
	"encoding/binary"
	"hash/crc32"
)

// ChecksumSize is the length of the integrity trailer.
const ChecksumSize = 4

// Checksum computes CRC-32 over data using the IEEE polynomial.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// AppendChecksum returns data followed by its big-endian CRC-32.
func AppendChecksum(data []byte) []byte {
	out := make([]byte, len(data)+ChecksumSize)
	copy(out, data)
	binary.BigEndian.PutUint32(out[len(data):], Checksum(data))
	return out
}

// SplitChecksum separates the trailer from payload and reports whether it
// matches. Input shorter than the trailer is returned unchanged and invalid.
func SplitChecksum(payload []byte) ([]byte, bool) {
	if len(payload) < ChecksumSize {
		return payload, false
	}
	data := payload[:len(payload)-ChecksumSize]
	want := binary.BigEndian.Uint32(payload[len(data):])
	return data, Checksum(data) == want
}
