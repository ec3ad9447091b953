package modem

import (
	"math/bits"
	"strconv"
	"strings"
)

// MaxSymbolSize is the largest supported number of carriers.
const MaxSymbolSize = 32

// Symbol is a set of simultaneously active carriers, stored as a bitmask of
// indices into a FrequencyTable. Two symbols are equal iff their index sets
// are equal. The zero value is NoSymbol.
type Symbol uint32

// NoSymbol marks a block the demodulator could not classify.
const NoSymbol Symbol = 0

// NewSymbol creates a symbol from carrier indices. Indices outside
// [0, MaxSymbolSize) are ignored.
func NewSymbol(indices ...int) Symbol {
	var s Symbol
	for _, i := range indices {
		if i < 0 || i >= MaxSymbolSize {
			continue
		}
		s |= 1 << uint(i)
	}
	return s
}

// Valid reports whether s carries at least one carrier.
func (s Symbol) Valid() bool {
	return s != NoSymbol
}

// Weight returns the number of active carriers.
func (s Symbol) Weight() int {
	return bits.OnesCount32(uint32(s))
}

// Has reports whether carrier i is active.
func (s Symbol) Has(i int) bool {
	if i < 0 || i >= MaxSymbolSize {
		return false
	}
	return s&(1<<uint(i)) != 0
}

// Indices returns the active carrier indices in ascending order.
func (s Symbol) Indices() []int {
	out := make([]int, 0, s.Weight())
	for v := uint32(s); v != 0; v &= v - 1 {
		out = append(out, bits.TrailingZeros32(v))
	}
	return out
}

// Frequencies returns the carrier frequencies of s in the given table.
func (s Symbol) Frequencies(table FrequencyTable) []float64 {
	idx := s.Indices()
	out := make([]float64, 0, len(idx))
	for _, i := range idx {
		if i < table.Len() {
			out = append(out, table.Hz(i))
		}
	}
	return out
}

func (s Symbol) String() string {
	if s == NoSymbol {
		return "{}"
	}
	var b strings.Builder
	b.WriteByte('{')
	for n, i := range s.Indices() {
		if n > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(i))
	}
	b.WriteByte('}')
	return b.String()
}
