package modem

import (
	"fmt"

	"gonum.org/v1/gonum/stat/combin"
)

// Alphabet layout
const (
	CharacterSpace   = 256                // byte values 0..255
	SyncIndex        = CharacterSpace     // reserved sync marker
	TerminationIndex = CharacterSpace + 1 // reserved end-of-message marker
	AlphabetSize     = CharacterSpace + 2

	// UnrecognizedByte stands in for symbols outside the byte alphabet.
	UnrecognizedByte byte = 0xFF
)

// Combinations enumerates every weight-sized subset of {0..size-1} in
// lexicographic order, one Symbol per subset.
func Combinations(size, weight int) []Symbol {
	if size <= 0 || size > MaxSymbolSize || weight <= 0 || weight > size {
		return nil
	}
	return combinationsUpTo(size, weight, combin.Binomial(size, weight))
}

func combinationsUpTo(size, weight, limit int) []Symbol {
	gen := combin.NewCombinationGenerator(size, weight)
	out := make([]Symbol, 0, limit)
	idx := make([]int, weight)
	for len(out) < limit && gen.Next() {
		out = append(out, NewSymbol(gen.Combination(idx)...))
	}
	return out
}

// Alphabet maps byte values to fixed-weight symbols. The first 256 entries of
// the combinatorial table carry bytes; the next two are the sync and
// termination markers.
type Alphabet struct {
	size    int
	weight  int
	symbols []Symbol
	values  map[Symbol]int
}

// NewAlphabet builds the alphabet for the given carrier count and weight.
func NewAlphabet(size, weight int) (*Alphabet, error) {
	if size <= 1 || size > MaxSymbolSize {
		return nil, fmt.Errorf("%w: symbol size %d outside [2, %d]", ErrInvalidConfig, size, MaxSymbolSize)
	}
	if weight < 1 || weight >= size {
		return nil, fmt.Errorf("%w: symbol weight %d outside [1, %d)", ErrInvalidConfig, weight, size)
	}
	if n := combin.Binomial(size, weight); n < AlphabetSize {
		return nil, fmt.Errorf("%w: C(%d,%d)=%d < %d symbols required",
			ErrInvalidConfig, size, weight, n, AlphabetSize)
	}

	a := &Alphabet{
		size:    size,
		weight:  weight,
		symbols: combinationsUpTo(size, weight, AlphabetSize),
		values:  make(map[Symbol]int, AlphabetSize),
	}
	for i, s := range a.symbols {
		a.values[s] = i
	}
	return a, nil
}

// Size returns the number of carriers.
func (a *Alphabet) Size() int { return a.size }

// Weight returns the number of active carriers per symbol.
func (a *Alphabet) Weight() int { return a.weight }

// Symbols returns the alphabet table including the two reserved markers.
func (a *Alphabet) Symbols() []Symbol {
	out := make([]Symbol, len(a.symbols))
	copy(out, a.symbols)
	return out
}

// SyncSymbol returns the reserved sync marker.
func (a *Alphabet) SyncSymbol() Symbol { return a.symbols[SyncIndex] }

// TerminationSymbol returns the reserved end-of-message marker.
func (a *Alphabet) TerminationSymbol() Symbol { return a.symbols[TerminationIndex] }

// ValueToSymbol looks up a byte value. Values outside the character space
// yield NoSymbol and false.
func (a *Alphabet) ValueToSymbol(v int) (Symbol, bool) {
	if v < 0 || v >= CharacterSpace {
		return NoSymbol, false
	}
	return a.symbols[v], true
}

// ByteToSymbol maps a byte to its symbol.
func (a *Alphabet) ByteToSymbol(b byte) Symbol {
	s, _ := a.ValueToSymbol(int(b))
	return s
}

// SymbolToByte maps a symbol back to its byte. Reserved markers, NoSymbol and
// symbols outside the table are unrecognized.
func (a *Alphabet) SymbolToByte(s Symbol) (byte, bool) {
	v, ok := a.values[s]
	if !ok || v >= CharacterSpace {
		return UnrecognizedByte, false
	}
	return byte(v), true
}

// BytesToSymbols maps each byte in data to its symbol.
func (a *Alphabet) BytesToSymbols(data []byte) []Symbol {
	out := make([]Symbol, len(data))
	for i, b := range data {
		out[i] = a.symbols[b]
	}
	return out
}

// SymbolsToBytes maps symbols back to bytes. Every unrecognized position is
// written as UnrecognizedByte and reported in the ascending erasure list.
func (a *Alphabet) SymbolsToBytes(symbols []Symbol) ([]byte, []int) {
	data := make([]byte, len(symbols))
	var erasures []int
	for i, s := range symbols {
		b, ok := a.SymbolToByte(s)
		if !ok {
			erasures = append(erasures, i)
		}
		data[i] = b
	}
	return data, erasures
}
