package fec

import (
	"errors"
	"fmt"
	"sort"

	"github.com/klauspost/reedsolomon"
	"gonum.org/v1/gonum/stat/combin"
)

// Block Reed-Solomon over GF(2^8) with one byte per shard.
//
// The payload is split into chunks of BlockSize-ParitySymbols bytes and each
// chunk is followed by its ParitySymbols parity bytes. The last chunk may be
// shorter; it is encoded as a full chunk whose missing tail is known to be
// zero, so the transmitted block is shortened rather than padded.

const (
	DefaultBlockSize     = 15
	DefaultParitySymbols = 5

	// Placeholder replaces erased data bytes in fallback output.
	Placeholder = '?'

	// searchBudget caps the reconstructions tried per block while locating
	// undeclared errors.
	searchBudget = 1 << 16
)

var (
	// ErrUncorrectable is returned when a block holds more errata than the
	// code can correct.
	ErrUncorrectable = errors.New("fec: uncorrectable block")

	// ErrInvalidLength is returned when an encoded stream cannot be split
	// into blocks.
	ErrInvalidLength = errors.New("fec: invalid encoded length")

	// ErrInvalidConfig is returned for unusable block parameters.
	ErrInvalidConfig = errors.New("fec: invalid configuration")
)

// Mode selects how much correction Decode attempts.
type Mode int

const (
	// ErasuresOnly fills declared erasures and rejects any block that still
	// fails verification.
	ErasuresOnly Mode = iota
	// Errata additionally searches for undeclared errors.
	Errata
)

func (m Mode) String() string {
	switch m {
	case ErasuresOnly:
		return "erasures"
	case Errata:
		return "errata"
	default:
		return "unknown"
	}
}

// Config holds the block parameters.
type Config struct {
	BlockSize     int `yaml:"ecc_block"`
	ParitySymbols int `yaml:"ecc_symbols"`
}

// DefaultConfig returns RS(15, 10).
func DefaultConfig() Config {
	return Config{BlockSize: DefaultBlockSize, ParitySymbols: DefaultParitySymbols}
}

// Validate checks the block parameters.
func (c Config) Validate() error {
	if c.ParitySymbols < 1 {
		return fmt.Errorf("%w: ecc_symbols %d must be at least 1", ErrInvalidConfig, c.ParitySymbols)
	}
	if c.BlockSize <= c.ParitySymbols || c.BlockSize > 255 {
		return fmt.Errorf("%w: ecc_block %d must be in (%d, 255]", ErrInvalidConfig, c.BlockSize, c.ParitySymbols)
	}
	return nil
}

// Decoded is the output of a successful Decode.
type Decoded struct {
	Data []byte
	// Corrected lists the positions in the encoded stream whose bytes were
	// rebuilt, in ascending order.
	Corrected []int
}

// Codec encodes and decodes block Reed-Solomon streams. It is safe for
// concurrent use.
type Codec struct {
	enc        reedsolomon.Encoder
	blockSize  int
	dataShards int
	parShards  int
}

// NewCodec creates a codec for cfg.
func NewCodec(cfg Config) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k := cfg.BlockSize - cfg.ParitySymbols
	enc, err := reedsolomon.New(k, cfg.ParitySymbols)
	if err != nil {
		return nil, fmt.Errorf("create reed-solomon encoder: %w", err)
	}
	return &Codec{
		enc:        enc,
		blockSize:  cfg.BlockSize,
		dataShards: k,
		parShards:  cfg.ParitySymbols,
	}, nil
}

// BlockSize returns the encoded length of a full block.
func (c *Codec) BlockSize() int { return c.blockSize }

// DataShards returns the number of payload bytes in a full block.
func (c *Codec) DataShards() int { return c.dataShards }

// ParityShards returns the number of parity bytes per block.
func (c *Codec) ParityShards() int { return c.parShards }

// EncodedLen returns the encoded length of an n-byte payload.
func (c *Codec) EncodedLen(n int) int {
	blocks := (n + c.dataShards - 1) / c.dataShards
	return n + blocks*c.parShards
}

// DataLen returns the payload length carried by an n-byte encoded stream.
func (c *Codec) DataLen(n int) (int, error) {
	rem := n % c.blockSize
	if rem != 0 && rem <= c.parShards {
		return 0, fmt.Errorf("%w: %d bytes leaves a %d-byte final block", ErrInvalidLength, n, rem)
	}
	blocks := (n + c.blockSize - 1) / c.blockSize
	return n - blocks*c.parShards, nil
}

// IsParity reports whether position pos of an n-byte encoded stream holds a
// parity byte.
func (c *Codec) IsParity(pos, n int) bool {
	if pos < 0 || pos >= n {
		return false
	}
	start := pos - pos%c.blockSize
	end := min(start+c.blockSize, n)
	return pos >= end-c.parShards
}

// Encode appends parity to every chunk of data.
func (c *Codec) Encode(data []byte) ([]byte, error) {
	out := make([]byte, 0, c.EncodedLen(len(data)))
	shards := c.newShards()
	for start := 0; start < len(data); start += c.dataShards {
		chunk := data[start:min(start+c.dataShards, len(data))]
		for i := range shards {
			shards[i][0] = 0
		}
		for i, b := range chunk {
			shards[i][0] = b
		}
		if err := c.enc.Encode(shards); err != nil {
			return nil, fmt.Errorf("encode block: %w", err)
		}
		out = append(out, chunk...)
		for _, s := range shards[c.dataShards:] {
			out = append(out, s[0])
		}
	}
	return out, nil
}

// Decode recovers the payload from an encoded stream. Erasures are stream
// positions known to be unreliable; out-of-range positions are ignored.
// Every block must decode for the call to succeed.
func (c *Codec) Decode(encoded []byte, erasures []int, mode Mode) (Decoded, error) {
	dataLen, err := c.DataLen(len(encoded))
	if err != nil {
		return Decoded{}, err
	}

	perBlock := c.splitErasures(erasures, len(encoded))
	result := Decoded{Data: make([]byte, 0, dataLen)}
	for b, start := 0, 0; start < len(encoded); b, start = b+1, start+c.blockSize {
		block := encoded[start:min(start+c.blockSize, len(encoded))]
		data, fixed, err := c.decodeBlock(block, perBlock[b], mode)
		if err != nil {
			return Decoded{}, fmt.Errorf("block %d: %w", b, err)
		}
		result.Data = append(result.Data, data...)
		for _, off := range fixed {
			result.Corrected = append(result.Corrected, start+off)
		}
	}
	return result, nil
}

// Fallback strips parity without correcting anything and replaces erased
// payload bytes with Placeholder.
func (c *Codec) Fallback(encoded []byte, erasures []int) []byte {
	erased := make(map[int]bool, len(erasures))
	for _, p := range erasures {
		erased[p] = true
	}
	out := make([]byte, 0, len(encoded))
	for pos, b := range encoded {
		if c.IsParity(pos, len(encoded)) {
			continue
		}
		if erased[pos] {
			b = Placeholder
		}
		out = append(out, b)
	}
	return out
}

func (c *Codec) newShards() [][]byte {
	shards := make([][]byte, c.dataShards+c.parShards)
	for i := range shards {
		shards[i] = make([]byte, 1)
	}
	return shards
}

func (c *Codec) splitErasures(erasures []int, n int) map[int][]int {
	out := make(map[int][]int)
	seen := make(map[int]bool, len(erasures))
	for _, p := range erasures {
		if p < 0 || p >= n || seen[p] {
			continue
		}
		seen[p] = true
		out[p/c.blockSize] = append(out[p/c.blockSize], p%c.blockSize)
	}
	for _, offs := range out {
		sort.Ints(offs)
	}
	return out
}

// shardIndex maps a block offset to its shard for a block carrying m data
// bytes.
func (c *Codec) shardIndex(off, m int) int {
	if off < m {
		return off
	}
	return c.dataShards + off - m
}

// decodeBlock corrects one block and returns its payload and the block
// offsets that were rebuilt.
func (c *Codec) decodeBlock(block []byte, erased []int, mode Mode) ([]byte, []int, error) {
	m := len(block) - c.parShards
	received := make([][]byte, c.dataShards+c.parShards)
	for i := range received {
		received[i] = []byte{0}
	}
	for off, b := range block {
		received[c.shardIndex(off, m)][0] = b
	}

	if len(erased) > c.parShards {
		return nil, nil, fmt.Errorf("%w: %d erasures, %d parity symbols", ErrUncorrectable, len(erased), c.parShards)
	}

	missing := make([]int, 0, c.parShards)
	for _, off := range erased {
		missing = append(missing, c.shardIndex(off, m))
	}
	if shards, ok := c.tryReconstruct(received, missing); ok {
		return c.collect(shards, m), erased, nil
	}
	if mode != Errata {
		return nil, nil, fmt.Errorf("%w: erasures do not account for all errors", ErrUncorrectable)
	}

	isErased := make(map[int]bool, len(erased))
	for _, off := range erased {
		isErased[off] = true
	}
	candidates := make([]int, 0, len(block))
	for off := range block {
		if !isErased[off] {
			candidates = append(candidates, off)
		}
	}

	budget := searchBudget
	for t := 1; 2*t+len(erased) <= c.parShards && t <= len(candidates); t++ {
		gen := combin.NewCombinationGenerator(len(candidates), t)
		pick := make([]int, t)
		for gen.Next() {
			if budget == 0 {
				return nil, nil, fmt.Errorf("%w: error search budget exhausted", ErrUncorrectable)
			}
			budget--

			gen.Combination(pick)
			trial := make([]int, 0, len(missing)+t)
			trial = append(trial, missing...)
			for _, i := range pick {
				trial = append(trial, c.shardIndex(candidates[i], m))
			}
			shards, ok := c.tryReconstruct(received, trial)
			if !ok {
				continue
			}
			fixed := append([]int(nil), erased...)
			for _, i := range pick {
				fixed = append(fixed, candidates[i])
			}
			sort.Ints(fixed)
			return c.collect(shards, m), fixed, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: no errata pattern within capacity", ErrUncorrectable)
}

// tryReconstruct rebuilds the missing shards of a copy of received and
// reports whether the result is a valid codeword.
func (c *Codec) tryReconstruct(received [][]byte, missing []int) ([][]byte, bool) {
	shards := make([][]byte, len(received))
	for i, s := range received {
		shards[i] = []byte{s[0]}
	}
	for _, i := range missing {
		shards[i] = nil
	}
	if err := c.enc.Reconstruct(shards); err != nil {
		return nil, false
	}
	ok, err := c.enc.Verify(shards)
	if err != nil || !ok {
		return nil, false
	}
	return shards, true
}

func (c *Codec) collect(shards [][]byte, m int) []byte {
	out := make([]byte, m)
	for i := range out {
		out[i] = shards[i][0]
	}
	return out
}
