package protocol

import (
	"io"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeongseonghan/tonemodem/internal/fec"
	"github.com/jeongseonghan/tonemodem/internal/modem"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newLink(t *testing.T, cfg Config) (*Transmitter, *Receiver) {
	t.Helper()
	tx, err := NewTransmitter(cfg, quietLogger())
	require.NoError(t, err)
	rx, err := NewReceiver(cfg, quietLogger())
	require.NoError(t, err)
	return tx, rx
}

// feed delivers signal in chunks of the given sizes, cycling through them.
func feed(rx *Receiver, signal []float64, sizes ...int) {
	for i, pos := 0, 0; pos < len(signal); i++ {
		n := sizes[i%len(sizes)]
		end := min(pos+n, len(signal))
		rx.ReceiveBuffer(signal[pos:end])
		pos = end
	}
}

func noise(rng *rand.Rand, n int, sigma float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = sigma * rng.NormFloat64()
	}
	return out
}

// replaceSymbol overwrites payload symbol i of a transmission.
func replaceSymbol(t *testing.T, cfg Config, signal []float64, i int, with []float64) {
	t.Helper()
	sps := cfg.Modem.SamplesPerSymbol
	start := (cfg.PreambleRepeat + i) * sps
	require.Len(t, with, sps)
	copy(signal[start:start+sps], with)
}

func TestTransmitReceive_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	tx, rx := newLink(t, cfg)

	var got []Message
	rx.OnMessage = func(msg Message) { got = append(got, msg) }

	payload := "Hello, acoustic modem!"
	signal, err := tx.TransmitString(payload)
	require.NoError(t, err)

	rx.ReceiveBuffer(signal)

	require.Len(t, got, 1)
	msg := got[0]
	assert.Equal(t, payload, msg.Text())
	assert.Equal(t, PassErasures, msg.Pass)
	assert.True(t, msg.Valid)
	assert.Empty(t, msg.Erasures)
	assert.Empty(t, msg.Corrected)
	assert.Len(t, msg.RawData, 22+3*5)
	assert.Greater(t, msg.SyncScore, 0.99)
	assert.Equal(t, int64(cfg.PreambleRepeat*cfg.Modem.SamplesPerSymbol), msg.Offset)
	assert.NotEqual(t, [16]byte{}, [16]byte(msg.ID))

	assert.False(t, rx.IsSynchronized())
	assert.Equal(t, got, rx.History())
}

func TestReceiver_NoisePrefixInvariance(t *testing.T) {
	cfg := DefaultConfig()
	tx, _ := newLink(t, cfg)
	sps := cfg.Modem.SamplesPerSymbol

	signal, err := tx.TransmitString("Hi")
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(11))
	prefix := noise(rng, 10007, 0.3)
	noisy := append(append([]float64(nil), prefix...), signal...)

	tests := []struct {
		name   string
		input  []float64
		sizes  []int
		offset int64
	}{
		{"clean whole", signal, []int{len(signal)}, int64(2 * sps)},
		{"noisy whole", noisy, []int{len(noisy)}, int64(len(prefix) + 2*sps)},
		{"noisy symbol chunks", noisy, []int{sps}, int64(len(prefix) + 2*sps)},
		{"noisy odd chunks", noisy, []int{1000, 333, 4097, 97}, int64(len(prefix) + 2*sps)},
		{"noisy tiny chunks", noisy, []int{61}, int64(len(prefix) + 2*sps)},
	}

	var reference []modem.Symbol
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rx, err := NewReceiver(cfg, quietLogger())
			require.NoError(t, err)

			var transitions []SyncState
			rx.OnStateChange = func(state SyncState, _ float64) {
				transitions = append(transitions, state)
			}

			feed(rx, tt.input, tt.sizes...)

			assert.Equal(t, []SyncState{StateSynced, StateUnsynced}, transitions,
				"sync must be acquired exactly once")
			history := rx.History()
			require.Len(t, history, 1)
			assert.Equal(t, "Hi", history[0].Text())
			assert.Equal(t, tt.offset, history[0].Offset)

			symbols := rx.Engine().Alphabet().BytesToSymbols(history[0].RawData)
			if reference == nil {
				reference = symbols
			}
			assert.Equal(t, reference, symbols)
		})
	}
}

func TestReceiver_SyncSymbolPreamble(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Modem.Preamble = modem.PreambleSyncSymbol
	cfg.CorrelationThreshold = 0.8
	tx, _ := newLink(t, cfg)
	sps := cfg.Modem.SamplesPerSymbol

	signal, err := tx.TransmitString("Hi there")
	require.NoError(t, err)
	assert.Len(t, signal, (cfg.PreambleRepeat+len(mustEncode(t, tx, "Hi there"))+2)*sps+sps-1)

	rng := rand.New(rand.NewSource(5))
	noisy := append(noise(rng, 5000, 0.1), signal...)

	for _, sizes := range [][]int{{777}, {len(noisy)}, {sps}} {
		rx, err := NewReceiver(cfg, quietLogger())
		require.NoError(t, err)
		feed(rx, noisy, sizes...)

		history := rx.History()
		require.Len(t, history, 1, "chunks %v", sizes)
		assert.Equal(t, "Hi there", history[0].Text())
		assert.True(t, history[0].Valid)
		assert.Equal(t, PassErasures, history[0].Pass)
		assert.Empty(t, history[0].Erasures)
		assert.Equal(t, int64(5000+2*sps), history[0].Offset)
		assert.False(t, rx.IsSynchronized())
	}
}

func mustEncode(t *testing.T, tx *Transmitter, s string) []byte {
	t.Helper()
	encoded, err := tx.Encode([]byte(s))
	require.NoError(t, err)
	return encoded
}

func TestReceiver_HiScenario(t *testing.T) {
	cfg := DefaultConfig()
	tx, _ := newLink(t, cfg)
	engine := tx.Engine()
	// four equal carriers never classify as a weight-3 symbol
	ambiguous := engine.SymbolToSignal(modem.NewSymbol(0, 5, 10, 15))

	tests := []struct {
		name      string
		corrupt   []int
		wantText  string
		wantPass  DecodePass
		wantValid bool
	}{
		{"clean", nil, "Hi", PassErasures, true},
		{"one symbol", []int{0}, "Hi", PassErasures, true},
		{"two symbols", []int{0, 1}, "Hi", PassErasures, true},
		{"parity symbols", []int{2, 6}, "Hi", PassErasures, true},
		{"five symbols", []int{0, 1, 2, 3, 4}, "Hi", PassErasures, true},
		{"beyond capacity", []int{0, 2, 3, 4, 5, 6}, "?i", PassFallback, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signal, err := tx.TransmitString("Hi")
			require.NoError(t, err)
			for _, i := range tt.corrupt {
				replaceSymbol(t, cfg, signal, i, ambiguous)
			}

			rx, err := NewReceiver(cfg, quietLogger())
			require.NoError(t, err)
			feed(rx, signal, 2048)

			history := rx.History()
			require.Len(t, history, 1)
			msg := history[0]
			assert.Equal(t, tt.wantText, msg.Text())
			assert.Equal(t, tt.wantPass, msg.Pass)
			assert.Equal(t, tt.wantValid, msg.Valid)
			if tt.corrupt == nil {
				assert.Empty(t, msg.Erasures)
			} else {
				assert.Equal(t, tt.corrupt, msg.Erasures)
			}
		})
	}
}

func TestReceiver_ErrataPass(t *testing.T) {
	cfg := DefaultConfig()
	tx, rx := newLink(t, cfg)
	engine := tx.Engine()

	signal, err := tx.TransmitString("Hi")
	require.NoError(t, err)
	encoded, err := tx.Encode([]byte("Hi"))
	require.NoError(t, err)

	// undeclared errors: valid symbols carrying the wrong bytes
	alphabet := engine.Alphabet()
	replaceSymbol(t, cfg, signal, 0, engine.SymbolToSignal(alphabet.ByteToSymbol('X')))
	replaceSymbol(t, cfg, signal, 4, engine.SymbolToSignal(alphabet.ByteToSymbol(encoded[4]^0x01)))

	rx.ReceiveBuffer(signal)

	history := rx.History()
	require.Len(t, history, 1)
	msg := history[0]
	assert.Equal(t, "Hi", msg.Text())
	assert.Equal(t, PassErrata, msg.Pass)
	assert.Equal(t, []int{0, 4}, msg.Corrected)
	assert.Empty(t, msg.Erasures)
	assert.Equal(t, byte('X'), msg.RawData[0])
}

func TestReceiver_Checksum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AppendChecksum = true
	tx, rx := newLink(t, cfg)

	signal, err := tx.TransmitString("crc")
	require.NoError(t, err)
	rx.ReceiveBuffer(signal)

	history := rx.History()
	require.Len(t, history, 1)
	assert.Equal(t, "crc", history[0].Text())
	assert.True(t, history[0].Valid)
	assert.Len(t, history[0].RawData, 3+fec.ChecksumSize+fec.DefaultParitySymbols)
}

func TestReceiver_BackToBackMessages(t *testing.T) {
	cfg := DefaultConfig()
	tx, rx := newLink(t, cfg)

	first, err := tx.TransmitString("first")
	require.NoError(t, err)
	second, err := tx.TransmitString("second message")
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(5))
	var stream []float64
	stream = append(stream, noise(rng, 3000, 0.05)...)
	stream = append(stream, first...)
	stream = append(stream, noise(rng, 5000, 0.05)...)
	stream = append(stream, second...)

	feed(rx, stream, 1500)

	history := rx.History()
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Text())
	assert.Equal(t, "second message", history[1].Text())
	assert.NotEqual(t, history[0].ID, history[1].ID)
	assert.Less(t, history[0].Offset, history[1].Offset)

	rx.ClearHistory()
	assert.Empty(t, rx.History())
}

func TestReceiver_ChannelNoise(t *testing.T) {
	cfg := DefaultConfig()
	tx, rx := newLink(t, cfg)

	signal, err := tx.TransmitString("through the air")
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(9))
	for i := range signal {
		signal[i] = 0.4*signal[i] + 0.05*rng.NormFloat64()
	}
	feed(rx, signal, 512)

	history := rx.History()
	require.Len(t, history, 1)
	assert.Equal(t, "through the air", history[0].Text())
}

func TestReceiver_PCM(t *testing.T) {
	cfg := DefaultConfig()
	tx, rx := newLink(t, cfg)

	pcm, err := tx.TransmitPCM([]byte("pcm"))
	require.NoError(t, err)

	for pos := 0; pos < len(pcm); pos += 3000 {
		rx.ReceivePCM(pcm[pos:min(pos+3000, len(pcm))])
	}

	history := rx.History()
	require.Len(t, history, 1)
	assert.Equal(t, "pcm", history[0].Text())
}

func TestReceiver_MessageInProgress(t *testing.T) {
	cfg := DefaultConfig()
	tx, rx := newLink(t, cfg)
	sps := cfg.Modem.SamplesPerSymbol

	encoded, err := tx.Encode([]byte("Hi"))
	require.NoError(t, err)
	signal, err := tx.TransmitString("Hi")
	require.NoError(t, err)

	assert.Nil(t, rx.CurrentSymbols())
	_, ok := rx.LastSymbol()
	assert.False(t, ok)

	// leading preambles plus three payload symbols
	rx.ReceiveBuffer(signal[:(cfg.PreambleRepeat+3)*sps])

	assert.True(t, rx.IsSynchronized())
	assert.Equal(t, StateSynced, rx.State())
	assert.Greater(t, rx.SyncScore(), 0.99)

	alphabet := tx.Engine().Alphabet()
	assert.Equal(t, alphabet.BytesToSymbols(encoded[:3]), rx.CurrentSymbols())

	data, erasures := rx.CurrentData()
	assert.Equal(t, []byte("Hi"), data[:2])
	assert.Empty(t, erasures)

	last, ok := rx.LastSymbol()
	assert.True(t, ok)
	assert.Equal(t, alphabet.ByteToSymbol(encoded[2]), last)

	rx.Reset()
	assert.False(t, rx.IsSynchronized())
	assert.Nil(t, rx.CurrentSymbols())
}

func TestReceiver_Overflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMessageSamples = 8 * cfg.Modem.SamplesPerSymbol
	tx, rx := newLink(t, cfg)

	var dropped []int
	rx.OnOverflow = func(n int) { dropped = append(dropped, n) }

	engine := tx.Engine()
	var signal []float64
	for i := 0; i < cfg.PreambleRepeat; i++ {
		signal = append(signal, engine.Preamble()...)
	}
	signal = append(signal, engine.DataToSignal([]byte("this message never ends"))...)

	feed(rx, signal, cfg.Modem.SamplesPerSymbol)

	require.Len(t, dropped, 1)
	// the buffer is cut back to the idle bound of two preamble lengths
	assert.Equal(t, cfg.MaxMessageSamples+cfg.Modem.SamplesPerSymbol-2*len(engine.Preamble()), dropped[0])
	assert.False(t, rx.IsSynchronized())
	assert.Empty(t, rx.History())

	// the receiver recovers for the next message
	next, err := tx.TransmitString("ok")
	require.NoError(t, err)
	rx.ReceiveBuffer(next)
	history := rx.History()
	require.Len(t, history, 1)
	assert.Equal(t, "ok", history[0].Text())
}

func TestReceiver_SilenceNeverSyncs(t *testing.T) {
	rx, err := NewReceiver(DefaultConfig(), quietLogger())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	feed(rx, make([]float64, 50000), 4096)
	feed(rx, noise(rng, 50000, 0.5), 4096)

	assert.False(t, rx.IsSynchronized())
	assert.Empty(t, rx.History())
}

func TestNewReceiver_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Modem.SymbolSize = 8
	_, err := NewReceiver(cfg, nil)
	assert.ErrorIs(t, err, modem.ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.ECC.ParitySymbols = 0
	_, err = NewTransmitter(cfg, nil)
	assert.ErrorIs(t, err, fec.ErrInvalidConfig)
}
