package protocol

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jeongseonghan/tonemodem/internal/fec"
	"github.com/jeongseonghan/tonemodem/internal/modem"
)

// Receiver recovers messages from a sample stream delivered in chunks of
// any length. Callbacks run on the goroutine that delivered the samples,
// after the receiver lock is released.
type Receiver struct {
	cfg    Config
	engine *modem.Engine
	codec  *fec.Codec
	log    logrus.FieldLogger

	mu      sync.Mutex
	syncer  *Synchronizer
	history []Message
	events  []func()

	// Callbacks
	OnMessage     func(msg Message)
	OnStateChange func(state SyncState, score float64)
	OnOverflow    func(dropped int)
}

// NewReceiver creates a receiver. A nil logger uses the logrus standard
// logger.
func NewReceiver(cfg Config, log logrus.FieldLogger) (*Receiver, error) {
	engine, codec, err := cfg.build()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	s, err := NewSynchronizer(engine.Preamble(), cfg.CorrelationThreshold,
		cfg.RefineWindow(), cfg.MaxMessageSamples)
	if err != nil {
		return nil, err
	}

	r := &Receiver{
		cfg:    cfg,
		engine: engine,
		codec:  codec,
		log:    log.WithField("component", "receiver"),
		syncer: s,
	}
	s.OnStateChange = r.handleStateChange
	s.OnOverflow = r.handleOverflow
	return r, nil
}

// Engine returns the modulation engine.
func (r *Receiver) Engine() *modem.Engine { return r.engine }

// ReceiveBuffer feeds signal samples in arrival order. Completed messages
// are appended to the history and reported through OnMessage.
func (r *Receiver) ReceiveBuffer(chunk []float64) {
	r.mu.Lock()
	frames := r.syncer.Push(chunk)
	for _, f := range frames {
		msg := r.decode(f)
		r.history = append(r.history, msg)
		if r.OnMessage != nil {
			cb := r.OnMessage
			r.events = append(r.events, func() { cb(msg) })
		}
	}
	events := r.events
	r.events = nil
	r.mu.Unlock()

	for _, ev := range events {
		ev()
	}
}

// ReceivePCM feeds 16-bit little-endian mono PCM.
func (r *Receiver) ReceivePCM(pcm []byte) {
	r.ReceiveBuffer(modem.PCMToSignal(pcm))
}

// State returns the synchronizer state.
func (r *Receiver) State() SyncState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncer.State()
}

// IsSynchronized reports whether a message is in progress.
func (r *Receiver) IsSynchronized() bool {
	return r.State() == StateSynced
}

// SyncScore returns the correlation score of the message in progress.
func (r *Receiver) SyncScore() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncer.Score()
}

// CurrentSymbols demodulates the payload received so far.
func (r *Receiver) CurrentSymbols() []modem.Symbol {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := r.syncer.Pending()
	if pending == nil {
		return nil
	}
	return r.engine.SignalToSymbols(pending)
}

// CurrentData returns the raw bytes and erasures of the payload received so
// far, before error correction.
func (r *Receiver) CurrentData() ([]byte, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := r.syncer.Pending()
	if pending == nil {
		return nil, nil
	}
	return r.engine.SignalToData(pending)
}

// LastSymbol returns the most recent complete symbol of the message in
// progress.
func (r *Receiver) LastSymbol() (modem.Symbol, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := r.syncer.Pending()
	sps := r.engine.SamplesPerSymbol()
	n := len(pending) / sps
	if n == 0 {
		return modem.NoSymbol, false
	}
	s, err := r.engine.SignalToSymbol(pending[(n-1)*sps : n*sps])
	if err != nil {
		return modem.NoSymbol, false
	}
	return s, true
}

// History returns a copy of all finalized messages, oldest first.
func (r *Receiver) History() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.history))
	copy(out, r.history)
	return out
}

// ClearHistory forgets all finalized messages.
func (r *Receiver) ClearHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = nil
}

// Reset drops any message in progress and returns to StateUnsynced.
func (r *Receiver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncer.Reset()
}

// decode turns a frame into a message, degrading to the fallback output
// when the codec cannot correct it.
func (r *Receiver) decode(f Frame) Message {
	sps := r.engine.SamplesPerSymbol()
	symbols := int(math.Round(float64(len(f.Signal)) / float64(sps)))
	signal := f.Signal[:min(symbols*sps, len(f.Signal))]

	raw, erasures := r.engine.SignalToData(signal)
	msg := Message{
		ID:         uuid.New(),
		RawData:    raw,
		Erasures:   erasures,
		SyncScore:  f.SyncScore,
		Offset:     f.Start,
		ReceivedAt: time.Now(),
	}
	log := r.log.WithFields(logrus.Fields{
		"id":       msg.ID,
		"offset":   f.Start,
		"bytes":    len(raw),
		"erasures": len(erasures),
		"score":    f.SyncScore,
	})

	msg.Pass = PassErasures
	decoded, err := r.codec.Decode(raw, erasures, fec.ErasuresOnly)
	if err != nil {
		log.WithError(err).Debug("Erasure-only decode failed")
		msg.Pass = PassErrata
		decoded, err = r.codec.Decode(raw, erasures, fec.Errata)
	}

	switch {
	case err == nil:
		msg.Data = decoded.Data
		msg.Corrected = decoded.Corrected
		msg.Valid = true
	case errors.Is(err, fec.ErrUncorrectable), errors.Is(err, fec.ErrInvalidLength):
		log.WithError(err).Warn("Uncorrectable message, using erasure-substituted payload")
		msg.Pass = PassFallback
		msg.Data = r.codec.Fallback(raw, erasures)
	default:
		log.WithError(err).Error("Decode failed")
		msg.Pass = PassFallback
		msg.Data = r.codec.Fallback(raw, erasures)
	}

	if r.cfg.AppendChecksum {
		data, ok := fec.SplitChecksum(msg.Data)
		msg.Data = data
		msg.Valid = msg.Valid && ok
		if !ok {
			log.Warn("Checksum mismatch")
		}
	}

	log.WithFields(logrus.Fields{
		"pass":      msg.Pass,
		"corrected": len(msg.Corrected),
		"valid":     msg.Valid,
	}).Info("Message received")
	return msg
}

// handleStateChange runs inside Push, with r.mu held.
func (r *Receiver) handleStateChange(state SyncState, offset int64, score float64) {
	r.log.WithFields(logrus.Fields{
		"state":  state,
		"offset": offset,
		"score":  score,
	}).Debug("Sync state changed")
	if r.OnStateChange != nil {
		cb := r.OnStateChange
		r.events = append(r.events, func() { cb(state, score) })
	}
}

// handleOverflow runs inside Push, with r.mu held.
func (r *Receiver) handleOverflow(dropped int) {
	r.log.WithFields(logrus.Fields{
		"dropped": dropped,
		"limit":   r.cfg.MaxMessageSamples,
	}).Warn("Message exceeded buffer limit, dropped")
	if r.OnOverflow != nil {
		cb := r.OnOverflow
		r.events = append(r.events, func() { cb(dropped) })
	}
}
