package protocol

import (
	"fmt"

	"github.com/jeongseonghan/tonemodem/internal/modem"
)

// SyncState represents the frame synchronizer state machine.
type SyncState int

const (
	// StateUnsynced scans a bounded tail of the stream for a preamble.
	StateUnsynced SyncState = iota
	// StateSynced accumulates a message until the trailing preamble.
	StateSynced
)

// String returns the state name.
func (s SyncState) String() string {
	switch s {
	case StateUnsynced:
		return "UNSYNCED"
	case StateSynced:
		return "SYNCED"
	default:
		return "UNKNOWN"
	}
}

// Frame is the signal between a leading preamble train and the trailing
// preamble that terminates it.
type Frame struct {
	Signal []float64
	// Start is the absolute stream index of the first payload sample.
	Start int64
	// SyncScore is the best correlation seen on the leading preambles.
	SyncScore float64
}

// Synchronizer locates preamble-delimited frames in a sample stream that
// arrives in chunks of any size. Detection depends only on stream content,
// never on how the stream was chunked.
//
// A preamble is declared at the first lag whose score reaches the
// threshold, refined to the best score within the following window lags; a
// later lag replaces the candidate only with a strictly higher score. The
// window must span the distance from the first crossing to the true peak,
// which is short for a chirp and up to a full symbol for a multi-tone
// template whose correlation repeats at the tone period.
//
// Preamble copies that immediately follow the lock are consumed as part of
// the leading train, and each copy moves the payload start behind it even
// when it scores lower than the lock. Only the strongest score is kept as
// the frame's SyncScore.
//
// Not safe for concurrent use.
type Synchronizer struct {
	corr       *modem.Correlator
	threshold  float64
	window     int
	keep       int
	maxSamples int

	state    SyncState
	buffer   []float64
	base     int64 // stream index of buffer[0]
	scanned  int   // lags of buffer already scanned for a crossing
	crossing int   // pending threshold crossing, -1 if none
	leading  bool
	score    float64
	start    int64

	// OnStateChange is called on every transition with the stream index
	// of the new buffer head and the correlation score that caused it.
	OnStateChange func(state SyncState, offset int64, score float64)
	// OnOverflow is called when an unterminated message is dropped.
	OnOverflow func(dropped int)
}

// NewSynchronizer creates a synchronizer for preamble. window is the peak
// refinement span in samples; maxSamples bounds a message, zero meaning no
// bound.
func NewSynchronizer(preamble []float64, threshold float64, window, maxSamples int) (*Synchronizer, error) {
	corr, err := modem.NewCorrelator(preamble)
	if err != nil {
		return nil, err
	}
	if window < 0 || window >= corr.Len() {
		return nil, fmt.Errorf("%w: refinement window %d outside [0, %d)", modem.ErrInvalidConfig, window, corr.Len())
	}
	return &Synchronizer{
		corr:       corr,
		threshold:  threshold,
		window:     window,
		keep:       2 * corr.Len(),
		maxSamples: maxSamples,
		crossing:   -1,
	}, nil
}

// State returns the current state.
func (s *Synchronizer) State() SyncState { return s.state }

// Score returns the sync score of the message in progress, 0 when unsynced.
func (s *Synchronizer) Score() float64 { return s.score }

// Buffered returns the number of samples held.
func (s *Synchronizer) Buffered() int { return len(s.buffer) }

// Pending returns the payload received so far for the message in progress,
// or nil while unsynced or still inside the leading preamble train.
func (s *Synchronizer) Pending() []float64 {
	if s.state != StateSynced || s.leading {
		return nil
	}
	return s.buffer
}

// Reset drops all buffered samples and returns to StateUnsynced.
func (s *Synchronizer) Reset() {
	s.consume(len(s.buffer))
	s.unlock()
}

// Push appends chunk to the stream and returns every frame it completes.
func (s *Synchronizer) Push(chunk []float64) []Frame {
	s.buffer = append(s.buffer, chunk...)

	var frames []Frame
	for {
		var progressed bool
		switch {
		case s.state == StateUnsynced:
			progressed = s.acquire()
		case s.leading:
			progressed = s.skipRepeats()
		default:
			var f *Frame
			f, progressed = s.track()
			if f != nil {
				frames = append(frames, *f)
			}
		}
		if !progressed {
			break
		}
	}

	switch {
	case s.state == StateUnsynced && s.crossing < 0 && len(s.buffer) > s.keep:
		s.consume(len(s.buffer) - s.keep)
	case s.state == StateSynced && s.maxSamples > 0 && len(s.buffer) > s.maxSamples:
		dropped := len(s.buffer) - s.keep
		s.consume(dropped)
		s.unlock()
		if s.OnOverflow != nil {
			s.OnOverflow(dropped)
		}
		s.notify(0)
	}
	return frames
}

func (s *Synchronizer) acquire() bool {
	lag, score, ok := s.findPeak()
	if !ok {
		return false
	}
	s.state = StateSynced
	s.score = score
	s.leading = true
	s.consume(lag + s.corr.Len())
	s.start = s.base
	s.notify(score)
	return true
}

// skipRepeats consumes one preamble copy at the head of the buffer, or ends
// the leading train when the head is not a preamble.
func (s *Synchronizer) skipRepeats() bool {
	L := s.corr.Len()
	if len(s.buffer) < L+s.window {
		return false
	}
	scores := s.corr.Scores(s.buffer[:L+s.window], 0)
	best := argmax(scores)
	if scores[best] < s.threshold {
		s.leading = false
		s.scanned = 0
		s.crossing = -1
		return true
	}
	if scores[best] > s.score {
		s.score = scores[best]
	}
	s.consume(best + L)
	s.start = s.base
	return true
}

// track looks for the trailing preamble and cuts the frame before it.
func (s *Synchronizer) track() (*Frame, bool) {
	lag, score, ok := s.findPeak()
	if !ok {
		return nil, false
	}
	frame := &Frame{
		Signal:    append([]float64(nil), s.buffer[:lag]...),
		Start:     s.start,
		SyncScore: s.score,
	}
	s.consume(lag + s.corr.Len())
	s.unlock()
	s.notify(score)
	return frame, true
}

// findPeak scans lags not yet examined for a threshold crossing and, once
// the refinement window behind it is buffered, returns the peak lag.
func (s *Synchronizer) findPeak() (int, float64, bool) {
	lags := s.corr.Lags(len(s.buffer))
	if s.crossing < 0 {
		if s.scanned >= lags {
			return 0, 0, false
		}
		for i, v := range s.corr.Scores(s.buffer, s.scanned) {
			if v >= s.threshold {
				s.crossing = s.scanned + i
				break
			}
		}
		s.scanned = lags
		if s.crossing < 0 {
			return 0, 0, false
		}
	}

	last := s.crossing + s.window
	if last >= lags {
		return 0, 0, false
	}
	scores := s.corr.Scores(s.buffer[:last+s.corr.Len()], s.crossing)
	best := argmax(scores)
	lag := s.crossing + best
	s.crossing = -1
	return lag, scores[best], true
}

func (s *Synchronizer) unlock() {
	s.state = StateUnsynced
	s.leading = false
	s.score = 0
	s.scanned = 0
	s.crossing = -1
}

func (s *Synchronizer) notify(score float64) {
	if s.OnStateChange != nil {
		s.OnStateChange(s.state, s.base, score)
	}
}

// consume drops n samples from the front of the buffer.
func (s *Synchronizer) consume(n int) {
	if n <= 0 {
		return
	}
	if n > len(s.buffer) {
		n = len(s.buffer)
	}
	s.buffer = s.buffer[n:]
	s.base += int64(n)
	s.scanned = max(0, s.scanned-n)
	if s.crossing >= 0 {
		s.crossing -= n
		if s.crossing < 0 {
			s.crossing = -1
		}
	}
}

// argmax returns the first index of the largest value.
func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
