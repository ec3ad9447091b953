package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"

	"github.com/jeongseonghan/tonemodem/internal/modem"
)

const (
	DefaultFramesPerBuffer = 1024
	NumChannels            = 1
)

// ErrStreamBusy is returned when a second capture or playback is started on
// the same Stream.
var ErrStreamBusy = errors.New("audio stream busy")

// Sink consumes captured samples. *protocol.Receiver satisfies it.
type Sink interface {
	ReceiveBuffer(chunk []float64)
}

// Init initializes PortAudio.
func Init() error {
	return portaudio.Initialize()
}

// Terminate cleans up PortAudio.
func Terminate() error {
	return portaudio.Terminate()
}

// Stream drives the default input and output devices at a fixed sample
// rate. Capture and Play may run at the same time; each is exclusive.
type Stream struct {
	sampleRate float64
	frames     int
	log        logrus.FieldLogger

	mu        sync.Mutex
	capturing bool
	playing   bool
}

// NewStream creates a stream. frames <= 0 selects DefaultFramesPerBuffer.
func NewStream(sampleRate float64, frames int, log logrus.FieldLogger) *Stream {
	if frames <= 0 {
		frames = DefaultFramesPerBuffer
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Stream{
		sampleRate: sampleRate,
		frames:     frames,
		log:        log.WithField("component", "audio"),
	}
}

// FramesPerBuffer returns the device buffer length in samples.
func (s *Stream) FramesPerBuffer() int { return s.frames }

// Capture reads the default input device and hands every buffer to sink
// until ctx is cancelled.
func (s *Stream) Capture(ctx context.Context, sink Sink) error {
	if !s.acquire(&s.capturing) {
		return ErrStreamBusy
	}
	defer s.release(&s.capturing)

	buf := make([]float32, s.frames)
	stream, err := portaudio.OpenDefaultStream(NumChannels, 0, s.sampleRate, s.frames, buf)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start input stream: %w", err)
	}
	defer stream.Stop()

	s.log.WithFields(logrus.Fields{
		"rate":   s.sampleRate,
		"frames": s.frames,
	}).Info("Capture started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Capture stopped")
			return nil
		default:
		}
		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				s.log.Warn("Input overflowed")
			} else {
				return fmt.Errorf("read: %w", err)
			}
		}
		sink.ReceiveBuffer(modem.Float32ToSamples(buf))
	}
}

// Play writes samples to the default output device and returns once they
// have been queued, or when ctx is cancelled.
func (s *Stream) Play(ctx context.Context, samples []float64) error {
	if !s.acquire(&s.playing) {
		return ErrStreamBusy
	}
	defer s.release(&s.playing)

	buf := make([]float32, s.frames)
	stream, err := portaudio.OpenDefaultStream(0, NumChannels, s.sampleRate, s.frames, buf)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}
	defer stream.Stop()

	chunks := Frames(samples, s.frames)
	s.log.WithFields(logrus.Fields{
		"samples": len(samples),
		"buffers": len(chunks),
	}).Debug("Playback started")

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		copy(buf, chunk)
		if err := stream.Write(); err != nil {
			if errors.Is(err, portaudio.OutputUnderflowed) {
				s.log.Warn("Output underflowed")
				continue
			}
			return fmt.Errorf("write: %w", err)
		}
	}
	return nil
}

func (s *Stream) acquire(flag *bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *flag {
		return false
	}
	*flag = true
	return true
}

func (s *Stream) release(flag *bool) {
	s.mu.Lock()
	*flag = false
	s.mu.Unlock()
}

// Frames splits samples into float32 buffers of n frames, zero-padding the
// last one.
func Frames(samples []float64, n int) [][]float32 {
	if n <= 0 || len(samples) == 0 {
		return nil
	}
	out := make([][]float32, 0, (len(samples)+n-1)/n)
	for i := 0; i < len(samples); i += n {
		chunk := make([]float32, n)
		copy(chunk, modem.SamplesToFloat32(samples[i:min(i+n, len(samples))]))
		out = append(out, chunk)
	}
	return out
}
