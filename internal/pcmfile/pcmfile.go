// Package pcmfile reads and writes recordings of modem transmissions.
//
// WAV files are read and written as PCM; MP3 and Ogg Vorbis are decode
// only. Every decoder returns mono samples in [-1, 1] at the file's own
// sample rate; Resample brings them to the modem rate.
package pcmfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format names a container.
type Format string

const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
	FormatOgg Format = "ogg"
)

var (
	ErrUnsupportedFormat   = errors.New("unsupported audio format")
	ErrNotWavFile          = errors.New("not a WAV file")
	ErrUnsupportedWavCodec = errors.New("only integer PCM WAV supported")
	ErrUnsupportedBitDepth = errors.New("unsupported bit depth")
	ErrNoChannels          = errors.New("audio has no channels")
)

// Audio is a decoded mono recording.
type Audio struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the recording length in seconds.
func (a Audio) Duration() float64 {
	if a.SampleRate == 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

// At returns the samples at rate, resampling when the rates differ.
func (a Audio) At(rate int) []float64 {
	return Resample(a.Samples, a.SampleRate, rate)
}

// FormatFromName picks a format from a file extension.
func FormatFromName(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".wave":
		return FormatWAV, nil
	case ".mp3":
		return FormatMP3, nil
	case ".ogg", ".oga":
		return FormatOgg, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

// Decode reads a whole recording in the given format.
func Decode(r io.Reader, format Format) (Audio, error) {
	switch format {
	case FormatWAV:
		rs, ok := r.(io.ReadSeeker)
		if !ok {
			data, err := io.ReadAll(r)
			if err != nil {
				return Audio{}, fmt.Errorf("read wav: %w", err)
			}
			rs = bytes.NewReader(data)
		}
		return DecodeWAV(rs)
	case FormatMP3:
		return DecodeMP3(r)
	case FormatOgg:
		return DecodeOgg(r)
	default:
		return Audio{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// DecodeFile opens path and decodes it by extension.
func DecodeFile(path string) (Audio, error) {
	format, err := FormatFromName(path)
	if err != nil {
		return Audio{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Audio{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	a, err := Decode(f, format)
	if err != nil {
		return Audio{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return a, nil
}

// downmix averages interleaved channels into one.
func downmix(interleaved []float64, channels int) []float64 {
	if channels <= 1 {
		return interleaved
	}
	out := make([]float64, len(interleaved)/channels)
	for i := range out {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float64(channels)
	}
	return out
}

// Resample converts samples from one rate to another by linear
// interpolation.
func Resample(samples []float64, from, to int) []float64 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]float64, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out
}
