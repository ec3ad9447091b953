package pcmfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/jeongseonghan/tonemodem/internal/modem"
)

const (
	wavFormatPCM = 1
	wavBitDepth  = 16
)

// DecodeWAV reads an integer PCM WAV file and downmixes it to mono.
func DecodeWAV(r io.ReadSeeker) (Audio, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Audio{}, ErrNotWavFile
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return Audio{}, fmt.Errorf("%w: format tag %d", ErrUnsupportedWavCodec, dec.WavAudioFormat)
	}

	var scale float64
	switch dec.BitDepth {
	case 16:
		scale = modem.PCMScale
	case 24:
		scale = 1<<23 - 1
	case 32:
		scale = 1<<31 - 1
	default:
		return Audio{}, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Audio{}, fmt.Errorf("read pcm: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 {
		return Audio{}, ErrNoChannels
	}

	interleaved := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		interleaved[i] = float64(v) / scale
	}
	return Audio{
		Samples:    downmix(interleaved, buf.Format.NumChannels),
		SampleRate: buf.Format.SampleRate,
	}, nil
}

// EncodeWAV writes signal as a mono 16-bit PCM WAV file.
func EncodeWAV(w io.WriteSeeker, signal []float64, sampleRate int) error {
	values := modem.SignalToInt16(signal)
	data := make([]int, len(values))
	for i, v := range values {
		data[i] = int(v)
	}

	enc := wav.NewEncoder(w, sampleRate, wavBitDepth, 1, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav: %w", err)
	}
	return nil
}

// WAVBytes returns signal as an in-memory WAV file.
func WAVBytes(signal []float64, sampleRate int) ([]byte, error) {
	var f memFile
	if err := EncodeWAV(&f, signal, sampleRate); err != nil {
		return nil, err
	}
	return f.Bytes(), nil
}

// WriteWAVFile writes signal to path as a mono 16-bit WAV file.
func WriteWAVFile(path string, signal []float64, sampleRate int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	return EncodeWAV(f, signal, sampleRate)
}

// memFile is an in-memory io.WriteSeeker for the WAV encoder, which seeks
// back to patch chunk sizes on Close.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("memfile: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("memfile: negative position")
	}
	m.pos = int(abs)
	return abs, nil
}

func (m *memFile) Bytes() []byte { return bytes.Clone(m.buf) }
