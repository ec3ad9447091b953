package pcmfile

import (
	"encoding/binary"
	"fmt"
	"io"

	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// go-mp3 always decodes to interleaved stereo.
const mp3Channels = 2

// DecodeMP3 decodes an MP3 stream and downmixes it to mono.
func DecodeMP3(r io.Reader) (Audio, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return Audio{}, fmt.Errorf("mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return Audio{}, fmt.Errorf("mp3: %w", err)
	}

	interleaved := make([]float64, len(pcm)/2)
	for i := range interleaved {
		interleaved[i] = float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
	}
	return Audio{
		Samples:    downmix(interleaved, mp3Channels),
		SampleRate: dec.SampleRate(),
	}, nil
}

// DecodeOgg decodes an Ogg Vorbis stream and downmixes it to mono.
func DecodeOgg(r io.Reader) (Audio, error) {
	data, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return Audio{}, fmt.Errorf("ogg: %w", err)
	}
	if format.Channels < 1 {
		return Audio{}, ErrNoChannels
	}

	interleaved := make([]float64, len(data))
	for i, v := range data {
		interleaved[i] = float64(v)
	}
	return Audio{
		Samples:    downmix(interleaved, format.Channels),
		SampleRate: format.SampleRate,
	}, nil
}
