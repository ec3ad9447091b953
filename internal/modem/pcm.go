package modem

import (
	"encoding/binary"
	"math"
)

// PCMScale maps the normalized [-1, 1] domain onto signed 16-bit PCM.
const PCMScale = 32767.0

// SignalToInt16 converts normalized samples to 16-bit PCM values,
// truncating toward zero and clamping out-of-range input.
func SignalToInt16(signal []float64) []int16 {
	out := make([]int16, len(signal))
	for i, s := range signal {
		v := math.Trunc(s * PCMScale)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		case math.IsNaN(v):
			v = 0
		}
		out[i] = int16(v)
	}
	return out
}

// Int16ToSignal converts 16-bit PCM values to normalized samples.
func Int16ToSignal(pcm []int16) []float64 {
	out := make([]float64, len(pcm))
	for i, v := range pcm {
		out[i] = float64(v) / PCMScale
	}
	return out
}

// SignalToPCM encodes samples as 16-bit signed little-endian mono PCM.
func SignalToPCM(signal []float64) []byte {
	values := SignalToInt16(signal)
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// PCMToSignal decodes 16-bit signed little-endian mono PCM. A trailing odd
// byte is ignored.
func PCMToSignal(pcm []byte) []float64 {
	out := make([]float64, len(pcm)/2)
	for i := range out {
		out[i] = float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / PCMScale
	}
	return out
}

// SamplesToFloat32 converts float64 samples to float32 for audio output.
func SamplesToFloat32(samples []float64) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s)
	}
	return out
}

// Float32ToSamples converts float32 audio input to float64 for processing.
func Float32ToSamples(samples []float32) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s)
	}
	return out
}
