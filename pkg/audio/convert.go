package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// BytesToInt16s reinterprets 16-bit little-endian PCM bytes as samples.
// A trailing odd byte is dropped.
func BytesToInt16s(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// Int16sToBytes serializes samples as 16-bit little-endian PCM bytes.
func Int16sToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// StereoToMono downmixes interleaved stereo PCM to mono by averaging the
// channel pair. Input must be 16-bit LE stereo; output is 16-bit LE mono.
func StereoToMono(data []byte) []byte {
	in := BytesToInt16s(data)
	out := make([]int16, len(in)/2)
	for i := range out {
		out[i] = int16((int32(in[i*2]) + int32(in[i*2+1])) / 2)
	}
	return Int16sToBytes(out)
}

// ResampleMono16 converts 16-bit LE mono PCM from one sample rate to another
// using linear interpolation. Adequate for speech; not intended for music.
func ResampleMono16(data []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return data
	}
	in := BytesToInt16s(data)
	if len(in) == 0 {
		return nil
	}
	outLen := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	out := make([]int16, outLen)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int16(float64(in[idx])*(1-frac) + float64(in[idx+1])*frac)
	}
	return Int16sToBytes(out)
}

// RMS computes the root-mean-square amplitude of 16-bit LE PCM. The result
// is on the raw int16 scale (0..32767), matching the VAD energy thresholds.
func RMS(data []byte) float64 {
	samples := BytesToInt16s(data)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Float32ToPCM16 converts normalized float32 samples (-1..1) to 16-bit LE
// PCM bytes, clipping out-of-range values.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := s * 32767
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		out[i] = int16(v)
	}
	return Int16sToBytes(out)
}

// PCM16ToFloat32 converts 16-bit LE PCM bytes to normalized float32 samples,
// the input format expected by local speech models.
func PCM16ToFloat32(data []byte) []float32 {
	in := BytesToInt16s(data)
	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(s) / 32768
	}
	return out
}

// Silence returns d worth of silent 16-bit LE mono PCM at the given rate.
func Silence(d time.Duration, sampleRate int) []byte {
	samples := int(d.Seconds() * float64(sampleRate))
	if samples <= 0 {
		return nil
	}
	return make([]byte, samples*2)
}
