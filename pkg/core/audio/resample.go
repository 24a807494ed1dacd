// Package audio holds the PCM plumbing shared by the native and telephony
// transports: mu-law transcoding, sample-rate conversion, and byte/sample
// layout helpers. Everything is 16-bit mono.
package audio

import "encoding/binary"

// Resample converts samples from inRate to outRate using linear
// interpolation. Good enough for speech; both directions of the telephony
// bridge (8 kHz to 16 kHz in, 24 kHz to 8 kHz out) go through here.
func Resample(in []int16, inRate, outRate int) []int16 {
	if inRate <= 0 || outRate <= 0 || len(in) == 0 || inRate == outRate {
		return in
	}

	ratio := float64(outRate) / float64(inRate)
	outLen := int(float64(len(in)) * ratio)
	if outLen == 0 {
		return nil
	}

	out := make([]int16, outLen)
	for i := range out {
		pos := float64(i) / ratio
		i0 := int(pos)
		i1 := i0 + 1
		if i1 >= len(in) {
			i1 = len(in) - 1
		}
		frac := pos - float64(i0)
		v := float64(in[i0])*(1-frac) + float64(in[i1])*frac
		out[i] = clampSample(v)
	}
	return out
}

func clampSample(v float64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}

// BytesToSamples reinterprets little-endian PCM16 bytes as samples. A
// trailing odd byte is dropped.
func BytesToSamples(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// SamplesToBytes serializes samples as little-endian PCM16 bytes.
func SamplesToBytes(s []int16) []byte {
	out := make([]byte, 2*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}
