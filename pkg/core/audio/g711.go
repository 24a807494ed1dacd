package audio

// G.711 mu-law codec. Telephony carriers deliver 8 kHz mu-law payloads; the
// speech providers want linear PCM, so the bridge decodes on the way in and
// encodes on the way out.

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// EncodeMuLawSample compresses one linear PCM sample to 8-bit mu-law.
func EncodeMuLawSample(s int16) byte {
	var sign byte
	x := int32(s)
	if x < 0 {
		x = -x
		sign = 0x80
	}
	if x > muLawClip {
		x = muLawClip
	}
	x += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && x&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(x>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeMuLawSample expands one 8-bit mu-law byte to a linear PCM sample.
func DecodeMuLawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	magnitude := ((int32(mantissa)<<3 + muLawBias) << exponent) - muLawBias
	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// EncodeMuLaw compresses a block of linear samples.
func EncodeMuLaw(src []int16) []byte {
	out := make([]byte, len(src))
	for i, s := range src {
		out[i] = EncodeMuLawSample(s)
	}
	return out
}

// DecodeMuLaw expands a block of mu-law bytes.
func DecodeMuLaw(src []byte) []int16 {
	out := make([]int16, len(src))
	for i, b := range src {
		out[i] = DecodeMuLawSample(b)
	}
	return out
}
