package audio

import "testing"

func TestResampleLengths(t *testing.T) {
	in := make([]int16, 160) // 20ms at 8kHz
	out := Resample(in, 8000, 16000)
	if len(out) != 320 {
		t.Fatalf("8k->16k: len=%d, want 320", len(out))
	}
	out = Resample(make([]int16, 480), 24000, 8000) // 20ms at 24kHz
	if len(out) != 160 {
		t.Fatalf("24k->8k: len=%d, want 160", len(out))
	}
}

func TestResampleSameRateIsIdentity(t *testing.T) {
	in := []int16{1, 2, 3}
	out := Resample(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Fatalf("same-rate resample should return input unchanged")
	}
}

func TestResampleInterpolates(t *testing.T) {
	// Doubling the rate of a ramp should keep it a ramp, with midpoints
	// between neighbors.
	in := []int16{0, 100, 200, 300}
	out := Resample(in, 8000, 16000)
	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			t.Fatalf("upsampled ramp not monotonic at %d: %v", i, out)
		}
	}
	if out[1] != 50 {
		t.Fatalf("midpoint=%d, want 50", out[1])
	}
}

func TestBytesSamplesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	got := BytesToSamples(SamplesToBytes(in))
	if len(got) != len(in) {
		t.Fatalf("len=%d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("sample %d: got %d, want %d", i, got[i], in[i])
		}
	}
	// Odd trailing byte is dropped, not decoded.
	if n := len(BytesToSamples([]byte{1, 2, 3})); n != 1 {
		t.Fatalf("odd byte count decoded to %d samples, want 1", n)
	}
}
