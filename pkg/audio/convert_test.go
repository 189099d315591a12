package audio

import (
	"math"
	"testing"
	"time"
)

func TestInt16BytesRoundTrip(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	got := BytesToInt16s(Int16sToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("length = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestBytesToInt16s_DropsOddTrailingByte(t *testing.T) {
	t.Parallel()

	got := BytesToInt16s([]byte{0x01, 0x00, 0xFF})
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("samples = %v, want [1]", got)
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	stereo := Int16sToBytes([]int16{100, 200, -100, 100, 32767, 32767})
	got := BytesToInt16s(StereoToMono(stereo))
	want := []int16{150, 0, 32767}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("mono[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	t.Run("same rate passes through", func(t *testing.T) {
		t.Parallel()
		in := Int16sToBytes([]int16{1, 2, 3})
		got := ResampleMono16(in, 16000, 16000)
		if len(got) != len(in) {
			t.Errorf("length = %d, want %d", len(got), len(in))
		}
	})

	t.Run("upsample length", func(t *testing.T) {
		t.Parallel()
		in := Int16sToBytes(make([]int16, 160)) // 10 ms at 16 kHz
		got := ResampleMono16(in, 16000, 24000)
		if len(got) != 240*2 {
			t.Errorf("length = %d bytes, want %d", len(got), 240*2)
		}
	})

	t.Run("downsample preserves a constant signal", func(t *testing.T) {
		t.Parallel()
		samples := make([]int16, 480)
		for i := range samples {
			samples[i] = 1000
		}
		got := BytesToInt16s(ResampleMono16(Int16sToBytes(samples), 48000, 16000))
		if len(got) != 160 {
			t.Fatalf("length = %d samples, want 160", len(got))
		}
		for i, s := range got {
			if s != 1000 {
				t.Fatalf("sample %d = %d, want 1000", i, s)
			}
		}
	})

	t.Run("interpolates between neighbors", func(t *testing.T) {
		t.Parallel()
		in := Int16sToBytes([]int16{0, 1000})
		got := BytesToInt16s(ResampleMono16(in, 8000, 16000))
		// Output positions 0, 0.5, 1, 1.5 over the input.
		if len(got) != 4 {
			t.Fatalf("length = %d samples, want 4", len(got))
		}
		if got[0] != 0 || got[1] != 500 || got[2] != 1000 {
			t.Errorf("samples = %v, want [0 500 1000 1000]", got)
		}
	})
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %f, want 0", got)
	}

	constant := make([]int16, 320)
	for i := range constant {
		constant[i] = 600
	}
	if got := RMS(Int16sToBytes(constant)); math.Abs(got-600) > 1e-9 {
		t.Errorf("RMS = %f, want 600", got)
	}
}

func TestFloat32PCMRoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.5, -0.5, 2.0, -2.0}
	got := BytesToInt16s(Float32ToPCM16(in))
	want := []int16{0, 16383, -16383, 32767, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}

	back := PCM16ToFloat32(Int16sToBytes([]int16{-32768, 0, 16384}))
	wantF := []float32{-1, 0, 0.5}
	for i := range wantF {
		if back[i] != wantF[i] {
			t.Errorf("float %d = %f, want %f", i, back[i], wantF[i])
		}
	}
}

func TestSilence(t *testing.T) {
	t.Parallel()

	got := Silence(100*time.Millisecond, 24000)
	if len(got) != 2400*2 {
		t.Errorf("length = %d bytes, want %d", len(got), 2400*2)
	}
	for _, b := range got {
		if b != 0 {
			t.Fatal("silence contains non-zero bytes")
		}
	}
	if Silence(0, 24000) != nil {
		t.Error("zero duration should yield nil")
	}
}
