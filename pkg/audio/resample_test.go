package audio

import (
	"bytes"
	"testing"
)

func mustResampler(t *testing.T, from, to int) *Resampler {
	t.Helper()
	r, err := NewResampler(from, to)
	if err != nil {
		t.Fatalf("NewResampler(%d, %d): %v", from, to, err)
	}
	return r
}

func TestResamplerDownsamplesByLinearInterpolation(t *testing.T) {
	// 24 kHz to 16 kHz advances 1.5 input samples per output sample, so a
	// ramp yields every third midpoint exactly.
	r := mustResampler(t, 24000, 16000)

	in := Int16sToBytes([]int16{0, 300, 600, 900, 1200, 1500})
	got := BytesToInt16s(r.Process(in))

	want := []int16{0, 450, 900, 1350}
	if len(got) != len(want) {
		t.Fatalf("output = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResamplerUpsamplesByLinearInterpolation(t *testing.T) {
	r := mustResampler(t, 16000, 24000)

	in := Int16sToBytes([]int16{0, 300, 600})
	got := BytesToInt16s(r.Process(in))

	want := []int16{0, 200, 400, 600}
	if len(got) != len(want) {
		t.Fatalf("output = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResamplerOutputIndependentOfChunking(t *testing.T) {
	samples := make([]int16, 480)
	for i := range samples {
		samples[i] = int16(i*13 - 3000)
	}
	pcm := Int16sToBytes(samples)

	whole := mustResampler(t, 24000, 16000)
	wantOut := whole.Process(pcm)

	// Same stream fed in uneven chunks, including a split inside a sample.
	chunked := mustResampler(t, 24000, 16000)
	var gotOut []byte
	start := 0
	for _, end := range []int{7, 64, 65, 300, len(pcm)} {
		gotOut = append(gotOut, chunked.Process(pcm[start:end])...)
		start = end
	}

	if !bytes.Equal(gotOut, wantOut) {
		t.Fatalf("chunked output (%d bytes) differs from whole-stream output (%d bytes)",
			len(gotOut), len(wantOut))
	}
}

func TestResamplerSameRateIsPassthrough(t *testing.T) {
	r := mustResampler(t, 16000, 16000)

	samples := []int16{5, -7, 100, -32768, 32767, 0}
	got := r.Process(Int16sToBytes(samples))

	if !bytes.Equal(got, Int16sToBytes(samples)) {
		t.Fatalf("passthrough output = %v, want input unchanged", BytesToInt16s(got))
	}
}

func TestResamplerPreservesConstantSignal(t *testing.T) {
	r := mustResampler(t, 24000, 16000)

	in := make([]int16, 240)
	for i := range in {
		in[i] = 1000
	}
	out := BytesToInt16s(r.Process(Int16sToBytes(in)))

	if len(out) == 0 {
		t.Fatal("no output for a full input buffer")
	}
	for i, s := range out {
		if s != 1000 {
			t.Fatalf("sample %d = %d, want 1000", i, s)
		}
	}
}

func TestNewResamplerRejectsNonPositiveRates(t *testing.T) {
	if _, err := NewResampler(0, 16000); err == nil {
		t.Error("zero input rate accepted")
	}
	if _, err := NewResampler(24000, -1); err == nil {
		t.Error("negative output rate accepted")
	}
}
