package respond

import (
	"testing"
)

func textsOf(units []Unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Text
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSingleSentenceChunk(t *testing.T) {
	agg := NewAggregator()
	var units []Unit
	units = append(units, agg.Add(Chunk{TurnID: "t1", Seq: 0, Text: "Hi."})...)
	units = append(units, agg.Complete("t1")...)

	if got := textsOf(units); !equalStrings(got, []string{"Hi."}) {
		t.Errorf("units = %q, want [Hi.]", got)
	}
}

func TestSentenceBoundaryGrouping(t *testing.T) {
	agg := NewAggregator()
	var units []Unit
	units = append(units, agg.Add(Chunk{TurnID: "t1", Seq: 0, Text: "Hello, "})...)
	units = append(units, agg.Add(Chunk{TurnID: "t1", Seq: 1, Text: "world!"})...)
	units = append(units, agg.Add(Chunk{TurnID: "t1", Seq: 2, Text: " Bye."})...)
	units = append(units, agg.Complete("t1")...)

	want := []string{"Hello, world!", " Bye."}
	if got := textsOf(units); !equalStrings(got, want) {
		t.Errorf("units = %q, want %q", got, want)
	}
}

func TestMidChunkTerminatorSplits(t *testing.T) {
	agg := NewAggregator()
	units := agg.Add(Chunk{TurnID: "t1", Seq: 0, Text: "Sure. Let me"})
	if got := textsOf(units); !equalStrings(got, []string{"Sure."}) {
		t.Errorf("units = %q, want [Sure.]", got)
	}
	units = agg.Complete("t1")
	if got := textsOf(units); !equalStrings(got, []string{" Let me"}) {
		t.Errorf("flushed = %q, want [ Let me]", got)
	}
}

func TestCompleteFlushesTrailingText(t *testing.T) {
	agg := NewAggregator()
	agg.Add(Chunk{TurnID: "t1", Seq: 0, Text: "no terminator here"})
	units := agg.Complete("t1")
	if got := textsOf(units); !equalStrings(got, []string{"no terminator here"}) {
		t.Errorf("flushed = %q", got)
	}
}

func TestZeroChunkTurnFinishesSilently(t *testing.T) {
	agg := NewAggregator()
	if units := agg.Complete("t1"); len(units) != 0 {
		t.Errorf("zero-chunk turn produced %d units", len(units))
	}
}

func TestWhitespaceOnlyTrailingTextIsDropped(t *testing.T) {
	agg := NewAggregator()
	agg.Add(Chunk{TurnID: "t1", Seq: 0, Text: "  \n"})
	if units := agg.Complete("t1"); len(units) != 0 {
		t.Errorf("whitespace turn produced %d units", len(units))
	}
}

func TestOutOfOrderChunksAreReordered(t *testing.T) {
	agg := NewAggregator()
	var units []Unit
	// Seq 1 arrives first and must wait for seq 0.
	units = append(units, agg.Add(Chunk{TurnID: "t1", Seq: 1, Text: "world!"})...)
	if len(units) != 0 {
		t.Fatalf("gapped chunk emitted %d units", len(units))
	}
	units = append(units, agg.Add(Chunk{TurnID: "t1", Seq: 0, Text: "Hello, "})...)
	if got := textsOf(units); !equalStrings(got, []string{"Hello, world!"}) {
		t.Errorf("units = %q, want [Hello, world!]", got)
	}
}

func TestDuplicateAndReplayedChunksAreDropped(t *testing.T) {
	agg := NewAggregator()
	agg.Add(Chunk{TurnID: "t1", Seq: 0, Text: "One."})
	if units := agg.Add(Chunk{TurnID: "t1", Seq: 0, Text: "One."}); len(units) != 0 {
		t.Errorf("replayed chunk emitted %d units", len(units))
	}
	agg.Add(Chunk{TurnID: "t1", Seq: 2, Text: "Three."})
	if units := agg.Add(Chunk{TurnID: "t1", Seq: 2, Text: "Three again."}); len(units) != 0 {
		t.Errorf("duplicate pending chunk emitted %d units", len(units))
	}
}

func TestAudioChunkBypassesAggregation(t *testing.T) {
	agg := NewAggregator()
	var units []Unit
	units = append(units, agg.Add(Chunk{TurnID: "t1", Seq: 0, Text: "Listen "})...)
	units = append(units, agg.Add(Chunk{TurnID: "t1", Seq: 1, Audio: []byte{1, 2, 3}, Encoding: EncodingPCM16})...)
	units = append(units, agg.Complete("t1")...)

	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	// Buffered text is flushed ahead of the audio to preserve seq order.
	if units[0].IsAudio() || units[0].Text != "Listen " {
		t.Errorf("unit 0 = %+v, want buffered text", units[0])
	}
	if !units[1].IsAudio() || units[1].Encoding != EncodingPCM16 {
		t.Errorf("unit 1 = %+v, want audio passthrough", units[1])
	}
}

func TestTurnsAreIndependent(t *testing.T) {
	agg := NewAggregator()
	agg.Add(Chunk{TurnID: "t1", Seq: 0, Text: "First "})
	u2 := agg.Add(Chunk{TurnID: "t2", Seq: 0, Text: "Second."})
	if got := textsOf(u2); !equalStrings(got, []string{"Second."}) {
		t.Errorf("t2 units = %q", got)
	}
	if extra := agg.Complete("t2"); len(extra) != 0 {
		t.Errorf("t2 completion emitted %d extra units", len(extra))
	}
	u1 := agg.Complete("t1")
	if got := textsOf(u1); !equalStrings(got, []string{"First "}) {
		t.Errorf("t1 units = %q", got)
	}
}
