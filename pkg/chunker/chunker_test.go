package chunker

import (
	"strings"
	"testing"
)

func TestSegmentMatchesEstimate(t *testing.T) {
	for _, n := range []int{0, 1, 1999, 2000, 2001, 59_999, 60_000, 1_000_001} {
		text := strings.Repeat("x", n)
		chunks := Segment(text, 2000)
		if got, want := len(chunks), EstimateCount(text, 2000); got != want {
			t.Errorf("len %d: %d chunks, estimate %d", n, got, want)
		}
	}
}

func TestSegmentCoversTextInOrder(t *testing.T) {
	text := strings.Repeat("é漢a", 1500) // multi-byte runes
	chunks := Segment(text, 2000)

	var b strings.Builder
	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("chunk %d has index %d", i, c.Index)
		}
		if i < len(chunks)-1 && len([]rune(c.Content)) != 2000 {
			t.Errorf("chunk %d has %d runes", i, len([]rune(c.Content)))
		}
		b.WriteString(c.Content)
	}
	if b.String() != text {
		t.Error("chunks do not reassemble the input")
	}
}

func TestPriorityCount(t *testing.T) {
	p := DefaultPriorityPolicy()
	tests := []struct {
		total, want int
	}{
		{0, 0},
		{30, 0},
		{49, 0},
		{50, 10},
		{51, 11},
		{123, 25},
		{500, 100},
		{501, 100},
		{5000, 100},
	}
	for _, tt := range tests {
		if got := p.PriorityCount(tt.total); got != tt.want {
			t.Errorf("PriorityCount(%d) = %d, want %d", tt.total, got, tt.want)
		}
	}
}

func TestSelectPriority(t *testing.T) {
	chunks := Segment(strings.Repeat("y", 500*2000), 2000)
	part := SelectPriority(chunks, DefaultPriorityPolicy())
	if !part.Split {
		t.Fatal("expected a split for 500 chunks")
	}
	if len(part.Priority) != 100 || len(part.Remainder) != 400 {
		t.Errorf("priority=%d remainder=%d", len(part.Priority), len(part.Remainder))
	}
	if part.Remainder[0].Index != 100 {
		t.Errorf("remainder starts at %d", part.Remainder[0].Index)
	}

	small := SelectPriority(chunks[:30], DefaultPriorityPolicy())
	if small.Split || len(small.Priority) != 30 || len(small.Remainder) != 0 {
		t.Errorf("small document should not split: %+v", small.Split)
	}
}

func TestBatches(t *testing.T) {
	chunks := Segment(strings.Repeat("z", 420*10), 10)
	batches := Batches(chunks[20:], 50)
	if len(batches) != 8 {
		t.Fatalf("got %d batches, want 8", len(batches))
	}
	if len(batches[7]) != 50 {
		t.Errorf("last batch has %d chunks", len(batches[7]))
	}
	if batches[1][0].Index != 70 {
		t.Errorf("second batch starts at %d", batches[1][0].Index)
	}
	if got := Batches(chunks[:3], 50); len(got) != 1 || len(got[0]) != 3 {
		t.Errorf("short input batches = %v", got)
	}
}

func TestSegmentDefaultsSize(t *testing.T) {
	chunks := Segment(strings.Repeat("x", DefaultChunkSize+1), 0)
	if len(chunks) != 2 || chunks[1].Start != DefaultChunkSize {
		t.Errorf("got %d chunks", len(chunks))
	}
	if Segment("", 10) != nil {
		t.Error("empty text must yield no chunks")
	}
}
