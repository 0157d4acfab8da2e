package chunker

import "math"

// PriorityPolicy controls how the front of a document is split off for
// immediate indexing.
type PriorityPolicy struct {
	Fraction  float64 // share of chunks indexed first
	MaxChunks int     // hard cap on the priority set
	MinChunks int     // below this total no split is made
}

func DefaultPriorityPolicy() PriorityPolicy {
	return PriorityPolicy{Fraction: 0.20, MaxChunks: 100, MinChunks: 50}
}

// PriorityCount returns min(ceil(total*Fraction), MaxChunks), or zero when
// total is below MinChunks.
func (p PriorityPolicy) PriorityCount(total int) int {
	if total < p.MinChunks || total <= 0 {
		return 0
	}
	n := int(math.Ceil(float64(total) * p.Fraction))
	if p.MaxChunks > 0 && n > p.MaxChunks {
		n = p.MaxChunks
	}
	return min(n, total)
}

// Partition is the result of SelectPriority.
type Partition struct {
	Split     bool
	Priority  []TextChunk
	Remainder []TextChunk
}

// SelectPriority takes the leading chunks as the priority set. When the
// document is too small to split, every chunk lands in Priority and Split
// is false.
func SelectPriority(chunks []TextChunk, p PriorityPolicy) Partition {
	n := p.PriorityCount(len(chunks))
	if n == 0 {
		return Partition{Priority: chunks}
	}
	return Partition{
		Split:     true,
		Priority:  chunks[:n],
		Remainder: chunks[n:],
	}
}

// Batches groups chunks into consecutive slices of at most size chunks.
func Batches(chunks []TextChunk, size int) [][]TextChunk {
	if size <= 0 {
		size = len(chunks)
	}
	var out [][]TextChunk
	for start := 0; start < len(chunks); start += size {
		out = append(out, chunks[start:min(start+size, len(chunks))])
	}
	return out
}
