package chunker

import (
	"math"
	"unicode/utf8"
)

type TextChunk struct {
	Content string `json:"text"`
	Index   int    `json:"index"`
	Start   int    `json:"-"` // rune offset
	End     int    `json:"-"`
}

// DefaultChunkSize is the target chunk length used for RAG indexing.
const DefaultChunkSize = 2000

// Segment cuts text into consecutive chunks of size runes with no overlap,
// so the chunk count always matches EstimateCount. Chunk indexes are dense
// and start at zero.
func Segment(text string, size int) []TextChunk {
	if size <= 0 {
		size = DefaultChunkSize
	}

	var chunks []TextChunk
	runes := []rune(text)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, TextChunk{
			Content: string(runes[start:end]),
			Index:   len(chunks),
			Start:   start,
			End:     end,
		})
	}
	return chunks
}

// EstimateCount returns ceil(len(text)/size) measured in runes.
func EstimateCount(text string, size int) int {
	if size <= 0 {
		size = DefaultChunkSize
	}
	n := utf8.RuneCountInString(text)
	return int(math.Ceil(float64(n) / float64(size)))
}
