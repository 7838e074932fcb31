// Package chunker provides deterministic text chunking strategies for late
// chunking: chunks are derived after candidate selection, from the selected
// items' full text, rather than precomputed at ingest.
//
// All strategies are pure functions of (text, options) — byte-identical
// output across calls is part of the contract, because chunk cache rows are
// keyed on the chunker id and must be reproducible.
package chunker

// Chunk is one slice of a source text.
//
// StartIdx/EndIdx are character offsets into the source text and are only
// reported by offset-preserving strategies; TokenCount is only reported by
// token-based strategies.
type Chunk struct {
	ChunkIndex  int            `json:"chunk_index"`
	Text        string         `json:"text"`
	StartIdx    *int           `json:"start_idx,omitempty"`
	EndIdx      *int           `json:"end_idx,omitempty"`
	TokenCount  *int           `json:"token_count,omitempty"`
	HeadingPath []string       `json:"heading_path,omitempty"`
	Anchors     map[string]any `json:"anchors,omitempty"`
}

// Options tunes a chunking run. Zero values select strategy defaults.
type Options struct {
	IncludeHeaders   bool
	MaxChunkTokens   int
	OverlapTokens    int
	MaxChunkChars    int
	OverlapChars     int
}

// Chunker turns text into an ordered list of chunks.
type Chunker interface {
	// ID returns the stable strategy identifier (e.g. "simple_char@v1").
	// It participates in chunk cache keys and must never change for a
	// given algorithm + parameter interpretation.
	ID() string

	// Chunk splits text. Empty input yields an empty (nil) slice.
	Chunk(text string, opts Options) []Chunk
}

func intPtr(v int) *int { return &v }
