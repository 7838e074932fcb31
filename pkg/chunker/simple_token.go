package chunker

import "strings"

// Default parameters for SimpleTokenLikeChunker.
const (
	defaultMaxChunkTokens = 200
	defaultOverlapTokens  = 0
)

// SimpleTokenLikeChunker splits text on whitespace and emits space-joined
// token runs. Character offsets are not preserved (joining normalizes
// whitespace); token counts are reported instead.
//
// TODO: swap the whitespace split for a real tokenizer once an embedding
// model with a published vocabulary is wired in.
type SimpleTokenLikeChunker struct{}

// NewSimpleTokenLikeChunker creates the token-like chunker.
func NewSimpleTokenLikeChunker() *SimpleTokenLikeChunker { return &SimpleTokenLikeChunker{} }

// ID implements Chunker.
func (c *SimpleTokenLikeChunker) ID() string { return "simple_token_like@v1" }

// Chunk implements Chunker. Same sliding rule as the char chunker, over
// tokens instead of characters.
func (c *SimpleTokenLikeChunker) Chunk(text string, opts Options) []Chunk {
	if text == "" {
		return nil
	}
	maxTokens := opts.MaxChunkTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxChunkTokens
	}
	overlap := opts.OverlapTokens
	if overlap < 0 {
		overlap = defaultOverlapTokens
	}
	if overlap >= maxTokens {
		overlap = maxTokens - 1
	}

	tokens := strings.Fields(text)
	var chunks []Chunk
	start := 0
	chunkIndex := 0
	for start < len(tokens) {
		end := start + maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		run := tokens[start:end]
		if len(run) > 0 {
			chunks = append(chunks, Chunk{
				ChunkIndex: chunkIndex,
				Text:       strings.Join(run, " "),
				TokenCount: intPtr(len(run)),
			})
			chunkIndex++
		}
		if end >= len(tokens) {
			break
		}
		start = end - overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}
