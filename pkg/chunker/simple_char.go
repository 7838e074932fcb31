package chunker

// Default parameters for SimpleCharChunker.
const (
	defaultMaxChunkChars = 500
	defaultOverlapChars  = 0
)

// SimpleCharChunker splits text into consecutive character windows with
// optional overlap. Windows and offsets count code points, not bytes, so
// multibyte text never splits mid-rune. Offsets are reported so consumers can
// map chunks back into the source document; token counts are not computed.
type SimpleCharChunker struct{}

// NewSimpleCharChunker creates the char-window chunker.
func NewSimpleCharChunker() *SimpleCharChunker { return &SimpleCharChunker{} }

// ID implements Chunker.
func (c *SimpleCharChunker) ID() string { return "simple_char@v1" }

// Chunk implements Chunker. Windows are [i, min(n, i+max)); after each
// emission the cursor advances to max(0, end-overlap). With overlap >= max
// the cursor would stall, so overlap is clamped to max-1.
func (c *SimpleCharChunker) Chunk(text string, opts Options) []Chunk {
	if text == "" {
		return nil
	}
	maxChars := opts.MaxChunkChars
	if maxChars <= 0 {
		maxChars = defaultMaxChunkChars
	}
	overlap := opts.OverlapChars
	if overlap < 0 {
		overlap = defaultOverlapChars
	}
	if overlap >= maxChars {
		overlap = maxChars - 1
	}

	runes := []rune(text)
	var chunks []Chunk
	idx := 0
	chunkIndex := 0
	n := len(runes)
	for idx < n {
		end := idx + maxChars
		if end > n {
			end = n
		}
		chunks = append(chunks, Chunk{
			ChunkIndex: chunkIndex,
			Text:       string(runes[idx:end]),
			StartIdx:   intPtr(idx),
			EndIdx:     intPtr(end),
		})
		chunkIndex++
		if end >= n {
			break
		}
		idx = end - overlap
		if idx < 0 {
			idx = 0
		}
	}
	return chunks
}
