// Package retriever implements the hybrid retrieval pipeline: a lexical and
// a vector search lane fused into one candidate ordering, followed by late
// chunking of the selected items with a deterministic chunk cache.
package retriever

// FTS (lexical lane) option values.
const (
	FTSModeWeb    = "web"
	FTSModePlain  = "plain"
	FTSModePhrase = "phrase"
	FTSModeStrict = "strict"

	RankFuncTSRankCD = "ts_rank_cd"
	RankFuncTSRank   = "ts_rank"
)

// Vector lane distance metrics.
const (
	DistanceCosine = "cosine"
	DistanceIP     = "ip"
	DistanceL2     = "l2"
)

// Chunking strategy values.
const (
	ChunkStrategyLate = "late"
)

// FTSOptions tunes the lexical lane.
type FTSOptions struct {
	Mode        string   `json:"mode"`
	Config      *string  `json:"config,omitempty"`
	RankFunc    string   `json:"rank_func"`
	MinRank     *float64 `json:"min_rank,omitempty"`
	AllowStrict bool     `json:"allow_strict"`
}

// VectorOptions tunes the vector lane.
type VectorOptions struct {
	EmbedQuery bool     `json:"embed_query"`
	Distance   string   `json:"distance"`
	MinScore   *float64 `json:"min_score,omitempty"`
}

// ScoringOptions tunes lane fusion.
type ScoringOptions struct {
	Blend     string  `json:"blend"`
	WText     float64 `json:"w_text"`
	WVec      float64 `json:"w_vec"`
	Normalize string  `json:"normalize"`
}

// ChunkingOptions tunes late chunking.
type ChunkingOptions struct {
	Strategy       string `json:"strategy"`
	ChunkerID      string `json:"chunker_id"`
	IncludeHeaders bool   `json:"include_headers"`
	MaxChunkTokens int    `json:"max_chunk_tokens,omitempty"`
	OverlapTokens  int    `json:"overlap_tokens,omitempty"`
}

// CacheOptions tunes the derived-chunk cache.
type CacheOptions struct {
	UseChunkCache   bool `json:"use_chunk_cache"`
	WriteChunkCache bool `json:"write_chunk_cache"`
	TTLSeconds      *int `json:"ttl_seconds,omitempty"`
}

// SnippetOptions tunes snippet extraction for packed sources.
type SnippetOptions struct {
	MaxChars           int  `json:"max_chars"`
	PreferChunkSnippet bool `json:"prefer_chunk_snippet"`
}

// Prefs is the full retrieval preference set for one search call.
type Prefs struct {
	QueryText string         `json:"query_text"`
	Filters   map[string]any `json:"filters,omitempty"`

	TopKItems       int `json:"top_k_items"`
	TopKChunks      int `json:"top_k_chunks"`
	PerItemChunkCap int `json:"per_item_chunk_cap"`

	FTS      FTSOptions      `json:"fts"`
	Vector   VectorOptions   `json:"vector"`
	Scoring  ScoringOptions  `json:"scoring"`
	Chunking ChunkingOptions `json:"chunking"`
	Cache    CacheOptions    `json:"cache"`
	Snippet  SnippetOptions  `json:"snippet"`

	Debug bool `json:"debug"`
}

// DefaultPrefs returns the preference defaults. Callers materializing prefs
// from request params should unmarshal onto this value so absent fields keep
// their defaults.
func DefaultPrefs() Prefs {
	return Prefs{
		TopKItems:       20,
		TopKChunks:      12,
		PerItemChunkCap: 3,
		FTS: FTSOptions{
			Mode:     FTSModeWeb,
			RankFunc: RankFuncTSRankCD,
		},
		Vector: VectorOptions{
			EmbedQuery: true,
			Distance:   DistanceCosine,
		},
		Scoring: ScoringOptions{
			Blend:     BlendRRF,
			WText:     0.35,
			WVec:      0.65,
			Normalize: NormalizeSigmoid,
		},
		Chunking: ChunkingOptions{
			Strategy:       ChunkStrategyLate,
			ChunkerID:      "default",
			IncludeHeaders: true,
		},
		Cache: CacheOptions{
			UseChunkCache:   true,
			WriteChunkCache: true,
		},
		Snippet: SnippetOptions{
			MaxChars:           360,
			PreferChunkSnippet: true,
		},
	}
}

// Snippet provenance values on CandidateItem.SnippetFrom.
const (
	SnippetFromChunk   = "chunk"
	SnippetFromDoc     = "doc"
	SnippetFromUnknown = "unknown"
)

// CandidateItem is a whole item surfaced by retrieval, with fused score and
// per-lane diagnostics. Ranks are 1-based within their lane.
type CandidateItem struct {
	ItemID    string         `json:"item_id"`
	Kind      string         `json:"kind"`
	Source    string         `json:"source"`
	SourceRef string         `json:"source_ref,omitempty"`
	Title     string         `json:"title,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	Score     float64  `json:"score"`
	ScoreText *float64 `json:"score_text,omitempty"`
	ScoreVec  *float64 `json:"score_vec,omitempty"`
	RankText  *int     `json:"rank_text,omitempty"`
	RankVec   *int     `json:"rank_vec,omitempty"`

	Snippet     string `json:"snippet,omitempty"`
	SnippetFrom string `json:"snippet_from"`
}

// EvidenceChunk is a scored text slice of a candidate, used for snippets and
// grounded synthesis. ChunkID follows the "{item_id}:{chunk_index}"
// convention.
type EvidenceChunk struct {
	ItemID  string `json:"item_id"`
	ChunkID string `json:"chunk_id,omitempty"`

	Text       string `json:"text"`
	StartIdx   *int   `json:"start_idx,omitempty"`
	EndIdx     *int   `json:"end_idx,omitempty"`
	TokenCount *int   `json:"token_count,omitempty"`

	Score     float64  `json:"score"`
	ScoreText *float64 `json:"score_text,omitempty"`
	ScoreVec  *float64 `json:"score_vec,omitempty"`

	HeadingPath []string       `json:"heading_path,omitempty"`
	Anchors     map[string]any `json:"anchors,omitempty"`
}

// Stats carries per-search diagnostics. Params is only populated when the
// request had debug set.
type Stats struct {
	TimingMS map[string]float64 `json:"timing_ms"`
	Counts   map[string]int     `json:"counts"`
	Params   map[string]any     `json:"params,omitempty"`
}

// Bundle is the full result of one retrieval: fused candidates, globally
// ordered evidence chunks, and stats.
type Bundle struct {
	Candidates []CandidateItem `json:"candidates"`
	Evidence   []EvidenceChunk `json:"evidence"`
	Stats      Stats           `json:"stats"`
}
