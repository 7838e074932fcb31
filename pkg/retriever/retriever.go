package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aiblox/orchestrator/pkg/chunker"
	"github.com/aiblox/orchestrator/pkg/protocol"
)

// Item is the read-only view of a stored knowledge-base item that the
// retriever consumes. Repositories map their rows into this shape.
type Item struct {
	ID          string
	OwnerUserID string
	Kind        string
	Source      string
	SourceRef   string
	Title       string
	Summary     string
	ContentText string
	ContentHash string
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ItemSearcher is the item repository contract consumed by the retriever.
// Implementations must be safe for concurrent use across requests.
type ItemSearcher interface {
	// SearchFTS ranks items against the query text lexically, descending,
	// capped at prefs.TopKItems.
	SearchFTS(ctx context.Context, queryText string, prefs Prefs) ([]LaneResult, error)

	// SearchVec ranks items by similarity to the query vector under
	// prefs.Vector.Distance, descending, capped at prefs.TopKItems.
	SearchVec(ctx context.Context, queryVec []float32, prefs Prefs) ([]LaneResult, error)

	// FetchItemsByIDs fetches items in no particular order; callers rejoin
	// by id. Unknown ids are silently absent from the result.
	FetchItemsByIDs(ctx context.Context, ids []string) ([]Item, error)
}

// ChunkCacheKey identifies one derived chunk set. Together with the chunk
// index it forms the unique key of the persisted cache.
type ChunkCacheKey struct {
	ItemID       string
	ContentHash  string
	ChunkerID    string
	EmbedModelID string
}

func (k ChunkCacheKey) String() string {
	return k.ItemID + "|" + k.ContentHash + "|" + k.ChunkerID + "|" + k.EmbedModelID
}

// ChunkCache is the derived-chunk cache contract.
type ChunkCache interface {
	// GetCachedChunks returns all cached chunks for the key, in chunk_index
	// order. A miss is (nil, nil).
	GetCachedChunks(ctx context.Context, key ChunkCacheKey) ([]EvidenceChunk, error)

	// WriteCachedChunks persists chunks atomically. Conflicts on the unique
	// key do nothing, so concurrent writers and retries are safe.
	WriteCachedChunks(ctx context.Context, key ChunkCacheKey, ownerUserID string, chunks []EvidenceChunk) error
}

// HybridRetriever orchestrates fetch → fuse → hydrate → late-chunk → cache.
//
// Chunking for a given cache key is wrapped in an in-process single-flight
// so concurrent requests for the same item do the CPU work once; the DB
// unique key stays the durable tiebreaker for the cache write itself.
type HybridRetriever struct {
	items    ItemSearcher
	cache    ChunkCache
	registry *chunker.Registry
	embedder Embedder
	flight   singleflight.Group
	logger   *slog.Logger
}

// NewHybridRetriever wires the retrieval pipeline.
func NewHybridRetriever(items ItemSearcher, cache ChunkCache, registry *chunker.Registry, embedder Embedder) *HybridRetriever {
	return &HybridRetriever{
		items:    items,
		cache:    cache,
		registry: registry,
		embedder: embedder,
		logger:   slog.With("component", "retriever"),
	}
}

// Search runs the full hybrid retrieval pipeline for one request.
func (r *HybridRetriever) Search(rctx *protocol.RequestContext, prefs Prefs) (*Bundle, error) {
	ctx := rctx.Context()
	timings := make(map[string]float64)
	counts := make(map[string]int)

	// Lexical lane.
	start := time.Now()
	ftsResults, err := r.items.SearchFTS(ctx, prefs.QueryText, prefs)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	timings["fts_ms"] = float64(time.Since(start).Microseconds()) / 1000.0
	counts["fts"] = len(ftsResults)

	// Vector lane, only when query embedding is enabled.
	var queryVec []float32
	var vecResults []LaneResult
	if prefs.Vector.EmbedQuery {
		start = time.Now()
		queryVec, err = r.embedder.EmbedQuery(ctx, prefs.QueryText)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		vecResults, err = r.items.SearchVec(ctx, queryVec, prefs)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
		timings["vec_ms"] = float64(time.Since(start).Microseconds()) / 1000.0
		counts["vec"] = len(vecResults)
	}

	scorer := NewHybridScorer(prefs.Scoring)
	fused := scorer.Fuse(ftsResults, vecResults, prefs.TopKItems)

	// Hydrate fused ids; drop candidates whose item is gone.
	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ItemID
	}
	items, err := r.items.FetchItemsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch items: %w", err)
	}
	itemMap := make(map[string]Item, len(items))
	for _, it := range items {
		itemMap[it.ID] = it
	}

	candidates := make([]CandidateItem, 0, len(fused))
	for _, f := range fused {
		if rctx.Cancelled() {
			return nil, context.Canceled
		}
		item, ok := itemMap[f.ItemID]
		if !ok {
			continue
		}
		candidates = append(candidates, CandidateItem{
			ItemID:      item.ID,
			Kind:        item.Kind,
			Source:      item.Source,
			SourceRef:   item.SourceRef,
			Title:       item.Title,
			Summary:     item.Summary,
			Metadata:    item.Metadata,
			Score:       f.Score,
			ScoreText:   f.ScoreText,
			ScoreVec:    f.ScoreVec,
			RankText:    f.RankText,
			RankVec:     f.RankVec,
			SnippetFrom: SnippetFromUnknown,
		})
	}

	evidence, err := r.lateChunk(rctx, prefs, candidates, itemMap, queryVec)
	if err != nil {
		return nil, err
	}

	counts["candidates"] = len(candidates)
	counts["evidence"] = len(evidence)
	stats := Stats{TimingMS: timings, Counts: counts}
	if prefs.Debug {
		stats.Params = map[string]any{
			"fts":      prefs.FTS,
			"vector":   prefs.Vector,
			"chunking": prefs.Chunking,
		}
	}
	return &Bundle{Candidates: candidates, Evidence: evidence, Stats: stats}, nil
}

// lateChunk derives scored evidence chunks for each surviving candidate,
// consulting and populating the chunk cache, then returns the global
// top-K-chunks ordering.
func (r *HybridRetriever) lateChunk(
	rctx *protocol.RequestContext,
	prefs Prefs,
	candidates []CandidateItem,
	itemMap map[string]Item,
	queryVec []float32,
) ([]EvidenceChunk, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	ctx := rctx.Context()

	chunkerID := prefs.Chunking.ChunkerID
	if chunkerID == "" {
		chunkerID = chunker.DefaultAlias
	}
	chnk, err := r.registry.Get(chunkerID)
	if err != nil {
		return nil, err
	}
	opts := chunker.Options{
		IncludeHeaders: prefs.Chunking.IncludeHeaders,
		MaxChunkTokens: prefs.Chunking.MaxChunkTokens,
		OverlapTokens:  prefs.Chunking.OverlapTokens,
	}

	var evidence []EvidenceChunk
	for _, cand := range candidates {
		if rctx.Cancelled() {
			return nil, context.Canceled
		}
		item, ok := itemMap[cand.ItemID]
		if !ok || item.ContentText == "" {
			continue
		}
		key := ChunkCacheKey{
			ItemID:       cand.ItemID,
			ContentHash:  item.ContentHash,
			ChunkerID:    chnk.ID(),
			EmbedModelID: r.embedder.ModelID(),
		}

		if prefs.Cache.UseChunkCache {
			cached, err := r.cache.GetCachedChunks(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("chunk cache read: %w", err)
			}
			if len(cached) > 0 {
				perItem, err := r.scoreChunks(ctx, cached, queryVec)
				if err != nil {
					return nil, err
				}
				evidence = append(evidence, capChunks(perItem, prefs.PerItemChunkCap)...)
				continue
			}
		}

		// Cache miss: chunking is deduplicated across concurrent requests
		// for the same key; scoring stays per-request because it depends
		// on the query vector.
		chunksAny, err, _ := r.flight.Do(key.String(), func() (any, error) {
			return chnk.Chunk(item.ContentText, opts), nil
		})
		if err != nil {
			return nil, err
		}
		rawChunks := chunksAny.([]chunker.Chunk)

		perItem := make([]EvidenceChunk, 0, len(rawChunks))
		for _, rc := range rawChunks {
			perItem = append(perItem, EvidenceChunk{
				ItemID:      cand.ItemID,
				ChunkID:     fmt.Sprintf("%s:%d", cand.ItemID, rc.ChunkIndex),
				Text:        rc.Text,
				StartIdx:    rc.StartIdx,
				EndIdx:      rc.EndIdx,
				TokenCount:  rc.TokenCount,
				HeadingPath: rc.HeadingPath,
				Anchors:     rc.Anchors,
			})
		}
		perItem, err = r.scoreChunks(ctx, perItem, queryVec)
		if err != nil {
			return nil, err
		}
		perItem = capChunks(perItem, prefs.PerItemChunkCap)
		evidence = append(evidence, perItem...)

		if prefs.Cache.WriteChunkCache && len(perItem) > 0 {
			if err := r.cache.WriteCachedChunks(ctx, key, item.OwnerUserID, perItem); err != nil {
				return nil, fmt.Errorf("chunk cache write: %w", err)
			}
		}
	}

	sort.SliceStable(evidence, func(i, j int) bool {
		return evidence[i].Score > evidence[j].Score
	})
	if prefs.TopKChunks > 0 && len(evidence) > prefs.TopKChunks {
		evidence = evidence[:prefs.TopKChunks]
	}
	return evidence, nil
}

// scoreChunks assigns cosine-similarity scores against the query vector and
// sorts descending. Without a query vector all scores are 0.0 and the input
// order is preserved.
func (r *HybridRetriever) scoreChunks(ctx context.Context, chunks []EvidenceChunk, queryVec []float32) ([]EvidenceChunk, error) {
	if len(chunks) == 0 || len(queryVec) == 0 {
		for i := range chunks {
			chunks[i].Score = 0.0
		}
		return chunks, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := r.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	for i := range chunks {
		score := cosineSimilarity(queryVec, vecs[i])
		chunks[i].Score = score
		chunks[i].ScoreVec = &score
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})
	return chunks, nil
}

func capChunks(chunks []EvidenceChunk, cap int) []EvidenceChunk {
	if cap > 0 && len(chunks) > cap {
		return chunks[:cap]
	}
	return chunks
}
