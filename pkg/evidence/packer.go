// Package evidence turns ranked retrieval candidates and their chunks into a
// bounded, snippet-bearing source list suitable for the wire protocol.
package evidence

import (
	"math"
	"sort"

	"github.com/aiblox/orchestrator/pkg/retriever"
)

// Ordering policies for Pack.
const (
	OrderByScore = "score"
	OrderByRank  = "rank"
	OrderByInput = "input"
)

// SourceItem is one packed source. Rank is the 1-based position in the packed
// output, not a per-lane rank.
type SourceItem struct {
	SourceID    string         `json:"source_id"`
	Kind        string         `json:"kind"`
	Title       string         `json:"title,omitempty"`
	URL         string         `json:"url,omitempty"`
	Snippet     *string        `json:"snippet"`
	SnippetFrom string         `json:"snippet_from"`
	Score       float64        `json:"score"`
	Rank        int            `json:"rank"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// PackOptions controls selection, ordering, snippets, and metadata filtering.
type PackOptions struct {
	MaxSources          int
	OrderBy             string
	PreferChunkSnippets bool
	MaxSnippetChars     int
	IncludeMetadataKeys []string
	ExcludeMetadataKeys []string
}

// DefaultPackOptions returns the packing defaults.
func DefaultPackOptions() PackOptions {
	return PackOptions{
		MaxSources:          6,
		OrderBy:             OrderByScore,
		PreferChunkSnippets: true,
		MaxSnippetChars:     360,
	}
}

// Pack is a pure function of its inputs: repeated calls with equal arguments
// produce structurally equal output.
func Pack(candidates []retriever.CandidateItem, chunks []retriever.EvidenceChunk, opts PackOptions) []SourceItem {
	ordered := orderCandidates(candidates, opts.OrderBy)
	if opts.MaxSources > 0 && len(ordered) > opts.MaxSources {
		ordered = ordered[:opts.MaxSources]
	}

	bestChunks := bestChunkByItem(chunks)

	out := make([]SourceItem, 0, len(ordered))
	for i, cand := range ordered {
		snippet, from := selectSnippet(cand, bestChunks, opts)
		out = append(out, SourceItem{
			SourceID:    cand.ItemID,
			Kind:        cand.Kind,
			Title:       cand.Title,
			URL:         cand.SourceRef,
			Snippet:     snippet,
			SnippetFrom: from,
			Score:       cand.Score,
			Rank:        i + 1,
			Metadata:    filterMetadata(cand.Metadata, opts),
		})
	}
	return out
}

// orderCandidates applies the ordering policy without mutating the input.
func orderCandidates(candidates []retriever.CandidateItem, orderBy string) []retriever.CandidateItem {
	ordered := append([]retriever.CandidateItem(nil), candidates...)
	switch orderBy {
	case OrderByInput:
		// Preserve input order.
	case OrderByRank:
		sort.SliceStable(ordered, func(i, j int) bool {
			ri, rj := bestLaneRank(ordered[i]), bestLaneRank(ordered[j])
			if ri != rj {
				return ri < rj
			}
			return ordered[i].Score > ordered[j].Score
		})
	default: // score
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Score > ordered[j].Score
		})
	}
	return ordered
}

// bestLaneRank is min(rank_text, rank_vec) with absent ranks treated as +∞.
func bestLaneRank(c retriever.CandidateItem) float64 {
	best := math.Inf(1)
	if c.RankText != nil {
		best = math.Min(best, float64(*c.RankText))
	}
	if c.RankVec != nil {
		best = math.Min(best, float64(*c.RankVec))
	}
	return best
}

// bestChunkByItem keeps the highest-scored chunk per item, first-wins on ties.
func bestChunkByItem(chunks []retriever.EvidenceChunk) map[string]retriever.EvidenceChunk {
	best := make(map[string]retriever.EvidenceChunk)
	for _, ch := range chunks {
		cur, ok := best[ch.ItemID]
		if !ok || ch.Score > cur.Score {
			best[ch.ItemID] = ch
		}
	}
	return best
}

func selectSnippet(cand retriever.CandidateItem, bestChunks map[string]retriever.EvidenceChunk, opts PackOptions) (*string, string) {
	if opts.PreferChunkSnippets {
		if ch, ok := bestChunks[cand.ItemID]; ok && ch.Text != "" {
			s := truncate(ch.Text, opts.MaxSnippetChars)
			return &s, retriever.SnippetFromChunk
		}
	}
	doc := cand.Summary
	if doc == "" {
		doc = cand.Snippet
	}
	if doc != "" {
		s := truncate(doc, opts.MaxSnippetChars)
		return &s, retriever.SnippetFromDoc
	}
	return nil, retriever.SnippetFromUnknown
}

// truncate caps s at max code points, never splitting a rune.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max])
	}
	return s
}

// filterMetadata applies the whitelist first, then the blacklist. Empty input
// metadata stays nil.
func filterMetadata(meta map[string]any, opts PackOptions) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]any, len(meta))
	if len(opts.IncludeMetadataKeys) > 0 {
		for _, k := range opts.IncludeMetadataKeys {
			if v, ok := meta[k]; ok {
				out[k] = v
			}
		}
	} else {
		for k, v := range meta {
			out[k] = v
		}
	}
	for _, k := range opts.ExcludeMetadataKeys {
		delete(out, k)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
