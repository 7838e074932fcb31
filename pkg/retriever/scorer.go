package retriever

import (
	"math"
	"sort"
)

// Blend modes for HybridScorer.
const (
	BlendRRF    = "rrf"
	BlendLinear = "linear"
)

// Normalization modes for the linear blend.
const (
	NormalizeSigmoid = "sigmoid"
	NormalizeMinMax  = "minmax"
	NormalizeNone    = "none"
)

// defaultRRFK is the standard reciprocal-rank-fusion constant.
const defaultRRFK = 60

// LaneResult is one (item, raw score) pair from a single search lane.
type LaneResult struct {
	ItemID string
	Score  float64
}

// HybridScore is the fused result for one item. Per-lane scores and ranks
// are nil when the item did not appear in that lane.
type HybridScore struct {
	ItemID    string
	Score     float64
	ScoreText *float64
	ScoreVec  *float64
	RankText  *int
	RankVec   *int
}

// HybridScorer fuses lexical and vector lane results into one ordering.
//
// Ranks are always computed on descending raw score with insertion order as
// the tie-break; the fused output is stable-sorted by descending score, so
// equal fused scores also fall back to insertion order (text lane first).
type HybridScorer struct {
	Blend     string
	WText     float64
	WVec      float64
	Normalize string
	K         int
}

// NewHybridScorer creates a scorer with the given scoring options, applying
// the RRF constant default.
func NewHybridScorer(opts ScoringOptions) *HybridScorer {
	return &HybridScorer{
		Blend:     opts.Blend,
		WText:     opts.WText,
		WVec:      opts.WVec,
		Normalize: opts.Normalize,
		K:         defaultRRFK,
	}
}

// Fuse combines both lanes and returns the top topK items by fused score.
// Items absent from a lane contribute zero for that lane.
func (s *HybridScorer) Fuse(textResults, vecResults []LaneResult, topK int) []HybridScore {
	textScores := laneScores(textResults)
	vecScores := laneScores(vecResults)
	textRanks := laneRanks(textResults)
	vecRanks := laneRanks(vecResults)

	var textNorm, vecNorm map[string]float64
	if s.Blend == BlendLinear {
		textNorm = s.normalizeScores(textScores)
		vecNorm = s.normalizeScores(vecScores)
	}

	fused := make([]HybridScore, 0, len(textScores)+len(vecScores))
	for _, itemID := range unionIDs(textResults, vecResults) {
		hs := HybridScore{ItemID: itemID}
		if v, ok := textScores[itemID]; ok {
			hs.ScoreText = &v
		}
		if v, ok := vecScores[itemID]; ok {
			hs.ScoreVec = &v
		}
		if r, ok := textRanks[itemID]; ok {
			hs.RankText = &r
		}
		if r, ok := vecRanks[itemID]; ok {
			hs.RankVec = &r
		}

		if s.Blend == BlendLinear {
			hs.Score = s.WText*textNorm[itemID] + s.WVec*vecNorm[itemID]
		} else {
			hs.Score = s.rrfScore(hs.RankText, hs.RankVec)
		}
		fused = append(fused, hs)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}

// rrfScore is Σ 1/(k + rank) over the lanes the item appeared in.
func (s *HybridScorer) rrfScore(rankText, rankVec *int) float64 {
	k := s.K
	if k <= 0 {
		k = defaultRRFK
	}
	score := 0.0
	if rankText != nil {
		score += 1.0 / float64(k+*rankText)
	}
	if rankVec != nil {
		score += 1.0 / float64(k+*rankVec)
	}
	return score
}

// normalizeScores maps raw lane scores into the blend range per the
// configured policy. Min-max collapses to 1.0 uniformly when all scores are
// equal.
func (s *HybridScorer) normalizeScores(scores map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	switch s.Normalize {
	case NormalizeNone:
		for id, v := range scores {
			out[id] = v
		}
	case NormalizeMinMax:
		if len(scores) == 0 {
			return out
		}
		minV := math.Inf(1)
		maxV := math.Inf(-1)
		for _, v := range scores {
			minV = math.Min(minV, v)
			maxV = math.Max(maxV, v)
		}
		if maxV == minV {
			for id := range scores {
				out[id] = 1.0
			}
			return out
		}
		for id, v := range scores {
			out[id] = (v - minV) / (maxV - minV)
		}
	default: // sigmoid
		for id, v := range scores {
			out[id] = 1.0 / (1.0 + math.Exp(-v))
		}
	}
	return out
}

func laneScores(results []LaneResult) map[string]float64 {
	scores := make(map[string]float64, len(results))
	for _, r := range results {
		if _, seen := scores[r.ItemID]; !seen {
			scores[r.ItemID] = r.Score
		}
	}
	return scores
}

// laneRanks assigns 1-based ranks by descending raw score, keeping lane
// order for ties.
func laneRanks(results []LaneResult) map[string]int {
	deduped := make([]LaneResult, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if !seen[r.ItemID] {
			seen[r.ItemID] = true
			deduped = append(deduped, r)
		}
	}
	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Score > deduped[j].Score
	})
	ranks := make(map[string]int, len(deduped))
	for i, r := range deduped {
		ranks[r.ItemID] = i + 1
	}
	return ranks
}

// unionIDs returns all item ids in first-appearance order, text lane first.
func unionIDs(textResults, vecResults []LaneResult) []string {
	seen := make(map[string]bool, len(textResults)+len(vecResults))
	ids := make([]string, 0, len(textResults)+len(vecResults))
	for _, lane := range [][]LaneResult{textResults, vecResults} {
		for _, r := range lane {
			if !seen[r.ItemID] {
				seen[r.ItemID] = true
				ids = append(ids, r.ItemID)
			}
		}
	}
	return ids
}
