package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiblox/orchestrator/pkg/retriever"
)

func TestTSQueryFunc_Modes(t *testing.T) {
	tests := []struct {
		mode string
		want string
	}{
		{retriever.FTSModeWeb, "websearch_to_tsquery"},
		{"", "websearch_to_tsquery"},
		{retriever.FTSModePlain, "plainto_tsquery"},
		{retriever.FTSModePhrase, "phraseto_tsquery"},
	}
	for _, tt := range tests {
		got, err := tsqueryFunc(tt.mode, false)
		require.NoError(t, err, "mode %q", tt.mode)
		assert.Equal(t, tt.want, got)
	}
}

func TestTSQueryFunc_StrictRequiresOptIn(t *testing.T) {
	_, err := tsqueryFunc(retriever.FTSModeStrict, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, retriever.ErrInvalidArgument)

	got, err := tsqueryFunc(retriever.FTSModeStrict, true)
	require.NoError(t, err)
	assert.Equal(t, "to_tsquery", got)
}

func TestTSQueryFunc_UnknownMode(t *testing.T) {
	_, err := tsqueryFunc("fuzzy", true)
	assert.ErrorIs(t, err, retriever.ErrInvalidArgument)
}

func TestRankFunc(t *testing.T) {
	got, err := rankFunc("")
	require.NoError(t, err)
	assert.Equal(t, "ts_rank_cd", got)

	got, err = rankFunc(retriever.RankFuncTSRank)
	require.NoError(t, err)
	assert.Equal(t, "ts_rank", got)

	_, err = rankFunc("page_rank")
	assert.ErrorIs(t, err, retriever.ErrInvalidArgument)
}

func TestAppendFilters_WhitelistAndDeterminism(t *testing.T) {
	filters := map[string]any{
		"kind":    "doc",
		"source":  "crawler",
		"unknown": "ignored",
	}
	args, where := appendFilters([]any{"seed"}, []string{"tsv @@ q"}, filters)

	// Sorted key order: kind before source; unknown key dropped.
	assert.Equal(t, []any{"seed", "doc", "crawler"}, args)
	assert.Equal(t, []string{"tsv @@ q", "kind = $2", "source = $3"}, where)
}

func TestChunkIndexFromID(t *testing.T) {
	ch := retriever.EvidenceChunk{ChunkID: "item-1:7"}
	assert.Equal(t, 7, chunkIndexFromID(ch, 0))

	assert.Equal(t, 4, chunkIndexFromID(retriever.EvidenceChunk{}, 4))
	assert.Equal(t, 2, chunkIndexFromID(retriever.EvidenceChunk{ChunkID: "weird:x"}, 2))
}
