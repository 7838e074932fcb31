// Package storage implements the Postgres-backed repositories behind the
// retrieval pipeline: full-text and vector item search plus the derived
// chunk cache.
package storage

import (
	"fmt"

	"github.com/aiblox/orchestrator/pkg/retriever"
)

// defaultTSConfig is the text-search configuration used when prefs leave it
// unset.
const defaultTSConfig = "english"

// tsqueryFunc maps an FTS mode to the Postgres tsquery parser function.
// Strict mode passes raw tsquery syntax through to the server, so it is
// refused unless the caller explicitly allowed it.
func tsqueryFunc(mode string, allowStrict bool) (string, error) {
	switch mode {
	case retriever.FTSModeWeb, "":
		return "websearch_to_tsquery", nil
	case retriever.FTSModePlain:
		return "plainto_tsquery", nil
	case retriever.FTSModePhrase:
		return "phraseto_tsquery", nil
	case retriever.FTSModeStrict:
		if !allowStrict {
			return "", fmt.Errorf("%w: fts mode %q requires allow_strict", retriever.ErrInvalidArgument, mode)
		}
		return "to_tsquery", nil
	default:
		return "", fmt.Errorf("%w: unknown fts mode %q", retriever.ErrInvalidArgument, mode)
	}
}

// rankFunc validates and returns the rank function name for interpolation
// into SQL. Only the two known functions are accepted, so no user-controlled
// text ever reaches the statement.
func rankFunc(name string) (string, error) {
	switch name {
	case retriever.RankFuncTSRankCD, "":
		return "ts_rank_cd", nil
	case retriever.RankFuncTSRank:
		return "ts_rank", nil
	default:
		return "", fmt.Errorf("%w: unknown rank function %q", retriever.ErrInvalidArgument, name)
	}
}
