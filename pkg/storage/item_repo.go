package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/pgvector/pgvector-go"

	"github.com/aiblox/orchestrator/pkg/retriever"
)

// ItemRepo implements retriever.ItemSearcher on Postgres. FTS runs against
// the precomputed tsv column; vector search runs against the pgvector
// embedding column. Safe for concurrent use.
type ItemRepo struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewItemRepo creates an item repository on the given database handle.
func NewItemRepo(db *sql.DB) *ItemRepo {
	return &ItemRepo{
		db:     db,
		logger: slog.With("component", "item_repo"),
	}
}

// SearchFTS ranks items lexically against the query text.
func (r *ItemRepo) SearchFTS(ctx context.Context, queryText string, prefs retriever.Prefs) ([]retriever.LaneResult, error) {
	parser, err := tsqueryFunc(prefs.FTS.Mode, prefs.FTS.AllowStrict)
	if err != nil {
		return nil, err
	}
	ranker, err := rankFunc(prefs.FTS.RankFunc)
	if err != nil {
		return nil, err
	}
	tsConfig := defaultTSConfig
	if prefs.FTS.Config != nil && *prefs.FTS.Config != "" {
		tsConfig = *prefs.FTS.Config
	}

	args := []any{tsConfig, queryText}
	rankExpr := fmt.Sprintf("%s(tsv, %s($1::regconfig, $2))", ranker, parser)
	where := []string{fmt.Sprintf("tsv @@ %s($1::regconfig, $2)", parser)}

	args, where = appendFilters(args, where, prefs.Filters)
	if prefs.FTS.MinRank != nil {
		args = append(args, *prefs.FTS.MinRank)
		where = append(where, fmt.Sprintf("%s >= $%d", rankExpr, len(args)))
	}
	args = append(args, prefs.TopKItems)

	query := fmt.Sprintf(
		"SELECT id, %s AS rank FROM kb_items WHERE %s ORDER BY rank DESC, id ASC LIMIT $%d",
		rankExpr, strings.Join(where, " AND "), len(args),
	)
	return r.queryLane(ctx, query, args)
}

// SearchVec ranks items by vector similarity to the query embedding.
func (r *ItemRepo) SearchVec(ctx context.Context, queryVec []float32, prefs retriever.Prefs) ([]retriever.LaneResult, error) {
	var scoreExpr, orderExpr string
	switch prefs.Vector.Distance {
	case retriever.DistanceCosine, "":
		scoreExpr = "1 - (embedding <=> $1)"
		orderExpr = "embedding <=> $1 ASC"
	case retriever.DistanceIP:
		scoreExpr = "-(embedding <#> $1)"
		orderExpr = "embedding <#> $1 ASC"
	case retriever.DistanceL2:
		scoreExpr = "-(embedding <-> $1)"
		orderExpr = "embedding <-> $1 ASC"
	default:
		return nil, fmt.Errorf("%w: unknown vector distance %q", retriever.ErrInvalidArgument, prefs.Vector.Distance)
	}

	args := []any{pgvector.NewVector(queryVec)}
	where := []string{"embedding IS NOT NULL"}

	args, where = appendFilters(args, where, prefs.Filters)
	if prefs.Vector.MinScore != nil {
		args = append(args, *prefs.Vector.MinScore)
		where = append(where, fmt.Sprintf("(%s) >= $%d", scoreExpr, len(args)))
	}
	args = append(args, prefs.TopKItems)

	query := fmt.Sprintf(
		"SELECT id, %s AS score FROM kb_items WHERE %s ORDER BY %s LIMIT $%d",
		scoreExpr, strings.Join(where, " AND "), orderExpr, len(args),
	)
	return r.queryLane(ctx, query, args)
}

// FetchItemsByIDs hydrates items in no guaranteed order.
func (r *ItemRepo) FetchItemsByIDs(ctx context.Context, ids []string) ([]retriever.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	vals := make([]any, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	query, args := entsql.Dialect(dialect.Postgres).
		Select(kbItemColumns...).
		From(entsql.Table("kb_items")).
		Where(entsql.In("id", vals...)).
		Query()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch items: %w", err)
	}
	defer rows.Close()

	var items []retriever.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *ItemRepo) queryLane(ctx context.Context, query string, args []any) ([]retriever.LaneResult, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lane query failed: %w", err)
	}
	defer rows.Close()

	var results []retriever.LaneResult
	for rows.Next() {
		var lr retriever.LaneResult
		if err := rows.Scan(&lr.ItemID, &lr.Score); err != nil {
			return nil, fmt.Errorf("failed to scan lane result: %w", err)
		}
		results = append(results, lr)
	}
	return results, rows.Err()
}

// appendFilters adds equality predicates for whitelisted filter keys, in
// sorted key order so generated SQL is deterministic.
func appendFilters(args []any, where []string, filters map[string]any) ([]any, []string) {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		if _, ok := filterColumns[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, filters[k])
		where = append(where, fmt.Sprintf("%s = $%d", filterColumns[k], len(args)))
	}
	return args, where
}
