package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/aiblox/orchestrator/pkg/retriever"
)

// ChunkCacheRepo implements retriever.ChunkCache on the kb_chunk_cache table.
// The unique key (item_id, content_hash, chunker_id, embed_model_id,
// chunk_index) makes concurrent writes and retries idempotent.
type ChunkCacheRepo struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewChunkCacheRepo creates a chunk cache repository on the given handle.
func NewChunkCacheRepo(db *sql.DB) *ChunkCacheRepo {
	return &ChunkCacheRepo{
		db:     db,
		logger: slog.With("component", "chunk_cache_repo"),
	}
}

// GetCachedChunks returns all cached chunks for the key in chunk_index order.
// A miss returns (nil, nil).
func (r *ChunkCacheRepo) GetCachedChunks(ctx context.Context, key retriever.ChunkCacheKey) ([]retriever.EvidenceChunk, error) {
	query, args := entsql.Dialect(dialect.Postgres).
		Select("item_id", "chunk_index", "text", "start_idx", "end_idx", "token_count", "heading_path", "anchors").
		From(entsql.Table("kb_chunk_cache")).
		Where(entsql.And(
			entsql.EQ("item_id", key.ItemID),
			entsql.EQ("content_hash", key.ContentHash),
			entsql.EQ("chunker_id", key.ChunkerID),
			entsql.EQ("embed_model_id", key.EmbedModelID),
		)).
		OrderBy(entsql.Asc("chunk_index")).
		Query()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk cache: %w", err)
	}
	defer rows.Close()

	var chunks []retriever.EvidenceChunk
	for rows.Next() {
		var (
			itemID      string
			chunkIndex  int
			text        string
			startIdx    sql.NullInt64
			endIdx      sql.NullInt64
			tokenCount  sql.NullInt64
			headingPath []byte
			anchors     []byte
		)
		if err := rows.Scan(&itemID, &chunkIndex, &text, &startIdx, &endIdx, &tokenCount, &headingPath, &anchors); err != nil {
			return nil, fmt.Errorf("failed to scan cached chunk: %w", err)
		}
		ch := retriever.EvidenceChunk{
			ItemID:  itemID,
			ChunkID: fmt.Sprintf("%s:%d", itemID, chunkIndex),
			Text:    text,
		}
		if startIdx.Valid {
			v := int(startIdx.Int64)
			ch.StartIdx = &v
		}
		if endIdx.Valid {
			v := int(endIdx.Int64)
			ch.EndIdx = &v
		}
		if tokenCount.Valid {
			v := int(tokenCount.Int64)
			ch.TokenCount = &v
		}
		if len(headingPath) > 0 {
			if err := json.Unmarshal(headingPath, &ch.HeadingPath); err != nil {
				return nil, fmt.Errorf("failed to decode heading_path: %w", err)
			}
		}
		if len(anchors) > 0 {
			if err := json.Unmarshal(anchors, &ch.Anchors); err != nil {
				return nil, fmt.Errorf("failed to decode anchors: %w", err)
			}
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

// WriteCachedChunks persists chunks atomically in one transaction. Conflicts
// on the unique key do nothing, so the first writer wins and duplicates are
// silently dropped.
func (r *ChunkCacheRepo) WriteCachedChunks(ctx context.Context, key retriever.ChunkCacheKey, ownerUserID string, chunks []retriever.EvidenceChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	query, args, err := buildChunkCacheInsert(key, ownerUserID, chunks)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin chunk cache tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to write chunk cache: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk cache tx: %w", err)
	}
	return nil
}

// buildChunkCacheInsert builds the multi-row insert. The conflict target must
// stay in lockstep with the uq_kb_chunk_cache_key unique constraint in the
// migrations; drift there breaks insert-ignore idempotency.
func buildChunkCacheInsert(key retriever.ChunkCacheKey, ownerUserID string, chunks []retriever.EvidenceChunk) (string, []any, error) {
	const cols = 12
	placeholders := make([]string, 0, len(chunks))
	args := make([]any, 0, len(chunks)*cols)
	for i, ch := range chunks {
		base := i * cols
		ph := make([]string, cols)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")

		headingPath, err := json.Marshal(ch.HeadingPath)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode heading_path: %w", err)
		}
		anchors, err := json.Marshal(ch.Anchors)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode anchors: %w", err)
		}
		args = append(args,
			key.ItemID, ownerUserID, key.ContentHash, key.ChunkerID, key.EmbedModelID,
			chunkIndexFromID(ch, i), ch.Text,
			nullableInt(ch.StartIdx), nullableInt(ch.EndIdx), nullableInt(ch.TokenCount),
			string(headingPath), string(anchors),
		)
	}

	query := fmt.Sprintf(
		`INSERT INTO kb_chunk_cache
		   (item_id, owner_user_id, content_hash, chunker_id, embed_model_id,
		    chunk_index, text, start_idx, end_idx, token_count, heading_path, anchors)
		 VALUES %s
		 ON CONFLICT (item_id, content_hash, chunker_id, embed_model_id, chunk_index) DO NOTHING`,
		strings.Join(placeholders, ", "),
	)
	return query, args, nil
}

// chunkIndexFromID recovers the chunk index from the "{item_id}:{index}"
// convention, falling back to the positional index.
func chunkIndexFromID(ch retriever.EvidenceChunk, fallback int) int {
	if idx := strings.LastIndex(ch.ChunkID, ":"); idx >= 0 {
		var n int
		if _, err := fmt.Sscanf(ch.ChunkID[idx+1:], "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
