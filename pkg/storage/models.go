package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/aiblox/orchestrator/pkg/retriever"
)

// kbItemColumns is the select list for hydrating retriever.Item, in scan
// order.
var kbItemColumns = []string{
	"id", "owner_user_id", "kind", "source", "source_ref",
	"title", "summary", "content_text", "content_hash",
	"metadata", "created_at", "updated_at",
}

// scanItem reads one kb_items row into the retriever's item view.
func scanItem(rows *sql.Rows) (retriever.Item, error) {
	var (
		item      retriever.Item
		sourceRef sql.NullString
		title     sql.NullString
		summary   sql.NullString
		content   sql.NullString
		metadata  []byte
		createdAt time.Time
		updatedAt time.Time
	)
	err := rows.Scan(
		&item.ID, &item.OwnerUserID, &item.Kind, &item.Source, &sourceRef,
		&title, &summary, &content, &item.ContentHash,
		&metadata, &createdAt, &updatedAt,
	)
	if err != nil {
		return retriever.Item{}, err
	}
	item.SourceRef = sourceRef.String
	item.Title = title.String
	item.Summary = summary.String
	item.ContentText = content.String
	item.CreatedAt = createdAt
	item.UpdatedAt = updatedAt
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return retriever.Item{}, err
		}
	}
	return item, nil
}

// filterColumns whitelists the prefs.filters keys that map to kb_items
// attributes. Unknown keys are ignored.
var filterColumns = map[string]string{
	"kind":          "kind",
	"source":        "source",
	"source_ref":    "source_ref",
	"owner_user_id": "owner_user_id",
}
