package bridge

import (
	"context"
	"fmt"

	"github.com/tarnlabs/tarn/internal/store"
)

// GetState returns the singleton state document. A fresh store (or one whose
// seed row was lost) reads as empty content, never as an error.
func (b *Bridge) GetState(ctx context.Context) (StateDocument, error) {
	tbl, err := b.db.OpenTable(ctx, stateTable)
	if err != nil {
		return StateDocument{}, fmt.Errorf("opening state table: %w", err)
	}

	rows, err := tbl.Scan(ctx, (&store.Predicate{}).Eq("id", stateKey))
	if err != nil {
		return StateDocument{}, fmt.Errorf("reading state: %w", err)
	}
	if len(rows) == 0 {
		return StateDocument{}, nil
	}

	doc := StateDocument{Content: rows[0].String("content")}
	if t, ok := rows[0].Time("updated_at"); ok {
		doc.UpdatedAt = formatTime(t)
	}
	return doc, nil
}

// UpdateState replaces the singleton state document with content, stamped at
// the current millisecond-floored instant.
func (b *Bridge) UpdateState(ctx context.Context, content string) error {
	tbl, err := b.db.OpenTable(ctx, stateTable)
	if err != nil {
		return fmt.Errorf("opening state table: %w", err)
	}

	return replaceByKey(ctx, tbl, "id", stateKey, store.Row{
		"id":         stateKey,
		"content":    content,
		"updated_at": nowMillis(),
	})
}
