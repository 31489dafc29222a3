package bridge

import (
	"context"
	"fmt"

	"github.com/tarnlabs/tarn/internal/store"
)

// The store supports append and predicate delete but no in-place update, so
// single-row mutation is expressed as read-current-state, compute-next-state,
// atomically-replace. Both helpers assume a single writer per table; two
// processes rewriting the same logical row concurrently can lose one update.

// replaceByKey gives a keyed row upsert semantics: drop whatever rows carry
// the key, then append the replacement.
func replaceByKey(ctx context.Context, tbl store.Table, keyField, key string, row store.Row) error {
	if _, err := tbl.DeleteWhere(ctx, (&store.Predicate{}).Eq(keyField, key)); err != nil {
		return fmt.Errorf("deleting %s=%q: %w", keyField, key, err)
	}
	if err := tbl.Insert(ctx, []store.Row{row}); err != nil {
		return fmt.Errorf("inserting %s=%q: %w", keyField, key, err)
	}
	return nil
}

// rewriteRow updates one logical row via a full-table rewrite: read every
// row, replace the one carrying the key with merge's output, and swap the
// table contents atomically. O(table size) per update, which is acceptable
// only for tables expected to stay small (schedules); do not reach for this
// on high-churn entities.
//
// Returns ErrNotFound when no row carries the key.
func rewriteRow(ctx context.Context, tbl store.Table, keyField, key string, merge func(store.Row) (store.Row, error)) (store.Row, error) {
	rows, err := tbl.Scan(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("reading %q for rewrite: %w", tbl.Name(), err)
	}

	idx := -1
	for i, row := range rows {
		if row.String(keyField) == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrNotFound
	}

	merged, err := merge(rows[idx])
	if err != nil {
		return nil, err
	}

	next := make([]store.Row, 0, len(rows))
	next = append(next, rows[:idx]...)
	next = append(next, rows[idx+1:]...)
	next = append(next, merged)

	if err := tbl.Rewrite(ctx, next); err != nil {
		return nil, fmt.Errorf("rewriting %q: %w", tbl.Name(), err)
	}
	return merged, nil
}
