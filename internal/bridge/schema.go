package bridge

import (
	"context"
	"fmt"

	"github.com/tarnlabs/tarn/internal/store"
)

// Table names.
const (
	issuesTable    = "issues"
	pondTable      = "pond"
	stateTable     = "state"
	schedulesTable = "schedules"
	knowledgeTable = "knowledge"
)

// stateKey identifies the singleton state row.
const stateKey = "main"

func issuesSchema(dim int) store.Schema {
	return store.Schema{
		Name: issuesTable,
		Fields: []store.Field{
			{Name: "id", Kind: store.KindText},
			{Name: "title", Kind: store.KindText},
			{Name: "description", Kind: store.KindText},
			{Name: "status", Kind: store.KindText},
			{Name: "labels", Kind: store.KindTextList},
			{Name: "updates", Kind: store.KindJSON},
			{Name: "relations", Kind: store.KindJSON},
			{Name: "source_input_ids", Kind: store.KindTextList},
			{Name: "created_at", Kind: store.KindTimestamp},
			{Name: "updated_at", Kind: store.KindTimestamp},
			{Name: "vector", Kind: store.KindVector, Dim: dim},
		},
	}
}

func pondSchema(dim int) store.Schema {
	return store.Schema{
		Name: pondTable,
		Fields: []store.Field{
			{Name: "id", Kind: store.KindText},
			{Name: "content", Kind: store.KindText},
			{Name: "context", Kind: store.KindText},
			{Name: "source", Kind: store.KindText},
			{Name: "timestamp", Kind: store.KindTimestamp},
			{Name: "metadata", Kind: store.KindJSON},
			{Name: "vector", Kind: store.KindVector, Dim: dim},
		},
	}
}

func stateSchema() store.Schema {
	return store.Schema{
		Name: stateTable,
		Fields: []store.Field{
			{Name: "id", Kind: store.KindText},
			{Name: "content", Kind: store.KindText},
			{Name: "updated_at", Kind: store.KindTimestamp},
		},
	}
}

func schedulesSchema() store.Schema {
	return store.Schema{
		Name: schedulesTable,
		Fields: []store.Field{
			{Name: "id", Kind: store.KindText},
			{Name: "issue_id", Kind: store.KindText},
			{Name: "request", Kind: store.KindText},
			{Name: "action", Kind: store.KindText},
			{Name: "next_run", Kind: store.KindTimestamp},
			{Name: "last_run", Kind: store.KindTimestamp},
			{Name: "pattern", Kind: store.KindText},
			{Name: "occurrences", Kind: store.KindInt},
			{Name: "max_occurrences", Kind: store.KindInt},
			{Name: "dedupe_key", Kind: store.KindText},
			{Name: "status", Kind: store.KindText},
			{Name: "created_at", Kind: store.KindTimestamp},
			{Name: "updated_at", Kind: store.KindTimestamp},
		},
	}
}

func knowledgeSchema(dim int) store.Schema {
	return store.Schema{
		Name: knowledgeTable,
		Fields: []store.Field{
			{Name: "id", Kind: store.KindText},
			{Name: "type", Kind: store.KindText},
			{Name: "content", Kind: store.KindText},
			{Name: "upvotes", Kind: store.KindInt},
			{Name: "downvotes", Kind: store.KindInt},
			{Name: "sources", Kind: store.KindTextList},
			{Name: "created_at", Kind: store.KindTimestamp},
			{Name: "vector", Kind: store.KindVector, Dim: dim},
		},
	}
}

// allSchemas returns every table schema for the given vector width.
func allSchemas(dim int) []store.Schema {
	return []store.Schema{
		issuesSchema(dim),
		pondSchema(dim),
		stateSchema(),
		schedulesSchema(),
		knowledgeSchema(dim),
	}
}

// InitTables creates any missing tables and seeds the singleton state row.
// Safe to call from several worker processes racing through startup: table
// creation treats "already exists" as benign and the state seed is skipped
// when a row is already there.
func (b *Bridge) InitTables(ctx context.Context) error {
	for _, schema := range allSchemas(b.dim) {
		if _, err := b.db.CreateTable(ctx, schema); err != nil {
			return fmt.Errorf("initializing table %q: %w", schema.Name, err)
		}
	}

	state, err := b.db.OpenTable(ctx, stateTable)
	if err != nil {
		return fmt.Errorf("opening state table: %w", err)
	}
	existing, err := state.Scan(ctx, (&store.Predicate{}).Eq("id", stateKey))
	if err != nil {
		return fmt.Errorf("checking state row: %w", err)
	}
	if len(existing) == 0 {
		if err := state.Insert(ctx, []store.Row{{
			"id":         stateKey,
			"content":    "",
			"updated_at": nowMillis(),
		}}); err != nil {
			return fmt.Errorf("seeding state row: %w", err)
		}
	}
	return nil
}

// Reset drops and recreates every table. Test/ops utility; all data is lost.
func (b *Bridge) Reset(ctx context.Context) error {
	for _, schema := range allSchemas(b.dim) {
		if err := b.db.DropTable(ctx, schema.Name); err != nil {
			return fmt.Errorf("dropping table %q: %w", schema.Name, err)
		}
	}
	return b.InitTables(ctx)
}
