package bridge

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tarnlabs/tarn/internal/query"
	"github.com/tarnlabs/tarn/internal/store"
)

// KnowledgeSearch describes a searchKnowledge call.
type KnowledgeSearch struct {
	Query  string
	Type   string
	Limit  int
	Offset int
}

// AddKnowledge validates fields and inserts a knowledge entry. Vote counters
// start at zero unless the payload seeds them; the embedding covers the
// content text.
func (b *Bridge) AddKnowledge(ctx context.Context, fields map[string]any) (Knowledge, error) {
	if err := validateKnowledgeFields(fields); err != nil {
		return Knowledge{}, err
	}

	id, _ := asString(fields["id"])
	if id == "" {
		id = uuid.NewString()
	}
	kind, _ := asString(fields["type"])
	content, _ := asString(fields["content"])
	upvotes, _ := asInt(fields["upvotes"])
	downvotes, _ := asInt(fields["downvotes"])
	sources, _ := asStringList(fields["sources"])
	if sources == nil {
		sources = []string{}
	}

	row := store.Row{
		"id":         id,
		"type":       kind,
		"content":    content,
		"upvotes":    upvotes,
		"downvotes":  downvotes,
		"sources":    sources,
		"created_at": nowMillis(),
		"vector":     b.encodeOrZero(ctx, content),
	}

	tbl, err := b.db.OpenTable(ctx, knowledgeTable)
	if err != nil {
		return Knowledge{}, fmt.Errorf("opening knowledge table: %w", err)
	}
	if err := tbl.Insert(ctx, []store.Row{row}); err != nil {
		return Knowledge{}, fmt.Errorf("inserting knowledge: %w", err)
	}
	return knowledgeFromRow(row), nil
}

// GetKnowledge looks up one knowledge entry by id. A missing entry returns
// nil.
func (b *Bridge) GetKnowledge(ctx context.Context, id string) (*Knowledge, error) {
	tbl, err := b.db.OpenTable(ctx, knowledgeTable)
	if err != nil {
		return nil, fmt.Errorf("opening knowledge table: %w", err)
	}
	rows, err := tbl.Scan(ctx, (&store.Predicate{}).Eq("id", id))
	if err != nil {
		return nil, fmt.Errorf("reading knowledge: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	k := knowledgeFromRow(rows[0])
	return &k, nil
}

// SearchKnowledge runs a hybrid search over knowledge entries: semantic
// ranking against the content embedding when a query is given, plus an exact
// type filter.
func (b *Bridge) SearchKnowledge(ctx context.Context, req KnowledgeSearch) (KnowledgePage, error) {
	tbl, err := b.db.OpenTable(ctx, knowledgeTable)
	if err != nil {
		return KnowledgePage{}, fmt.Errorf("opening knowledge table: %w", err)
	}

	var filters query.Filters
	if req.Type != "" {
		filters.Exact = append(filters.Exact, query.FieldValue{Field: "type", Value: req.Type})
	}

	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}
	page, err := b.engine.Search(ctx, tbl, query.Request{
		Query:     req.Query,
		Filters:   filters,
		TextField: "content",
		TimeField: "created_at",
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	if err != nil {
		return KnowledgePage{}, err
	}

	items := make([]Knowledge, len(page.Results))
	for i, r := range page.Results {
		items[i] = knowledgeFromRow(r.Row)
		items[i].Score = r.Score
	}
	return KnowledgePage{
		Items:   items,
		Total:   page.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: page.HasMore,
	}, nil
}

// VoteKnowledge increments one of an entry's vote counters. vote must be
// "up" or "down". Returns ErrNotFound when the entry does not exist.
func (b *Bridge) VoteKnowledge(ctx context.Context, id, vote string) (Knowledge, error) {
	var counter string
	switch vote {
	case "up":
		counter = "upvotes"
	case "down":
		counter = "downvotes"
	default:
		return Knowledge{}, &ValidationError{
			Invalid: []string{fmt.Sprintf("vote must be up or down, got %q", vote)},
		}
	}

	tbl, err := b.db.OpenTable(ctx, knowledgeTable)
	if err != nil {
		return Knowledge{}, fmt.Errorf("opening knowledge table: %w", err)
	}

	merged, err := rewriteRow(ctx, tbl, "id", id, func(current store.Row) (store.Row, error) {
		next := store.Row{}
		for k, v := range current {
			next[k] = v
		}
		next[counter] = current.Int(counter) + 1
		return next, nil
	})
	if err != nil {
		return Knowledge{}, err
	}
	return knowledgeFromRow(merged), nil
}
