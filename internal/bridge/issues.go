package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tarnlabs/tarn/internal/query"
	"github.com/tarnlabs/tarn/internal/store"
)

// defaultSearchLimit applies when a search request leaves the limit unset.
const defaultSearchLimit = 20

// IssueSearch describes a searchIssues call. All filters are optional.
type IssueSearch struct {
	Query       string
	Status      string
	Label       string
	UpdatedFrom *time.Time
	UpdatedTo   *time.Time
	Limit       int
	Offset      int
}

// AddIssue validates fields, generates an id when absent, embeds the
// title/description composition, and inserts the record. Returns the stored
// issue.
func (b *Bridge) AddIssue(ctx context.Context, fields map[string]any) (Issue, error) {
	if err := validateIssueFields(fields); err != nil {
		return Issue{}, err
	}

	id, _ := asString(fields["id"])
	if id == "" {
		id = uuid.NewString()
	}
	title, _ := asString(fields["title"])
	description, _ := asString(fields["description"])
	status, _ := asString(fields["status"])
	labels, _ := asStringList(fields["labels"])
	sourceIDs, _ := asStringList(fields["source_input_ids"])

	now := nowMillis()
	row := store.Row{
		"id":               id,
		"title":            title,
		"description":      description,
		"status":           status,
		"labels":           labels,
		"updates":          marshalJSONField(fields["updates"], "[]"),
		"relations":        marshalJSONField(fields["relations"], "[]"),
		"source_input_ids": sourceIDs,
		"created_at":       now,
		"updated_at":       now,
		"vector":           b.encodeOrZero(ctx, title+"\n"+description),
	}

	tbl, err := b.db.OpenTable(ctx, issuesTable)
	if err != nil {
		return Issue{}, fmt.Errorf("opening issues table: %w", err)
	}
	if err := tbl.Insert(ctx, []store.Row{row}); err != nil {
		return Issue{}, fmt.Errorf("inserting issue: %w", err)
	}
	return issueFromRow(row), nil
}

// GetIssue looks up one issue by id. A missing issue returns nil, not an
// error.
func (b *Bridge) GetIssue(ctx context.Context, id string) (*Issue, error) {
	tbl, err := b.db.OpenTable(ctx, issuesTable)
	if err != nil {
		return nil, fmt.Errorf("opening issues table: %w", err)
	}
	rows, err := tbl.Scan(ctx, (&store.Predicate{}).Eq("id", id))
	if err != nil {
		return nil, fmt.Errorf("reading issue: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	iss := issueFromRow(rows[0])
	return &iss, nil
}

// SearchIssues runs a hybrid search over issues: semantic ranking against the
// title/description embedding when a query is given, structured filters
// either way.
func (b *Bridge) SearchIssues(ctx context.Context, req IssueSearch) (IssuePage, error) {
	tbl, err := b.db.OpenTable(ctx, issuesTable)
	if err != nil {
		return IssuePage{}, fmt.Errorf("opening issues table: %w", err)
	}

	var filters query.Filters
	if req.Status != "" {
		filters.Exact = append(filters.Exact, query.FieldValue{Field: "status", Value: req.Status})
	}
	if req.Label != "" {
		filters.Substr = append(filters.Substr, query.FieldValue{Field: "labels", Value: req.Label})
	}
	if req.UpdatedFrom != nil || req.UpdatedTo != nil {
		filters.Range = &query.TimeRange{Field: "updated_at", From: req.UpdatedFrom, To: req.UpdatedTo}
	}

	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}
	page, err := b.engine.Search(ctx, tbl, query.Request{
		Query:     req.Query,
		Filters:   filters,
		TextField: "title",
		TimeField: "updated_at",
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	if err != nil {
		return IssuePage{}, err
	}

	items := make([]Issue, len(page.Results))
	for i, r := range page.Results {
		items[i] = issueFromRow(r.Row)
		items[i].Score = r.Score
	}
	return IssuePage{
		Items:   items,
		Total:   page.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: page.HasMore,
	}, nil
}

// marshalJSONField serializes a nested-structure payload value for storage,
// falling back to a defined empty shape when absent or unserializable.
func marshalJSONField(v any, fallback string) string {
	if v == nil {
		return fallback
	}
	if raw, ok := v.(json.RawMessage); ok {
		if json.Valid(raw) {
			return string(raw)
		}
		return fallback
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(data)
}
