package bridge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tarnlabs/tarn/internal/query"
	"github.com/tarnlabs/tarn/internal/store"
)

// PondSearch describes a searchPond call. Context doubles as a substring
// filter and as the embedding bias for the semantic branch.
type PondSearch struct {
	Query   string
	Context string
	Source  string
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

// AddEntry validates fields and inserts a pond entry. The entry timestamp
// defaults to now when absent; the embedding covers the content text.
func (b *Bridge) AddEntry(ctx context.Context, fields map[string]any) (PondEntry, error) {
	if err := validatePondFields(fields); err != nil {
		return PondEntry{}, err
	}

	id, _ := asString(fields["id"])
	if id == "" {
		id = uuid.NewString()
	}
	content, _ := asString(fields["content"])
	contextLabel, _ := asString(fields["context"])
	source, _ := asString(fields["source"])

	ts := nowMillis()
	if s, ok := asString(fields["timestamp"]); ok && s != "" {
		parsed, err := parseTime(s)
		if err == nil {
			ts = parsed
		}
	}

	row := store.Row{
		"id":        id,
		"content":   content,
		"context":   contextLabel,
		"source":    source,
		"timestamp": ts,
		"metadata":  marshalJSONField(fields["metadata"], "{}"),
		"vector":    b.encodeOrZero(ctx, content),
	}

	tbl, err := b.db.OpenTable(ctx, pondTable)
	if err != nil {
		return PondEntry{}, fmt.Errorf("opening pond table: %w", err)
	}
	if err := tbl.Insert(ctx, []store.Row{row}); err != nil {
		return PondEntry{}, fmt.Errorf("inserting pond entry: %w", err)
	}
	return pondEntryFromRow(row), nil
}

// batchEncoder is implemented by embedding adapters that can encode several
// texts concurrently.
type batchEncoder interface {
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// AddEntries validates and inserts several pond entries in one store write,
// embedding their contents as a batch when the adapter supports it. All
// entries are validated before anything is written.
func (b *Bridge) AddEntries(ctx context.Context, fieldsList []map[string]any) ([]PondEntry, error) {
	if len(fieldsList) == 0 {
		return nil, nil
	}
	for i, fields := range fieldsList {
		if err := validatePondFields(fields); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}

	contents := make([]string, len(fieldsList))
	for i, fields := range fieldsList {
		contents[i], _ = asString(fields["content"])
	}
	vectors := b.encodeBatchOrZero(ctx, contents)

	rows := make([]store.Row, len(fieldsList))
	entries := make([]PondEntry, len(fieldsList))
	for i, fields := range fieldsList {
		id, _ := asString(fields["id"])
		if id == "" {
			id = uuid.NewString()
		}
		contextLabel, _ := asString(fields["context"])
		source, _ := asString(fields["source"])

		ts := nowMillis()
		if s, ok := asString(fields["timestamp"]); ok && s != "" {
			if parsed, err := parseTime(s); err == nil {
				ts = parsed
			}
		}

		rows[i] = store.Row{
			"id":        id,
			"content":   contents[i],
			"context":   contextLabel,
			"source":    source,
			"timestamp": ts,
			"metadata":  marshalJSONField(fields["metadata"], "{}"),
			"vector":    vectors[i],
		}
		entries[i] = pondEntryFromRow(rows[i])
	}

	tbl, err := b.db.OpenTable(ctx, pondTable)
	if err != nil {
		return nil, fmt.Errorf("opening pond table: %w", err)
	}
	if err := tbl.Insert(ctx, rows); err != nil {
		return nil, fmt.Errorf("inserting pond entries: %w", err)
	}
	return entries, nil
}

func (b *Bridge) encodeBatchOrZero(ctx context.Context, texts []string) [][]float32 {
	if be, ok := b.emb.(batchEncoder); ok {
		vectors, err := be.EncodeBatch(ctx, texts)
		if err == nil && len(vectors) == len(texts) {
			return vectors
		}
		b.log.Warn("batch embedding failed, encoding individually", "error", err)
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = b.encodeOrZero(ctx, text)
	}
	return vectors
}

// GetEntry looks up one pond entry by id. A missing entry returns nil.
func (b *Bridge) GetEntry(ctx context.Context, id string) (*PondEntry, error) {
	tbl, err := b.db.OpenTable(ctx, pondTable)
	if err != nil {
		return nil, fmt.Errorf("opening pond table: %w", err)
	}
	rows, err := tbl.Scan(ctx, (&store.Predicate{}).Eq("id", id))
	if err != nil {
		return nil, fmt.Errorf("reading pond entry: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	e := pondEntryFromRow(rows[0])
	return &e, nil
}

// SearchPond runs a hybrid search over pond entries: exact source match,
// context substring match, inclusive timestamp range, plus semantic or
// substring content matching for a non-empty query.
func (b *Bridge) SearchPond(ctx context.Context, req PondSearch) (PondPage, error) {
	tbl, err := b.db.OpenTable(ctx, pondTable)
	if err != nil {
		return PondPage{}, fmt.Errorf("opening pond table: %w", err)
	}

	var filters query.Filters
	if req.Source != "" {
		filters.Exact = append(filters.Exact, query.FieldValue{Field: "source", Value: req.Source})
	}
	if req.Context != "" {
		filters.Substr = append(filters.Substr, query.FieldValue{Field: "context", Value: req.Context})
	}
	if req.From != nil || req.To != nil {
		filters.Range = &query.TimeRange{Field: "timestamp", From: req.From, To: req.To}
	}

	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}
	page, err := b.engine.Search(ctx, tbl, query.Request{
		Query:     req.Query,
		Context:   req.Context,
		Filters:   filters,
		TextField: "content",
		TimeField: "timestamp",
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	if err != nil {
		return PondPage{}, err
	}

	items := make([]PondEntry, len(page.Results))
	for i, r := range page.Results {
		items[i] = pondEntryFromRow(r.Row)
		items[i].Score = r.Score
	}
	return PondPage{
		Items:   items,
		Total:   page.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: page.HasMore,
	}, nil
}

// PondSources returns the distinct source labels present in the pond, sorted.
func (b *Bridge) PondSources(ctx context.Context) ([]string, error) {
	tbl, err := b.db.OpenTable(ctx, pondTable)
	if err != nil {
		return nil, fmt.Errorf("opening pond table: %w", err)
	}
	rows, err := tbl.Scan(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("reading pond sources: %w", err)
	}

	seen := make(map[string]struct{}, len(rows))
	sources := make([]string, 0, len(rows))
	for _, row := range rows {
		s := row.String("source")
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources, nil
}
