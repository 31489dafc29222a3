// Package query implements hybrid retrieval over a store table: vector
// similarity search blended with exact/substring/range filters, a
// text-substring fallback, distance normalization into bounded relevance
// scores, and pagination.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tarnlabs/tarn/internal/store"
)

// candidateLimit caps the vector-branch working set. It is deliberately much
// larger than any sane limit+offset: the store may not interleave predicate
// filtering with similarity ordering correctly when under-fetched, and
// pagination totals must be computed over the whole filtered set.
const candidateLimit = 2000

// syntheticDistanceStep spaces fallback distances when the store reports none.
// Any strictly rank-monotone placeholder works; the value itself carries no
// meaning.
const syntheticDistanceStep = 0.01

// FieldValue pairs a field name with the value it is matched against.
type FieldValue struct {
	Field string
	Value string
}

// TimeRange is an inclusive [From, To] bound on a timestamp field. Either
// bound may be nil.
type TimeRange struct {
	Field string
	From  *time.Time
	To    *time.Time
}

// Filters are the structured constraints of a search. All parts are optional
// and combine with logical AND.
type Filters struct {
	Exact  []FieldValue // field-level equality
	Substr []FieldValue // case-insensitive substring match
	Range  *TimeRange
}

// predicate translates the filters into a store predicate, or nil when empty.
func (f Filters) predicate() *store.Predicate {
	p := &store.Predicate{}
	for _, fv := range f.Exact {
		p.Eq(fv.Field, fv.Value)
	}
	for _, fv := range f.Substr {
		p.Like(fv.Field, fv.Value)
	}
	if f.Range != nil {
		if f.Range.From != nil {
			p.Gte(f.Range.Field, *f.Range.From)
		}
		if f.Range.To != nil {
			p.Lte(f.Range.Field, *f.Range.To)
		}
	}
	if len(p.Conds) == 0 {
		return nil
	}
	return p
}

// Request describes one search.
type Request struct {
	// Query is the free-text query. Empty means filter-only.
	Query string
	// Context, when set, biases the embedding: the vector branch embeds a
	// fixed "Context: …\nContent: …" composition instead of Query alone.
	Context string

	Filters Filters

	// TextField is the field the text branch substring-matches Query against.
	TextField string
	// TimeField orders the text branch (descending, most recent first).
	TimeField string

	Limit  int
	Offset int
}

// Result is one matched row with its relevance score. Score is nil on the
// text branch, where no distance exists to derive one from.
type Result struct {
	Row   store.Row
	Score *float64
}

// Page is an ordered slice of results plus pagination metadata. Total counts
// the full filtered set before slicing.
type Page struct {
	Results []Result
	Total   int
	Limit   int
	Offset  int
	HasMore bool
}

// Encoder is the slice of the embedding adapter the engine needs.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	IsLoaded() bool
}

// Searcher is the slice of a store table the engine needs.
type Searcher interface {
	Scan(ctx context.Context, pred *store.Predicate) ([]store.Row, error)
	SimilaritySearch(ctx context.Context, vector []float32, pred *store.Predicate, limit int) ([]store.Match, error)
}

// Engine runs hybrid searches. It owns no persisted state; it only
// orchestrates reads against the store.
type Engine struct {
	enc Encoder
	log *slog.Logger
}

// New creates an Engine using enc for query embeddings.
func New(enc Encoder, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{enc: enc, log: log}
}

// Search executes req against tbl and returns a scored, paginated page.
//
// Branch selection: a non-empty query with a loaded model takes the vector
// branch; everything else, including any vector-branch failure, takes the
// text branch. The fallback trades precision for availability: approximate
// substring matches beat a hard failure while the vector capability is down.
// Predicate translation errors are real caller errors and are returned.
func (e *Engine) Search(ctx context.Context, tbl Searcher, req Request) (Page, error) {
	if req.Limit < 0 {
		req.Limit = 0
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.Query != "" && e.enc.IsLoaded() {
		page, err := e.vectorSearch(ctx, tbl, req)
		if err == nil {
			return page, nil
		}
		if isPredicateError(err) {
			return Page{}, err
		}
		e.log.Warn("similarity search unavailable, falling back to text match", "error", err)
	}

	return e.textSearch(ctx, tbl, req)
}

func (e *Engine) vectorSearch(ctx context.Context, tbl Searcher, req Request) (Page, error) {
	text := req.Query
	if req.Context != "" {
		text = "Context: " + req.Context + "\nContent: " + req.Query
	}

	vec, err := e.enc.Encode(ctx, text)
	if err != nil {
		return Page{}, fmt.Errorf("encoding query: %w", err)
	}

	matches, err := tbl.SimilaritySearch(ctx, vec, req.Filters.predicate(), candidateLimit)
	if err != nil {
		return Page{}, fmt.Errorf("similarity scan: %w", err)
	}

	distances := make([]float64, len(matches))
	for i, m := range matches {
		if m.HasDistance {
			distances[i] = m.Distance
		} else {
			distances[i] = float64(i+1) * syntheticDistanceStep
		}
	}
	scores := normalizeScores(distances)

	// The store's similarity ranking is the ordering; scores are a monotone
	// transform of it, so no re-sort happens here.
	results := make([]Result, len(matches))
	for i, m := range matches {
		s := scores[i]
		results[i] = Result{Row: m.Row, Score: &s}
	}
	return paginate(results, req.Limit, req.Offset), nil
}

func (e *Engine) textSearch(ctx context.Context, tbl Searcher, req Request) (Page, error) {
	rows, err := tbl.Scan(ctx, req.Filters.predicate())
	if err != nil {
		return Page{}, fmt.Errorf("scanning: %w", err)
	}

	if req.Query != "" && req.TextField != "" {
		needle := strings.ToLower(req.Query)
		filtered := rows[:0]
		for _, row := range rows {
			if strings.Contains(strings.ToLower(row.String(req.TextField)), needle) {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	if req.TimeField != "" {
		sort.SliceStable(rows, func(i, j int) bool {
			ti, iok := rows[i].Time(req.TimeField)
			tj, jok := rows[j].Time(req.TimeField)
			if iok != jok {
				return iok // rows without a timestamp sort last
			}
			return ti.After(tj)
		})
	}

	results := make([]Result, len(rows))
	for i, row := range rows {
		results[i] = Result{Row: row}
	}
	return paginate(results, req.Limit, req.Offset), nil
}

// normalizeScores turns distances into [0,1] relevance scores using inverted
// min–max normalization: the closest row scores 1, the farthest 0. Degenerate
// sets follow the fallback policy: one row scores 1, all-equal distances all
// score 1, empty input has no scores.
func normalizeScores(distances []float64) []float64 {
	if len(distances) == 0 {
		return nil
	}
	scores := make([]float64, len(distances))
	if len(distances) == 1 {
		scores[0] = 1
		return scores
	}

	min, max := distances[0], distances[0]
	for _, d := range distances[1:] {
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	if max == min {
		for i := range scores {
			scores[i] = 1
		}
		return scores
	}

	for i, d := range distances {
		scores[i] = 1 - (d-min)/(max-min)
	}
	return scores
}

// paginate slices results to the half-open window [offset, offset+limit) and
// fills in the page metadata. Total is the size before slicing.
func paginate(results []Result, limit, offset int) Page {
	total := len(results)

	lo := offset
	if lo > total {
		lo = total
	}
	hi := lo + limit
	if hi > total {
		hi = total
	}

	return Page{
		Results: results[lo:hi],
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}

// Paginate pages a plain row set with no scores. Used by searches that never
// rank (schedules have no vector field).
func Paginate(rows []store.Row, limit, offset int) Page {
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	results := make([]Result, len(rows))
	for i, row := range rows {
		results[i] = Result{Row: row}
	}
	return paginate(results, limit, offset)
}

// isPredicateError distinguishes caller errors (bad filter fields) from
// capability failures; only the latter trigger the text fallback.
func isPredicateError(err error) bool {
	var bad *store.BadPredicateError
	return errors.As(err, &bad)
}
