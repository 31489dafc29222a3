// Package bridge implements the domain layer of the worker: the issues, pond,
// state, and schedules tables, their validation rules, and the operations the
// RPC surface exposes over them.
package bridge

import (
	"encoding/json"
	"time"

	"github.com/tarnlabs/tarn/internal/store"
)

// timeLayout renders timestamps with millisecond precision, matching the
// store's resolution.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime accepts RFC 3339 timestamps with or without fractional seconds
// and floors them to millisecond precision.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Truncate(time.Millisecond), nil
}

// nowMillis is the current instant floored to the store's precision.
func nowMillis() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Issue is a structured record. Vector fields never appear in responses.
type Issue struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Status         string          `json:"status"`
	Labels         []string        `json:"labels"`
	Updates        json.RawMessage `json:"updates"`
	Relations      json.RawMessage `json:"relations"`
	SourceInputIDs []string        `json:"source_input_ids"`
	CreatedAt      string          `json:"created_at,omitempty"`
	UpdatedAt      string          `json:"updated_at,omitempty"`
	Score          *float64        `json:"score,omitempty"`
}

// PondEntry is an unstructured, timestamped note.
type PondEntry struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Context   string         `json:"context,omitempty"`
	Source    string         `json:"source"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
	Score     *float64       `json:"score,omitempty"`
}

// Knowledge is a reusable, voted-on finding: a solution, a recurring
// pattern, a best practice, or a reference.
type Knowledge struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Content   string   `json:"content"`
	Upvotes   int64    `json:"upvotes"`
	Downvotes int64    `json:"downvotes"`
	Sources   []string `json:"sources"`
	CreatedAt string   `json:"created_at,omitempty"`
	Score     *float64 `json:"score,omitempty"`
}

// StateDocument is the singleton state row.
type StateDocument struct {
	Content   string `json:"content"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Schedule is a deferred-action record tied to an issue.
type Schedule struct {
	ID             string  `json:"id"`
	IssueID        string  `json:"issue_id"`
	Request        string  `json:"request"`
	Action         string  `json:"action"`
	NextRun        *string `json:"next_run,omitempty"`
	LastRun        *string `json:"last_run,omitempty"`
	Pattern        string  `json:"pattern,omitempty"`
	Occurrences    int64   `json:"occurrences"`
	MaxOccurrences *int64  `json:"max_occurrences,omitempty"`
	DedupeKey      string  `json:"dedupe_key,omitempty"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// IssuePage is one page of issue search results.
type IssuePage struct {
	Items   []Issue `json:"items"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
	HasMore bool    `json:"has_more"`
}

// PondPage is one page of pond search results.
type PondPage struct {
	Items   []PondEntry `json:"items"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

// KnowledgePage is one page of knowledge search results.
type KnowledgePage struct {
	Items   []Knowledge `json:"items"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

// SchedulePage is one page of schedule search results.
type SchedulePage struct {
	Items   []Schedule `json:"items"`
	Total   int        `json:"total"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
	HasMore bool       `json:"has_more"`
}

// decodeJSONField turns a serialized nested-structure column back into
// structured JSON, with a defined fallback when the stored text is empty or
// corrupt.
func decodeJSONField(s string, fallback string) json.RawMessage {
	if s != "" && json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return json.RawMessage(fallback)
}

// decodeMetadata deserializes a metadata column into a mapping, falling back
// to an empty one.
func decodeMetadata(s string) map[string]any {
	out := map[string]any{}
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return map[string]any{}
	}
	return out
}

func issueFromRow(row store.Row) Issue {
	iss := Issue{
		ID:             row.String("id"),
		Title:          row.String("title"),
		Description:    row.String("description"),
		Status:         row.String("status"),
		Labels:         row.StringList("labels"),
		Updates:        decodeJSONField(row.String("updates"), "[]"),
		Relations:      decodeJSONField(row.String("relations"), "[]"),
		SourceInputIDs: row.StringList("source_input_ids"),
	}
	if iss.Labels == nil {
		iss.Labels = []string{}
	}
	if iss.SourceInputIDs == nil {
		iss.SourceInputIDs = []string{}
	}
	if t, ok := row.Time("created_at"); ok {
		iss.CreatedAt = formatTime(t)
	}
	if t, ok := row.Time("updated_at"); ok {
		iss.UpdatedAt = formatTime(t)
	}
	return iss
}

func pondEntryFromRow(row store.Row) PondEntry {
	e := PondEntry{
		ID:       row.String("id"),
		Content:  row.String("content"),
		Context:  row.String("context"),
		Source:   row.String("source"),
		Metadata: decodeMetadata(row.String("metadata")),
	}
	if t, ok := row.Time("timestamp"); ok {
		e.Timestamp = formatTime(t)
	}
	return e
}

func knowledgeFromRow(row store.Row) Knowledge {
	k := Knowledge{
		ID:        row.String("id"),
		Type:      row.String("type"),
		Content:   row.String("content"),
		Upvotes:   row.Int("upvotes"),
		Downvotes: row.Int("downvotes"),
		Sources:   row.StringList("sources"),
	}
	if k.Sources == nil {
		k.Sources = []string{}
	}
	if t, ok := row.Time("created_at"); ok {
		k.CreatedAt = formatTime(t)
	}
	return k
}

func scheduleFromRow(row store.Row) Schedule {
	s := Schedule{
		ID:          row.String("id"),
		IssueID:     row.String("issue_id"),
		Request:     row.String("request"),
		Action:      row.String("action"),
		Pattern:     row.String("pattern"),
		Occurrences: row.Int("occurrences"),
		DedupeKey:   row.String("dedupe_key"),
		Status:      row.String("status"),
	}
	if t, ok := row.Time("next_run"); ok {
		v := formatTime(t)
		s.NextRun = &v
	}
	if t, ok := row.Time("last_run"); ok {
		v := formatTime(t)
		s.LastRun = &v
	}
	if v, ok := row["max_occurrences"].(int64); ok {
		s.MaxOccurrences = &v
	}
	if t, ok := row.Time("created_at"); ok {
		s.CreatedAt = formatTime(t)
	}
	if t, ok := row.Time("updated_at"); ok {
		s.UpdatedAt = formatTime(t)
	}
	return s
}
