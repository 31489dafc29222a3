package bridge

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tarnlabs/tarn/internal/query"
	"github.com/tarnlabs/tarn/internal/store"
)

// ScheduleSearch describes a searchSchedules call. Schedules carry no vector;
// the search is structured-only.
type ScheduleSearch struct {
	IssueID string
	Status  string
	Limit   int
	Offset  int
}

// terminalScheduleStatuses cannot be left once entered.
var terminalScheduleStatuses = []string{"completed", "cancelled"}

// AddSchedule validates fields and inserts a schedule. Status defaults to
// active and the occurrence counter to zero.
func (b *Bridge) AddSchedule(ctx context.Context, fields map[string]any) (Schedule, error) {
	if err := validateScheduleFields(fields); err != nil {
		return Schedule{}, err
	}

	id, _ := asString(fields["id"])
	if id == "" {
		id = uuid.NewString()
	}
	issueID, _ := asString(fields["issue_id"])
	request, _ := asString(fields["request"])
	action, _ := asString(fields["action"])
	pattern, _ := asString(fields["pattern"])
	dedupeKey, _ := asString(fields["dedupe_key"])

	status, _ := asString(fields["status"])
	if status == "" {
		status = "active"
	}
	occurrences, _ := asInt(fields["occurrences"])

	now := nowMillis()
	row := store.Row{
		"id":          id,
		"issue_id":    issueID,
		"request":     request,
		"action":      action,
		"pattern":     pattern,
		"occurrences": occurrences,
		"dedupe_key":  dedupeKey,
		"status":      status,
		"created_at":  now,
		"updated_at":  now,
	}
	if n, ok := asInt(fields["max_occurrences"]); ok {
		row["max_occurrences"] = n
	}
	for _, name := range []string{"next_run", "last_run"} {
		if s, ok := asString(fields[name]); ok && s != "" {
			t, err := parseTime(s)
			if err == nil {
				row[name] = t
			}
		}
	}

	tbl, err := b.db.OpenTable(ctx, schedulesTable)
	if err != nil {
		return Schedule{}, fmt.Errorf("opening schedules table: %w", err)
	}
	if err := tbl.Insert(ctx, []store.Row{row}); err != nil {
		return Schedule{}, fmt.Errorf("inserting schedule: %w", err)
	}
	return scheduleFromRow(row), nil
}

// GetSchedule looks up one schedule by id. A missing schedule returns nil.
func (b *Bridge) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	tbl, err := b.db.OpenTable(ctx, schedulesTable)
	if err != nil {
		return nil, fmt.Errorf("opening schedules table: %w", err)
	}
	rows, err := tbl.Scan(ctx, (&store.Predicate{}).Eq("id", id))
	if err != nil {
		return nil, fmt.Errorf("reading schedule: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	s := scheduleFromRow(rows[0])
	return &s, nil
}

// UpdateSchedule applies a partial update to one schedule via full-table
// rewrite. Identity fields are frozen, status transitions are monotone
// (completed and cancelled are terminal), and updated_at is re-stamped.
// Returns ErrNotFound when the schedule does not exist.
func (b *Bridge) UpdateSchedule(ctx context.Context, id string, fields map[string]any) (Schedule, error) {
	if err := validateScheduleUpdate(fields); err != nil {
		return Schedule{}, err
	}

	tbl, err := b.db.OpenTable(ctx, schedulesTable)
	if err != nil {
		return Schedule{}, fmt.Errorf("opening schedules table: %w", err)
	}

	merged, err := rewriteRow(ctx, tbl, "id", id, func(current store.Row) (store.Row, error) {
		if next, ok := asString(fields["status"]); ok {
			cur := current.String("status")
			if oneOf(cur, terminalScheduleStatuses) && next != cur {
				return nil, &ValidationError{
					Invalid: []string{fmt.Sprintf("status %q is terminal and cannot change to %q", cur, next)},
				}
			}
		}

		next := store.Row{}
		for k, v := range current {
			next[k] = v
		}
		for _, name := range []string{"request", "action", "pattern", "dedupe_key", "status"} {
			if s, ok := asString(fields[name]); ok {
				next[name] = s
			}
		}
		for _, name := range []string{"occurrences", "max_occurrences"} {
			if n, ok := asInt(fields[name]); ok {
				next[name] = n
			}
		}
		for _, name := range []string{"next_run", "last_run"} {
			if s, ok := asString(fields[name]); ok && s != "" {
				t, perr := parseTime(s)
				if perr == nil {
					next[name] = t
				}
			}
		}
		next["updated_at"] = nowMillis()
		return next, nil
	})
	if err != nil {
		return Schedule{}, err
	}
	return scheduleFromRow(merged), nil
}

// SearchSchedules lists schedules matching the structured filters, ordered by
// next_run ascending with unscheduled rows last.
func (b *Bridge) SearchSchedules(ctx context.Context, req ScheduleSearch) (SchedulePage, error) {
	tbl, err := b.db.OpenTable(ctx, schedulesTable)
	if err != nil {
		return SchedulePage{}, fmt.Errorf("opening schedules table: %w", err)
	}

	pred := &store.Predicate{}
	if req.IssueID != "" {
		pred.Eq("issue_id", req.IssueID)
	}
	if req.Status != "" {
		pred.Eq("status", req.Status)
	}
	if len(pred.Conds) == 0 {
		pred = nil
	}

	rows, err := tbl.Scan(ctx, pred)
	if err != nil {
		return SchedulePage{}, fmt.Errorf("reading schedules: %w", err)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		ti, iok := rows[i].Time("next_run")
		tj, jok := rows[j].Time("next_run")
		if iok != jok {
			return iok
		}
		return ti.Before(tj)
	})

	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}
	page := query.Paginate(rows, req.Limit, req.Offset)

	items := make([]Schedule, len(page.Results))
	for i, r := range page.Results {
		items[i] = scheduleFromRow(r.Row)
	}
	return SchedulePage{
		Items:   items,
		Total:   page.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: page.HasMore,
	}, nil
}
