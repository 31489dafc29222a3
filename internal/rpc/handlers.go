package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tarnlabs/tarn/internal/bridge"
)

// methodTable builds the static method registry. Method names are the wire
// contract with the host; renaming one is a breaking change.
func methodTable(b *bridge.Bridge) map[string]handlerFunc {
	return map[string]handlerFunc{
		"ping": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return "pong", nil
		},
		"initModel": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return b.InitializeModel(ctx), nil
		},

		"addIssue": func(ctx context.Context, params json.RawMessage) (any, error) {
			fields, err := unmarshalFields(params)
			if err != nil {
				return nil, err
			}
			return b.AddIssue(ctx, fields)
		},
		"getIssue": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p struct {
				ID string `json:"id"`
			}
			if err := unmarshalParams(params, &p); err != nil {
				return nil, err
			}
			return b.GetIssue(ctx, p.ID)
		},
		"searchIssues": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p struct {
				Query       string `json:"query"`
				Status      string `json:"status"`
				Label       string `json:"label"`
				UpdatedFrom string `json:"updated_from"`
				UpdatedTo   string `json:"updated_to"`
				Limit       int    `json:"limit"`
				Offset      int    `json:"offset"`
			}
			if err := unmarshalParams(params, &p); err != nil {
				return nil, err
			}
			from, err := optionalTime("updated_from", p.UpdatedFrom)
			if err != nil {
				return nil, err
			}
			to, err := optionalTime("updated_to", p.UpdatedTo)
			if err != nil {
				return nil, err
			}
			return b.SearchIssues(ctx, bridge.IssueSearch{
				Query:       p.Query,
				Status:      p.Status,
				Label:       p.Label,
				UpdatedFrom: from,
				UpdatedTo:   to,
				Limit:       p.Limit,
				Offset:      p.Offset,
			})
		},

		"getState": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return b.GetState(ctx)
		},
		"updateState": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p struct {
				Content string `json:"content"`
			}
			if err := unmarshalParams(params, &p); err != nil {
				return nil, err
			}
			if err := b.UpdateState(ctx, p.Content); err != nil {
				return nil, err
			}
			return true, nil
		},

		"addPond": func(ctx context.Context, params json.RawMessage) (any, error) {
			fields, err := unmarshalFields(params)
			if err != nil {
				return nil, err
			}
			return b.AddEntry(ctx, fields)
		},
		"getPond": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p struct {
				ID string `json:"id"`
			}
			if err := unmarshalParams(params, &p); err != nil {
				return nil, err
			}
			return b.GetEntry(ctx, p.ID)
		},
		"searchPond": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p struct {
				Query   string `json:"query"`
				Context string `json:"context"`
				Source  string `json:"source"`
				From    string `json:"from"`
				To      string `json:"to"`
				Limit   int    `json:"limit"`
				Offset  int    `json:"offset"`
			}
			if err := unmarshalParams(params, &p); err != nil {
				return nil, err
			}
			from, err := optionalTime("from", p.From)
			if err != nil {
				return nil, err
			}
			to, err := optionalTime("to", p.To)
			if err != nil {
				return nil, err
			}
			return b.SearchPond(ctx, bridge.PondSearch{
				Query:   p.Query,
				Context: p.Context,
				Source:  p.Source,
				From:    from,
				To:      to,
				Limit:   p.Limit,
				Offset:  p.Offset,
			})
		},
		"getPondSources": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return b.PondSources(ctx)
		},

		"addKnowledge": func(ctx context.Context, params json.RawMessage) (any, error) {
			fields, err := unmarshalFields(params)
			if err != nil {
				return nil, err
			}
			return b.AddKnowledge(ctx, fields)
		},
		"getKnowledge": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p struct {
				ID string `json:"id"`
			}
			if err := unmarshalParams(params, &p); err != nil {
				return nil, err
			}
			return b.GetKnowledge(ctx, p.ID)
		},
		"searchKnowledge": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p struct {
				Query  string `json:"query"`
				Type   string `json:"type"`
				Limit  int    `json:"limit"`
				Offset int    `json:"offset"`
			}
			if err := unmarshalParams(params, &p); err != nil {
				return nil, err
			}
			return b.SearchKnowledge(ctx, bridge.KnowledgeSearch{
				Query:  p.Query,
				Type:   p.Type,
				Limit:  p.Limit,
				Offset: p.Offset,
			})
		},
		"voteKnowledge": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p struct {
				ID   string `json:"id"`
				Vote string `json:"vote"`
			}
			if err := unmarshalParams(params, &p); err != nil {
				return nil, err
			}
			return b.VoteKnowledge(ctx, p.ID, p.Vote)
		},

		"addSchedule": func(ctx context.Context, params json.RawMessage) (any, error) {
			fields, err := unmarshalFields(params)
			if err != nil {
				return nil, err
			}
			return b.AddSchedule(ctx, fields)
		},
		"getSchedule": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p struct {
				ID string `json:"id"`
			}
			if err := unmarshalParams(params, &p); err != nil {
				return nil, err
			}
			return b.GetSchedule(ctx, p.ID)
		},
		"updateSchedule": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p struct {
				ID      string         `json:"id"`
				Updates map[string]any `json:"updates"`
			}
			if err := unmarshalParams(params, &p); err != nil {
				return nil, err
			}
			return b.UpdateSchedule(ctx, p.ID, p.Updates)
		},
		"searchSchedules": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p struct {
				IssueID string `json:"issue_id"`
				Status  string `json:"status"`
				Limit   int    `json:"limit"`
				Offset  int    `json:"offset"`
			}
			if err := unmarshalParams(params, &p); err != nil {
				return nil, err
			}
			return b.SearchSchedules(ctx, bridge.ScheduleSearch{
				IssueID: p.IssueID,
				Status:  p.Status,
				Limit:   p.Limit,
				Offset:  p.Offset,
			})
		},

		"clearDB": func(ctx context.Context, _ json.RawMessage) (any, error) {
			if err := b.Reset(ctx); err != nil {
				return nil, err
			}
			return true, nil
		},
	}
}

// unmarshalParams decodes params into v. Absent params leave v zero-valued;
// malformed params are a caller error.
func unmarshalParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &bridge.ValidationError{Invalid: []string{"params must be an object: " + err.Error()}}
	}
	return nil
}

// unmarshalFields decodes a write payload into the field map the bridge
// validates.
func unmarshalFields(params json.RawMessage) (map[string]any, error) {
	fields := map[string]any{}
	if err := unmarshalParams(params, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// optionalTime parses an optional RFC 3339 range bound.
func optionalTime(name, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, &bridge.ValidationError{
			Invalid: []string{fmt.Sprintf("field %q is not a valid RFC 3339 timestamp", name)},
		}
	}
	t = t.UTC().Truncate(time.Millisecond)
	return &t, nil
}
