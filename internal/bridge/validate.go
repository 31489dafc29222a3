package bridge

import (
	"fmt"
	"strings"
)

// ValidationError reports every problem with a write payload at once:
// all missing required fields and all mistyped or out-of-range ones.
// Validation failures prevent insertion entirely; there are no partial writes.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Missing, ", "))
	}
	parts = append(parts, e.Invalid...)
	return strings.Join(parts, "; ")
}

func (e *ValidationError) ok() error {
	if len(e.Missing) == 0 && len(e.Invalid) == 0 {
		return nil
	}
	return e
}

// Allowed enum values.
var (
	issueStatuses    = []string{"open", "closed"}
	scheduleStatuses = []string{"active", "completed", "cancelled"}
	knowledgeTypes   = []string{"solution", "pattern", "best_practice", "reference"}
)

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// asString extracts a string value.
func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// asStringList accepts []string or a decoded-JSON []any of strings.
func asStringList(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// asInt accepts integral values in any of the shapes JSON decoding produces.
func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func checkString(e *ValidationError, fields map[string]any, name string) {
	if v, present := fields[name]; present && v != nil {
		if _, ok := asString(v); !ok {
			e.Invalid = append(e.Invalid, fmt.Sprintf("field %q must be a string", name))
		}
	}
}

func checkStringList(e *ValidationError, fields map[string]any, name string) {
	if v, present := fields[name]; present && v != nil {
		if _, ok := asStringList(v); !ok {
			e.Invalid = append(e.Invalid, fmt.Sprintf("field %q must be a list of strings", name))
		}
	}
}

func checkInt(e *ValidationError, fields map[string]any, name string) {
	if v, present := fields[name]; present && v != nil {
		if _, ok := asInt(v); !ok {
			e.Invalid = append(e.Invalid, fmt.Sprintf("field %q must be an integer", name))
		}
	}
}

func checkEnum(e *ValidationError, fields map[string]any, name string, allowed []string) {
	if v, present := fields[name]; present && v != nil {
		s, ok := asString(v)
		if !ok || !oneOf(s, allowed) {
			e.Invalid = append(e.Invalid, fmt.Sprintf("field %q must be one of %s", name, strings.Join(allowed, ", ")))
		}
	}
}

func checkTimestamp(e *ValidationError, fields map[string]any, name string) {
	if v, present := fields[name]; present && v != nil {
		s, ok := asString(v)
		if !ok {
			e.Invalid = append(e.Invalid, fmt.Sprintf("field %q must be an RFC 3339 timestamp string", name))
			return
		}
		if _, err := parseTime(s); err != nil {
			e.Invalid = append(e.Invalid, fmt.Sprintf("field %q is not a valid RFC 3339 timestamp", name))
		}
	}
}

func requireAll(e *ValidationError, fields map[string]any, names ...string) {
	for _, name := range names {
		if v, present := fields[name]; !present || v == nil {
			e.Missing = append(e.Missing, name)
		}
	}
}

// validateIssueFields gates issue creation. The identifier is optional (one
// is generated when absent); everything else in the record shape is required.
func validateIssueFields(fields map[string]any) error {
	e := &ValidationError{}
	requireAll(e, fields, "title", "description", "status", "labels", "updates", "relations", "source_input_ids")

	checkString(e, fields, "id")
	checkString(e, fields, "title")
	checkString(e, fields, "description")
	checkEnum(e, fields, "status", issueStatuses)
	checkStringList(e, fields, "labels")
	checkStringList(e, fields, "source_input_ids")

	return e.ok()
}

// validatePondFields gates pond entry creation.
func validatePondFields(fields map[string]any) error {
	e := &ValidationError{}
	requireAll(e, fields, "content", "source")

	checkString(e, fields, "id")
	checkString(e, fields, "content")
	checkString(e, fields, "context")
	checkString(e, fields, "source")
	checkTimestamp(e, fields, "timestamp")
	if v, present := fields["metadata"]; present && v != nil {
		if _, ok := asMap(v); !ok {
			e.Invalid = append(e.Invalid, `field "metadata" must be an object`)
		}
	}

	return e.ok()
}

// validateKnowledgeFields gates knowledge creation.
func validateKnowledgeFields(fields map[string]any) error {
	e := &ValidationError{}
	requireAll(e, fields, "type", "content")

	checkString(e, fields, "id")
	checkEnum(e, fields, "type", knowledgeTypes)
	checkString(e, fields, "content")
	checkInt(e, fields, "upvotes")
	checkInt(e, fields, "downvotes")
	checkStringList(e, fields, "sources")

	return e.ok()
}

// validateScheduleFields gates schedule creation.
func validateScheduleFields(fields map[string]any) error {
	e := &ValidationError{}
	requireAll(e, fields, "issue_id", "request", "action")

	checkString(e, fields, "id")
	checkString(e, fields, "issue_id")
	checkString(e, fields, "request")
	checkString(e, fields, "action")
	checkString(e, fields, "pattern")
	checkString(e, fields, "dedupe_key")
	checkEnum(e, fields, "status", scheduleStatuses)
	checkInt(e, fields, "occurrences")
	checkInt(e, fields, "max_occurrences")
	checkTimestamp(e, fields, "next_run")
	checkTimestamp(e, fields, "last_run")

	return e.ok()
}

// validateScheduleUpdate gates partial schedule updates: nothing is required,
// but everything present must be well-typed. Identity fields cannot change.
func validateScheduleUpdate(fields map[string]any) error {
	e := &ValidationError{}

	for _, frozen := range []string{"id", "issue_id", "created_at"} {
		if _, present := fields[frozen]; present {
			e.Invalid = append(e.Invalid, fmt.Sprintf("field %q cannot be updated", frozen))
		}
	}

	checkString(e, fields, "request")
	checkString(e, fields, "action")
	checkString(e, fields, "pattern")
	checkString(e, fields, "dedupe_key")
	checkEnum(e, fields, "status", scheduleStatuses)
	checkInt(e, fields, "occurrences")
	checkInt(e, fields, "max_occurrences")
	checkTimestamp(e, fields, "next_run")
	checkTimestamp(e, fields, "last_run")

	return e.ok()
}
