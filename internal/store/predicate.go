package store

import (
	"fmt"
	"strings"
	"time"
)

// Op enumerates the comparison operators a predicate condition may use.
type Op int

const (
	// OpEq is field-level equality.
	OpEq Op = iota
	// OpLike is a case-insensitive substring match on a text field.
	OpLike
	// OpGte is an inclusive lower bound.
	OpGte
	// OpLte is an inclusive upper bound.
	OpLte
)

// Cond is one field comparison.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Predicate is a conjunction of conditions. A nil *Predicate (or one with no
// conditions) matches every row.
type Predicate struct {
	Conds []Cond
}

// BadPredicateError is a caller error in filter translation: an unknown field,
// an operator applied to the wrong field kind, or a mistyped value. It is
// distinct from capability failures so callers can report it instead of
// falling back.
type BadPredicateError struct {
	Reason string
}

func (e *BadPredicateError) Error() string { return e.Reason }

func badPredicate(format string, args ...any) error {
	return &BadPredicateError{Reason: fmt.Sprintf(format, args...)}
}

// Eq appends an equality condition and returns the predicate for chaining.
func (p *Predicate) Eq(field string, value any) *Predicate {
	p.Conds = append(p.Conds, Cond{Field: field, Op: OpEq, Value: value})
	return p
}

// Like appends a case-insensitive substring condition.
func (p *Predicate) Like(field, substr string) *Predicate {
	p.Conds = append(p.Conds, Cond{Field: field, Op: OpLike, Value: substr})
	return p
}

// Gte appends an inclusive lower-bound condition.
func (p *Predicate) Gte(field string, value any) *Predicate {
	p.Conds = append(p.Conds, Cond{Field: field, Op: OpGte, Value: value})
	return p
}

// Lte appends an inclusive upper-bound condition.
func (p *Predicate) Lte(field string, value any) *Predicate {
	p.Conds = append(p.Conds, Cond{Field: field, Op: OpLte, Value: value})
	return p
}

// toSQL translates the predicate into a SQL WHERE clause (without the WHERE
// keyword) plus bind arguments, validated against the schema. A translation
// error here is a caller error and is reported as such, never swallowed.
func (p *Predicate) toSQL(schema Schema) (string, []any, error) {
	if p == nil || len(p.Conds) == 0 {
		return "", nil, nil
	}

	clauses := make([]string, 0, len(p.Conds))
	args := make([]any, 0, len(p.Conds))

	for _, c := range p.Conds {
		field, ok := schema.Field(c.Field)
		if !ok {
			return "", nil, badPredicate("predicate references unknown field %q in table %q", c.Field, schema.Name)
		}

		switch c.Op {
		case OpEq:
			v, err := bindValue(field, c.Value)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, quoteIdent(field.Name)+" = ?")
			args = append(args, v)

		case OpLike:
			if field.Kind != KindText && field.Kind != KindTextList && field.Kind != KindJSON {
				return "", nil, badPredicate("substring match on non-text field %q", field.Name)
			}
			s, ok := c.Value.(string)
			if !ok {
				return "", nil, badPredicate("substring match on %q needs a string value, got %T", field.Name, c.Value)
			}
			// instr avoids LIKE wildcard escaping; lower() on both sides makes
			// the match case-insensitive for ASCII, matching the text branch.
			clauses = append(clauses, "instr(lower("+quoteIdent(field.Name)+"), lower(?)) > 0")
			args = append(args, s)

		case OpGte, OpLte:
			if field.Kind != KindTimestamp && field.Kind != KindInt {
				return "", nil, badPredicate("range condition on non-orderable field %q", field.Name)
			}
			v, err := bindValue(field, c.Value)
			if err != nil {
				return "", nil, err
			}
			op := ">="
			if c.Op == OpLte {
				op = "<="
			}
			clauses = append(clauses, quoteIdent(field.Name)+" "+op+" ?")
			args = append(args, v)

		default:
			return "", nil, badPredicate("unknown predicate operator %d", c.Op)
		}
	}

	return strings.Join(clauses, " AND "), args, nil
}

// bindValue converts a predicate value into its SQL representation for the
// given field, rejecting type mismatches.
func bindValue(field Field, value any) (any, error) {
	switch field.Kind {
	case KindText, KindJSON:
		s, ok := value.(string)
		if !ok {
			return nil, badPredicate("field %q needs a string value, got %T", field.Name, value)
		}
		return s, nil
	case KindInt:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		}
		return nil, badPredicate("field %q needs an integer value, got %T", field.Name, value)
	case KindTimestamp:
		t, ok := value.(time.Time)
		if !ok {
			return nil, badPredicate("field %q needs a time value, got %T", field.Name, value)
		}
		return t.UnixMilli(), nil
	default:
		return nil, badPredicate("field %q cannot be used in a predicate", field.Name)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
