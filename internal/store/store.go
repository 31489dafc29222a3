// Package store provides a minimal façade over an embedded table store with
// vector similarity search: append rows, predicate-filtered scans, similarity
// scans, predicate deletes, and whole-table rewrites. The reference backend is
// SQLite with brute-force cosine distance; the interfaces are kept narrow so a
// native vector database can be swapped in behind them.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrTableNotFound is returned when opening or dropping a table that does not exist.
var ErrTableNotFound = errors.New("table not found")

// FieldKind enumerates the column types a table schema may declare.
type FieldKind int

const (
	// KindText is a UTF-8 string column.
	KindText FieldKind = iota
	// KindInt is a 64-bit integer column.
	KindInt
	// KindTimestamp is a millisecond-precision instant, stored as unix millis.
	KindTimestamp
	// KindTextList is an ordered list of strings, serialized as a JSON array.
	KindTextList
	// KindJSON is an opaque serialized JSON document stored as text.
	KindJSON
	// KindVector is a fixed-width float32 embedding vector.
	KindVector
)

// Field describes one column of a table schema.
type Field struct {
	Name string
	Kind FieldKind
	// Dim is the declared vector width. Only meaningful for KindVector;
	// it is fixed at table-creation time and never changes for existing rows.
	Dim int
}

// Schema describes a table: its name and ordered column set.
type Schema struct {
	Name   string
	Fields []Field
}

// Field returns the named field and whether it exists.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Row is a single record keyed by field name. Value types follow the field
// kind: string, int64, time.Time, []string, string (serialized JSON), and
// []float32. Absent keys read and write as NULL.
type Row map[string]any

// String returns the named field as a string, or "" when absent.
func (r Row) String(name string) string {
	v, _ := r[name].(string)
	return v
}

// Int returns the named field as an int64, or 0 when absent.
func (r Row) Int(name string) int64 {
	v, _ := r[name].(int64)
	return v
}

// Time returns the named field as a time.Time and whether it was present.
func (r Row) Time(name string) (time.Time, bool) {
	v, ok := r[name].(time.Time)
	return v, ok
}

// StringList returns the named field as a []string, or nil when absent.
func (r Row) StringList(name string) []string {
	v, _ := r[name].([]string)
	return v
}

// Vector returns the named field as a []float32, or nil when absent.
func (r Row) Vector(name string) []float32 {
	v, _ := r[name].([]float32)
	return v
}

// Match is a row returned from a similarity scan together with its distance
// from the query vector. Smaller distance means closer. HasDistance is false
// when the backend could not report one; callers must still treat the result
// order as the ranking.
type Match struct {
	Row         Row
	Distance    float64
	HasDistance bool
}

// Table is a handle to one table in the store.
type Table interface {
	Name() string
	Schema() Schema

	// Insert appends rows. Vector fields must match the declared width.
	Insert(ctx context.Context, rows []Row) error

	// Scan returns all rows matching pred. A nil predicate scans everything.
	Scan(ctx context.Context, pred *Predicate) ([]Row, error)

	// SimilaritySearch returns up to limit rows ordered by ascending distance
	// from vector, restricted to rows matching pred when non-nil.
	SimilaritySearch(ctx context.Context, vector []float32, pred *Predicate, limit int) ([]Match, error)

	// DeleteWhere removes all rows matching pred and returns how many went away.
	DeleteWhere(ctx context.Context, pred *Predicate) (int64, error)

	// Rewrite atomically replaces the entire table contents with rows.
	// This is the swap primitive behind single-row update semantics on an
	// append-only store; see bridge.rewrite.
	Rewrite(ctx context.Context, rows []Row) error

	// Count returns the number of rows in the table.
	Count(ctx context.Context) (int, error)
}

// DB is a connection to a store holding multiple tables.
type DB interface {
	// ListTables returns the names of all tables, sorted.
	ListTables(ctx context.Context) ([]string, error)

	// CreateTable creates the table or opens it when it already exists.
	// "Already exists" is benign so that several worker processes can race
	// through startup against the same on-disk store.
	CreateTable(ctx context.Context, schema Schema) (Table, error)

	// OpenTable opens an existing table. Returns ErrTableNotFound otherwise.
	OpenTable(ctx context.Context, name string) (Table, error)

	// DropTable removes the table and its rows. Missing tables are benign.
	DropTable(ctx context.Context, name string) error

	Close() error
}
