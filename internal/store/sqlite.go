package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// metaTable records each table's schema so that OpenTable can rebuild handles
// across process restarts.
const metaTable = "tarn_schema"

// Compile-time check that SQLiteDB implements DB.
var _ DB = (*SQLiteDB)(nil)

// SQLiteDB is the reference DB implementation, backed by a single SQLite file
// with brute-force cosine similarity search. Adequate up to tens of thousands
// of vectors; beyond that an ANN-capable backend should replace it behind the
// same interfaces.
type SQLiteDB struct {
	db *sql.DB
}

// Open opens (or creates) the store in dataDir.
// Pass ":memory:" as dataDir for an in-memory store (used by tests).
func Open(dataDir string) (*SQLiteDB, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "tarn.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + metaTable + ` (
		name TEXT PRIMARY KEY,
		schema_json TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema table: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// ListTables returns the names of all tables, sorted.
func (s *SQLiteDB) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM "+metaTable+" ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CreateTable creates the table described by schema, or opens it when it
// already exists. Several workers may race through startup against the same
// on-disk store, so "already exists" is never an error.
func (s *SQLiteDB) CreateTable(ctx context.Context, schema Schema) (Table, error) {
	if schema.Name == "" || len(schema.Fields) == 0 {
		return nil, fmt.Errorf("schema must have a name and at least one field")
	}

	if existing, err := s.OpenTable(ctx, schema.Name); err == nil {
		return existing, nil
	} else if err != ErrTableNotFound {
		return nil, err
	}

	cols := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		cols[i] = quoteIdent(f.Name) + " " + sqlType(f.Kind)
	}
	ddl := "CREATE TABLE IF NOT EXISTS " + quoteIdent(schema.Name) + " (" + strings.Join(cols, ", ") + ")"
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("creating table %q: %w", schema.Name, err)
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encoding schema for %q: %w", schema.Name, err)
	}
	// OR IGNORE tolerates a concurrent worker winning the registration race.
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO "+metaTable+" (name, schema_json) VALUES (?, ?)",
		schema.Name, string(schemaJSON)); err != nil {
		return nil, fmt.Errorf("registering table %q: %w", schema.Name, err)
	}

	return &sqliteTable{db: s.db, schema: schema}, nil
}

// OpenTable opens an existing table by name.
func (s *SQLiteDB) OpenTable(ctx context.Context, name string) (Table, error) {
	var schemaJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT schema_json FROM "+metaTable+" WHERE name = ?", name).Scan(&schemaJSON)
	if err == sql.ErrNoRows {
		return nil, ErrTableNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up table %q: %w", name, err)
	}

	var schema Schema
	if err := json.Unmarshal([]byte(schemaJSON), &schema); err != nil {
		return nil, fmt.Errorf("decoding schema for %q: %w", name, err)
	}
	return &sqliteTable{db: s.db, schema: schema}, nil
}

// DropTable removes the table and its schema registration. Missing tables are benign.
func (s *SQLiteDB) DropTable(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
		return fmt.Errorf("dropping table %q: %w", name, err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+metaTable+" WHERE name = ?", name); err != nil {
		return fmt.Errorf("unregistering table %q: %w", name, err)
	}
	return nil
}

func sqlType(kind FieldKind) string {
	switch kind {
	case KindInt, KindTimestamp:
		return "INTEGER"
	case KindVector:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// Compile-time check that sqliteTable implements Table.
var _ Table = (*sqliteTable)(nil)

type sqliteTable struct {
	db     *sql.DB
	schema Schema
}

func (t *sqliteTable) Name() string   { return t.schema.Name }
func (t *sqliteTable) Schema() Schema { return t.schema }

func (t *sqliteTable) columnList() string {
	names := make([]string, len(t.schema.Fields))
	for i, f := range t.schema.Fields {
		names[i] = quoteIdent(f.Name)
	}
	return strings.Join(names, ", ")
}

// Insert appends rows inside a single transaction.
func (t *sqliteTable) Insert(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	if err := t.insertTx(ctx, tx, rows); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (t *sqliteTable) insertTx(ctx context.Context, tx *sql.Tx, rows []Row) error {
	placeholders := "?" + strings.Repeat(",?", len(t.schema.Fields)-1)
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO "+quoteIdent(t.schema.Name)+" ("+t.columnList()+") VALUES ("+placeholders+")")
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]any, len(t.schema.Fields))
		for i, f := range t.schema.Fields {
			v, err := encodeValue(f, row[f.Name])
			if err != nil {
				return fmt.Errorf("table %q: %w", t.schema.Name, err)
			}
			args[i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("inserting into %q: %w", t.schema.Name, err)
		}
	}
	return nil
}

// Scan returns all rows matching pred, or every row for a nil predicate.
func (t *sqliteTable) Scan(ctx context.Context, pred *Predicate) ([]Row, error) {
	where, args, err := pred.toSQL(t.schema)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + t.columnList() + " FROM " + quoteIdent(t.schema.Name)
	if where != "" {
		query += " WHERE " + where
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning %q: %w", t.schema.Name, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := t.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SimilaritySearch scans the (optionally predicate-filtered) table and returns
// up to limit rows ordered by ascending cosine distance from vector.
func (t *sqliteTable) SimilaritySearch(ctx context.Context, vector []float32, pred *Predicate, limit int) ([]Match, error) {
	vf, ok := t.vectorField()
	if !ok {
		return nil, fmt.Errorf("table %q has no vector field", t.schema.Name)
	}
	if len(vector) != vf.Dim {
		return nil, fmt.Errorf("query vector has width %d, table %q expects %d", len(vector), t.schema.Name, vf.Dim)
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := t.Scan(ctx, pred)
	if err != nil {
		return nil, err
	}

	queryNorm := norm(vector)
	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		matches = append(matches, Match{
			Row:         row,
			Distance:    cosineDistance(vector, row.Vector(vf.Name), queryNorm),
			HasDistance: true,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// DeleteWhere removes all rows matching pred and returns the count.
func (t *sqliteTable) DeleteWhere(ctx context.Context, pred *Predicate) (int64, error) {
	where, args, err := pred.toSQL(t.schema)
	if err != nil {
		return 0, err
	}

	query := "DELETE FROM " + quoteIdent(t.schema.Name)
	if where != "" {
		query += " WHERE " + where
	}

	res, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting from %q: %w", t.schema.Name, err)
	}
	return res.RowsAffected()
}

// Rewrite replaces the entire table contents with rows in one transaction, so
// readers either see the old row set or the new one, never a mixture.
func (t *sqliteTable) Rewrite(ctx context.Context, rows []Row) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rewrite transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(t.schema.Name)); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing %q: %w", t.schema.Name, err)
	}
	if len(rows) > 0 {
		if err := t.insertTx(ctx, tx, rows); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Count returns the number of rows in the table.
func (t *sqliteTable) Count(ctx context.Context) (int, error) {
	var count int
	err := t.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(t.schema.Name)).Scan(&count)
	return count, err
}

func (t *sqliteTable) vectorField() (Field, bool) {
	for _, f := range t.schema.Fields {
		if f.Kind == KindVector {
			return f, true
		}
	}
	return Field{}, false
}

func (t *sqliteTable) scanRow(rows *sql.Rows) (Row, error) {
	dest := make([]any, len(t.schema.Fields))
	for i := range dest {
		dest[i] = new(any)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scanning row from %q: %w", t.schema.Name, err)
	}

	row := make(Row, len(t.schema.Fields))
	for i, f := range t.schema.Fields {
		raw := *(dest[i].(*any))
		if raw == nil {
			continue
		}
		v, err := decodeValue(f, raw)
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", t.schema.Name, err)
		}
		row[f.Name] = v
	}
	return row, nil
}

// encodeValue converts a Row value into its SQL representation for the field.
// A nil value encodes as NULL.
func encodeValue(f Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Kind {
	case KindText, KindJSON:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field %q needs a string, got %T", f.Name, v)
		}
		return s, nil
	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		}
		return nil, fmt.Errorf("field %q needs an integer, got %T", f.Name, v)
	case KindTimestamp:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("field %q needs a time, got %T", f.Name, v)
		}
		return t.UnixMilli(), nil
	case KindTextList:
		list, ok := v.([]string)
		if !ok {
			return nil, fmt.Errorf("field %q needs a string list, got %T", f.Name, v)
		}
		b, err := json.Marshal(list)
		if err != nil {
			return nil, fmt.Errorf("encoding list field %q: %w", f.Name, err)
		}
		return string(b), nil
	case KindVector:
		vec, ok := v.([]float32)
		if !ok {
			return nil, fmt.Errorf("field %q needs a float32 vector, got %T", f.Name, v)
		}
		if len(vec) != f.Dim {
			return nil, fmt.Errorf("field %q: vector has width %d, schema declares %d", f.Name, len(vec), f.Dim)
		}
		return encodeFloat32s(vec), nil
	default:
		return nil, fmt.Errorf("field %q has unknown kind %d", f.Name, f.Kind)
	}
}

// decodeValue converts a raw SQL value back into its Row representation.
func decodeValue(f Field, raw any) (any, error) {
	switch f.Kind {
	case KindText, KindJSON:
		switch v := raw.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case KindInt:
		if v, ok := raw.(int64); ok {
			return v, nil
		}
	case KindTimestamp:
		if v, ok := raw.(int64); ok {
			return time.UnixMilli(v).UTC(), nil
		}
	case KindTextList:
		var s string
		switch v := raw.(type) {
		case string:
			s = v
		case []byte:
			s = string(v)
		default:
			return nil, fmt.Errorf("field %q: unexpected storage type %T", f.Name, raw)
		}
		var list []string
		if err := json.Unmarshal([]byte(s), &list); err != nil {
			return nil, fmt.Errorf("decoding list field %q: %w", f.Name, err)
		}
		return list, nil
	case KindVector:
		if b, ok := raw.([]byte); ok {
			return decodeFloat32s(b)
		}
	}
	return nil, fmt.Errorf("field %q: unexpected storage type %T", f.Name, raw)
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosineDistance is 1 - cosine similarity, so smaller means closer.
// Degenerate (zero-norm or width-mismatched) rows land at the far end.
func cosineDistance(query, row []float32, queryNorm float64) float64 {
	if len(query) != len(row) || queryNorm == 0 {
		return 1
	}
	var dot, rowNormSq float64
	for i := range query {
		dot += float64(query[i]) * float64(row[i])
		rowNormSq += float64(row[i]) * float64(row[i])
	}
	rowNorm := math.Sqrt(rowNormSq)
	if rowNorm == 0 {
		return 1
	}
	return 1 - dot/(queryNorm*rowNorm)
}
