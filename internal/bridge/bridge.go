package bridge

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tarnlabs/tarn/internal/query"
	"github.com/tarnlabs/tarn/internal/store"
)

// ErrNotFound is returned by update operations targeting a missing record.
// Plain lookups never return it; a missing record reads as an absent result.
var ErrNotFound = errors.New("not found")

// Embedder is the slice of the embedding adapter the bridge needs.
type Embedder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	IsLoaded() bool
	Initialize(ctx context.Context) bool
	Dimension() int
}

// Bridge wires the store, the embedding adapter, and the hybrid query engine
// into the operations the RPC surface exposes. It assumes single-writer
// access per table at any instant; concurrent updates to the same logical
// row are not serialized here.
type Bridge struct {
	db     store.DB
	emb    Embedder
	engine *query.Engine
	dim    int
	log    *slog.Logger
}

// New creates a Bridge. Call InitTables before serving requests.
func New(db store.DB, emb Embedder, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		db:     db,
		emb:    emb,
		engine: query.New(emb, log),
		dim:    emb.Dimension(),
		log:    log,
	}
}

// ModelStatus reports the embedding capability's state.
type ModelStatus struct {
	Loaded    bool `json:"loaded"`
	Dimension int  `json:"dimension"`
}

// InitializeModel probes the embedding model (idempotent) and reports the
// resulting state. A model that stays unavailable is not an error; searches
// degrade to text matching.
func (b *Bridge) InitializeModel(ctx context.Context) ModelStatus {
	loaded := b.emb.Initialize(ctx)
	return ModelStatus{Loaded: loaded, Dimension: b.emb.Dimension()}
}

// ModelStatus returns the current embedding capability state without probing.
func (b *Bridge) ModelStatus() ModelStatus {
	return ModelStatus{Loaded: b.emb.IsLoaded(), Dimension: b.emb.Dimension()}
}

// TableCounts returns row counts per table, for status reporting.
func (b *Bridge) TableCounts(ctx context.Context) (map[string]int, error) {
	names, err := b.db.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(names))
	for _, name := range names {
		tbl, err := b.db.OpenTable(ctx, name)
		if err != nil {
			return nil, err
		}
		n, err := tbl.Count(ctx)
		if err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, nil
}

// encodeOrZero embeds text for a write path. Encoding failures degrade to a
// zero vector rather than failing the write; the record is still findable by
// its structured fields and text.
func (b *Bridge) encodeOrZero(ctx context.Context, text string) []float32 {
	vec, err := b.emb.Encode(ctx, text)
	if err != nil {
		b.log.Warn("embedding failed, storing zero vector", "error", err)
		return make([]float32, b.dim)
	}
	return vec
}
