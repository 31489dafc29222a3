// Package embedding wraps a local text-embedding model behind a fixed output
// width. The model is a runtime-optional capability: when it is unavailable
// the adapter degrades to zero vectors instead of failing, and callers route
// around the loss via text fallback.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"
)

// Variant is a named embedding model with a declared native output width.
type Variant struct {
	Name        string
	Dimension   int
	Description string
}

// DefaultVariant is used when the configured variant name is unknown.
const DefaultVariant = "nomic-embed-text"

var variants = map[string]Variant{
	"nomic-embed-text": {
		Name:        "nomic-embed-text",
		Dimension:   768,
		Description: "general-purpose text embeddings (768d)",
	},
	"all-minilm": {
		Name:        "all-minilm",
		Dimension:   384,
		Description: "small, fast embeddings (384d)",
	},
	"mxbai-embed-large": {
		Name:        "mxbai-embed-large",
		Dimension:   1024,
		Description: "large embeddings (1024d)",
	},
}

// Variants returns all known model variants keyed by name.
func Variants() map[string]Variant {
	out := make(map[string]Variant, len(variants))
	for k, v := range variants {
		out[k] = v
	}
	return out
}

// ModelClient is the embedding capability the adapter consumes: probe for
// availability, then embed text at the model's native width.
type ModelClient interface {
	IsRunning(ctx context.Context) bool
	HasModel(ctx context.Context, name string) bool
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Adapter exposes a model variant at a fixed requested output width,
// adjusting the native width with the Matryoshka policy: truncate and
// L2-renormalize when narrowing, zero-pad when widening.
type Adapter struct {
	client  ModelClient
	variant Variant
	dim     int
	loaded  bool
	log     *slog.Logger
}

// NewAdapter creates an Adapter for the named variant. An unknown variant
// name falls back to DefaultVariant. dim <= 0 means the variant's native
// width. The adapter starts unloaded; call Initialize to probe the model.
func NewAdapter(client ModelClient, variantName string, dim int, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	v, ok := variants[variantName]
	if !ok {
		log.Warn("unknown embedding variant, using default", "variant", variantName, "default", DefaultVariant)
		v = variants[DefaultVariant]
	}
	if dim <= 0 {
		dim = v.Dimension
	}
	return &Adapter{client: client, variant: v, dim: dim, log: log}
}

// Dimension returns the adapter's output width.
func (a *Adapter) Dimension() int { return a.dim }

// Variant returns the resolved model variant.
func (a *Adapter) Variant() Variant { return a.variant }

// IsLoaded reports whether the model is available for encoding.
func (a *Adapter) IsLoaded() bool { return a.loaded }

// Initialize probes the model and marks the adapter loaded when it responds.
// Idempotent: once loaded it returns true without re-probing. A missing or
// unreachable model is not an error; the adapter simply stays unloaded.
func (a *Adapter) Initialize(ctx context.Context) bool {
	if a.loaded {
		return true
	}
	if a.client == nil {
		return false
	}
	if !a.client.IsRunning(ctx) {
		a.log.Warn("embedding model unavailable, semantic search degraded", "variant", a.variant.Name)
		return false
	}
	if !a.client.HasModel(ctx, a.variant.Name) {
		a.log.Warn("embedding model not installed, semantic search degraded", "variant", a.variant.Name)
		return false
	}
	a.loaded = true
	a.log.Info("embedding model ready", "variant", a.variant.Name, "native_dim", a.variant.Dimension, "output_dim", a.dim)
	return true
}

// Encode returns the embedding for text at the adapter's output width.
// When the model is not loaded it returns a zero vector of that width so
// callers can treat unavailability as soft degradation, not an error.
func (a *Adapter) Encode(ctx context.Context, text string) ([]float32, error) {
	if !a.loaded {
		return make([]float32, a.dim), nil
	}
	raw, err := a.client.Embed(ctx, a.variant.Name, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return adjustDimension(raw, a.dim), nil
}

// EncodeBatch encodes multiple texts concurrently.
// Returns nil (not error) for empty input.
func (a *Adapter) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the model server.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := a.Encode(gCtx, text)
			if err != nil {
				return fmt.Errorf("encoding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// adjustDimension fits a native-width vector to the target width.
//
// Narrowing keeps the leading components and L2-renormalizes the prefix;
// this relies on nested (Matryoshka-style) representations where a prefix
// stays meaningful after renormalization. A zero-norm prefix is left as-is
// to avoid dividing by zero. Widening zero-pads on the right without
// renormalizing.
func adjustDimension(vec []float32, target int) []float32 {
	if len(vec) == target {
		return vec
	}

	if len(vec) > target {
		out := make([]float32, target)
		copy(out, vec[:target])
		var sumSq float64
		for _, v := range out {
			sumSq += float64(v) * float64(v)
		}
		if sumSq == 0 {
			return out
		}
		n := math.Sqrt(sumSq)
		for i, v := range out {
			out[i] = float32(float64(v) / n)
		}
		return out
	}

	out := make([]float32, target)
	copy(out, vec)
	return out
}
