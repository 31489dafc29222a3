package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
)

// stubClient is a ModelClient with scripted behavior.
type stubClient struct {
	running   bool
	hasModel  bool
	vector    []float32
	embedErr  error
	embedHits int
}

func (s *stubClient) IsRunning(ctx context.Context) bool               { return s.running }
func (s *stubClient) HasModel(ctx context.Context, name string) bool   { return s.hasModel }
func (s *stubClient) Embed(ctx context.Context, model, text string) ([]float32, error) {
	s.embedHits++
	if s.embedErr != nil {
		return nil, s.embedErr
	}
	return s.vector, nil
}

func l2(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

func TestAdjustDimension(t *testing.T) {
	tests := []struct {
		name   string
		in     []float32
		target int
	}{
		{"pass through", []float32{1, 2, 3}, 3},
		{"truncate", []float32{3, 4, 5, 6, 7, 8}, 2},
		{"pad", []float32{1, 2}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := adjustDimension(tt.in, tt.target)
			if len(out) != tt.target {
				t.Fatalf("len = %d, want %d", len(out), tt.target)
			}

			switch {
			case tt.target == len(tt.in):
				for i := range out {
					if out[i] != tt.in[i] {
						t.Errorf("component %d changed: %v -> %v", i, tt.in[i], out[i])
					}
				}
			case tt.target < len(tt.in):
				// Truncated vectors are unit-length.
				if n := l2(out); math.Abs(n-1) > 1e-6 {
					t.Errorf("norm = %v, want 1", n)
				}
			default:
				// Padding appends exact zeros and leaves the prefix alone.
				for i := range tt.in {
					if out[i] != tt.in[i] {
						t.Errorf("component %d changed: %v -> %v", i, tt.in[i], out[i])
					}
				}
				for i := len(tt.in); i < tt.target; i++ {
					if out[i] != 0 {
						t.Errorf("pad component %d = %v, want 0", i, out[i])
					}
				}
			}
		})
	}
}

func TestAdjustDimensionZeroNorm(t *testing.T) {
	out := adjustDimension([]float32{0, 0, 0, 0}, 2)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	// Zero-norm prefix stays unnormalized rather than dividing by zero.
	if out[0] != 0 || out[1] != 0 {
		t.Errorf("out = %v, want zeros", out)
	}
}

func TestEncodeUnloadedReturnsZeroVector(t *testing.T) {
	a := NewAdapter(&stubClient{}, "all-minilm", 16, nil)

	vec, err := a.Encode(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(vec) != 16 {
		t.Fatalf("len = %d, want 16", len(vec))
	}
	for i, v := range vec {
		if v != 0 {
			t.Fatalf("component %d = %v, want 0", i, v)
		}
	}
}

func TestInitializeIdempotent(t *testing.T) {
	client := &stubClient{running: true, hasModel: true, vector: make([]float32, 384)}
	a := NewAdapter(client, "all-minilm", 0, nil)

	if a.IsLoaded() {
		t.Fatal("adapter loaded before Initialize")
	}
	first := a.Initialize(context.Background())
	second := a.Initialize(context.Background())
	if !first || !second {
		t.Errorf("Initialize = %v, %v, want true, true", first, second)
	}
	if !a.IsLoaded() {
		t.Error("IsLoaded = false after Initialize")
	}
}

func TestInitializeModelMissing(t *testing.T) {
	a := NewAdapter(&stubClient{running: true, hasModel: false}, "all-minilm", 0, nil)

	if a.Initialize(context.Background()) {
		t.Error("Initialize = true with missing model")
	}
	if a.IsLoaded() {
		t.Error("IsLoaded = true with missing model")
	}
}

func TestEncodeAdjustsToRequestedWidth(t *testing.T) {
	native := make([]float32, 384)
	for i := range native {
		native[i] = float32(i + 1)
	}
	client := &stubClient{running: true, hasModel: true, vector: native}
	a := NewAdapter(client, "all-minilm", 256, nil)
	a.Initialize(context.Background())

	vec, err := a.Encode(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(vec) != 256 {
		t.Fatalf("len = %d, want 256", len(vec))
	}
	if n := l2(vec); math.Abs(n-1) > 1e-6 {
		t.Errorf("norm = %v, want 1", n)
	}
}

func TestEncodeErrorPropagates(t *testing.T) {
	client := &stubClient{running: true, hasModel: true, embedErr: errors.New("boom")}
	a := NewAdapter(client, "all-minilm", 0, nil)
	a.Initialize(context.Background())

	if _, err := a.Encode(context.Background(), "hello"); err == nil {
		t.Fatal("expected error from failing model")
	}
}

func TestUnknownVariantFallsBack(t *testing.T) {
	a := NewAdapter(&stubClient{}, "no-such-model", 0, nil)
	if a.Variant().Name != DefaultVariant {
		t.Errorf("variant = %q, want %q", a.Variant().Name, DefaultVariant)
	}
	if a.Dimension() != variants[DefaultVariant].Dimension {
		t.Errorf("dimension = %d, want %d", a.Dimension(), variants[DefaultVariant].Dimension)
	}
}

func TestEncodeBatch(t *testing.T) {
	client := &stubClient{running: true, hasModel: true, vector: make([]float32, 384)}
	a := NewAdapter(client, "all-minilm", 64, nil)
	a.Initialize(context.Background())

	vecs, err := a.EncodeBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 64 {
			t.Errorf("vector %d width = %d, want 64", i, len(v))
		}
	}

	empty, err := a.EncodeBatch(context.Background(), nil)
	if err != nil || empty != nil {
		t.Errorf("EncodeBatch(nil) = %v, %v, want nil, nil", empty, err)
	}
}
