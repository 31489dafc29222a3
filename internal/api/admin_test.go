package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tarnlabs/tarn/internal/bridge"
	"github.com/tarnlabs/tarn/internal/store"
)

type stubEmbedder struct{ dim int }

func (s *stubEmbedder) Encode(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, s.dim), nil
}
func (s *stubEmbedder) IsLoaded() bool                    { return false }
func (s *stubEmbedder) Initialize(_ context.Context) bool { return false }
func (s *stubEmbedder) Dimension() int                    { return s.dim }

func newTestBridge(t *testing.T) *bridge.Bridge {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	b := bridge.New(db, &stubEmbedder{dim: 4}, nil)
	if err := b.InitTables(context.Background()); err != nil {
		t.Fatalf("initializing tables: %v", err)
	}
	return b
}

func TestHealthEndpoint(t *testing.T) {
	h := NewAdminHandler(newTestBridge(t), "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestStatsEndpoint(t *testing.T) {
	b := newTestBridge(t)
	if _, err := b.AddEntry(context.Background(), map[string]any{"content": "x", "source": "test"}); err != nil {
		t.Fatal(err)
	}
	h := NewAdminHandler(b, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Tables map[string]int `json:"tables"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Tables["pond"] != 1 {
		t.Errorf("pond count = %d, want 1", body.Tables["pond"])
	}
}

func TestBearerAuth(t *testing.T) {
	h := NewAdminHandler(newTestBridge(t), "secret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", rec.Code)
	}
}
