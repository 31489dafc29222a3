package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tarnlabs/tarn/internal/store"
)

type stubEmbedder struct {
	loaded bool
	dim    int
	fail   bool
	vecs   map[string][]float32
}

func (s *stubEmbedder) Encode(_ context.Context, text string) ([]float32, error) {
	if s.fail {
		return nil, errors.New("model gone")
	}
	if v, ok := s.vecs[text]; ok {
		return v, nil
	}
	return make([]float32, s.dim), nil
}

func (s *stubEmbedder) IsLoaded() bool                    { return s.loaded }
func (s *stubEmbedder) Initialize(_ context.Context) bool { return s.loaded }
func (s *stubEmbedder) Dimension() int                    { return s.dim }

func newTestBridge(t *testing.T, emb Embedder) *Bridge {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	b := New(db, emb, nil)
	if err := b.InitTables(context.Background()); err != nil {
		t.Fatalf("initializing tables: %v", err)
	}
	return b
}

func issueFields(title string) map[string]any {
	return map[string]any{
		"title":            title,
		"description":      "a description of " + title,
		"status":           "open",
		"labels":           []string{"bug"},
		"updates":          []any{},
		"relations":        []any{},
		"source_input_ids": []string{"input-1"},
	}
}

func TestAddIssueValidationListsEveryMissingField(t *testing.T) {
	b := newTestBridge(t, &stubEmbedder{dim: 4})

	_, err := b.AddIssue(context.Background(), map[string]any{"title": "only a title"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, want := range []string{"description", "status", "labels", "updates", "relations", "source_input_ids"} {
		found := false
		for _, m := range verr.Missing {
			if m == want {
				found = true
			}
		}
		if !found {
			t.Errorf("missing fields %v should include %q", verr.Missing, want)
		}
	}

	// Nothing was written.
	counts, err := b.TableCounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if counts[issuesTable] != 0 {
		t.Errorf("issues count = %d after rejected write, want 0", counts[issuesTable])
	}
}

func TestAddIssueRejectsBadStatus(t *testing.T) {
	b := newTestBridge(t, &stubEmbedder{dim: 4})

	fields := issueFields("bad status")
	fields["status"] = "reopened"
	_, err := b.AddIssue(context.Background(), fields)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Invalid) == 0 || !strings.Contains(verr.Invalid[0], "status") {
		t.Errorf("invalid = %v, want a status complaint", verr.Invalid)
	}
}

func TestIssueRoundTrip(t *testing.T) {
	b := newTestBridge(t, &stubEmbedder{dim: 4})
	ctx := context.Background()

	added, err := b.AddIssue(ctx, issueFields("login broken"))
	if err != nil {
		t.Fatal(err)
	}
	if added.ID == "" {
		t.Fatal("an id should be generated when absent")
	}

	got, err := b.GetIssue(ctx, added.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("issue not found after insert")
	}
	if got.Title != "login broken" || got.Status != "open" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if len(got.Labels) != 1 || got.Labels[0] != "bug" {
		t.Errorf("labels = %v", got.Labels)
	}
	if got.CreatedAt == "" || got.UpdatedAt == "" {
		t.Errorf("timestamps should be stamped: %+v", got)
	}
	if string(got.Updates) != "[]" {
		t.Errorf("updates = %s, want []", got.Updates)
	}

	missing, err := b.GetIssue(ctx, "no-such-id")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("missing issue should read as nil, not an error")
	}
}

func pondFields(content, source string) map[string]any {
	return map[string]any{
		"content": content,
		"source":  source,
	}
}

func TestSearchPondSourceFilter(t *testing.T) {
	b := newTestBridge(t, &stubEmbedder{dim: 4})
	ctx := context.Background()

	for _, src := range []string{"a", "a", "b"} {
		if _, err := b.AddEntry(ctx, pondFields("note from "+src, src)); err != nil {
			t.Fatal(err)
		}
	}

	page, err := b.SearchPond(ctx, PondSearch{Source: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 {
		t.Fatalf("total = %d, want 2", page.Total)
	}
	for _, e := range page.Items {
		if e.Source != "a" {
			t.Errorf("entry %q has source %q, want a", e.ID, e.Source)
		}
	}
}

func TestSearchPondTextFallbackOnEncodeFailure(t *testing.T) {
	emb := &stubEmbedder{dim: 4, loaded: true}
	b := newTestBridge(t, emb)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	contents := []string{
		"deploy pipeline flaked",
		"weekly sync notes",
		"deploy rollback performed",
		"lunch menu",
		"retro summary",
	}
	for i, c := range contents {
		fields := pondFields(c, "ops")
		fields["timestamp"] = base.Add(time.Duration(i) * time.Hour).Format(time.RFC3339)
		if _, err := b.AddEntry(ctx, fields); err != nil {
			t.Fatal(err)
		}
	}

	// Model reads as loaded but every encode fails: the engine must degrade
	// to substring matching instead of surfacing the outage.
	emb.fail = true

	page, err := b.SearchPond(ctx, PondSearch{Query: "deploy"})
	if err != nil {
		t.Fatalf("fallback should absorb the failure, got %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("total = %d, want 2", page.Total)
	}
	// Text branch orders by timestamp, most recent first.
	if page.Items[0].Content != "deploy rollback performed" || page.Items[1].Content != "deploy pipeline flaked" {
		t.Errorf("unexpected order: %q, %q", page.Items[0].Content, page.Items[1].Content)
	}
	for _, e := range page.Items {
		if e.Score != nil {
			t.Errorf("text-branch entry %q should carry no score", e.Content)
		}
	}
}

func TestSearchPondSemanticRanking(t *testing.T) {
	emb := &stubEmbedder{
		dim:    4,
		loaded: true,
		vecs: map[string][]float32{
			"database latency spike": {1, 0, 0, 0},
			"db is slow today":       {0.9, 0.1, 0, 0},
			"office plants watered":  {0, 0, 1, 0},
		},
	}
	b := newTestBridge(t, emb)
	ctx := context.Background()

	for _, c := range []string{"db is slow today", "office plants watered"} {
		if _, err := b.AddEntry(ctx, pondFields(c, "chat")); err != nil {
			t.Fatal(err)
		}
	}

	page, err := b.SearchPond(ctx, PondSearch{Query: "database latency spike"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 {
		t.Fatalf("total = %d, want 2", page.Total)
	}
	if page.Items[0].Content != "db is slow today" {
		t.Errorf("closest entry = %q", page.Items[0].Content)
	}
	if page.Items[0].Score == nil || *page.Items[0].Score != 1 {
		t.Errorf("closest score = %v, want 1", page.Items[0].Score)
	}
	if page.Items[1].Score == nil || *page.Items[1].Score != 0 {
		t.Errorf("farthest score = %v, want 0", page.Items[1].Score)
	}
}

func TestPondSources(t *testing.T) {
	b := newTestBridge(t, &stubEmbedder{dim: 4})
	ctx := context.Background()

	for _, src := range []string{"slack", "email", "slack", "calendar"} {
		if _, err := b.AddEntry(ctx, pondFields("x", src)); err != nil {
			t.Fatal(err)
		}
	}

	sources, err := b.PondSources(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"calendar", "email", "slack"}
	if len(sources) != len(want) {
		t.Fatalf("sources = %v, want %v", sources, want)
	}
	for i := range want {
		if sources[i] != want[i] {
			t.Fatalf("sources = %v, want %v", sources, want)
		}
	}
}

func TestAddEntriesValidatesBeforeWriting(t *testing.T) {
	b := newTestBridge(t, &stubEmbedder{dim: 4})
	ctx := context.Background()

	_, err := b.AddEntries(ctx, []map[string]any{
		pondFields("good", "batch"),
		{"content": "missing source"},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	counts, err := b.TableCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[pondTable] != 0 {
		t.Errorf("pond count = %d after rejected batch, want 0", counts[pondTable])
	}

	entries, err := b.AddEntries(ctx, []map[string]any{
		pondFields("one", "batch"),
		pondFields("two", "batch"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	counts, err = b.TableCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[pondTable] != 2 {
		t.Errorf("pond count = %d, want 2", counts[pondTable])
	}
}

func TestStateRoundTrip(t *testing.T) {
	b := newTestBridge(t, &stubEmbedder{dim: 4})
	ctx := context.Background()

	doc, err := b.GetState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Content != "" {
		t.Errorf("fresh state content = %q, want empty", doc.Content)
	}

	if err := b.UpdateState(ctx, "first"); err != nil {
		t.Fatal(err)
	}
	if err := b.UpdateState(ctx, "second"); err != nil {
		t.Fatal(err)
	}

	doc, err = b.GetState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Content != "second" {
		t.Errorf("content = %q, want second", doc.Content)
	}
	if doc.UpdatedAt == "" {
		t.Error("updated_at should be stamped")
	}

	// Delete-then-insert must keep the row a singleton.
	counts, err := b.TableCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[stateTable] != 1 {
		t.Errorf("state rows = %d, want 1", counts[stateTable])
	}
}

func TestScheduleLifecycle(t *testing.T) {
	b := newTestBridge(t, &stubEmbedder{dim: 4})
	ctx := context.Background()

	added, err := b.AddSchedule(ctx, map[string]any{
		"issue_id": "issue-1",
		"request":  "remind me",
		"action":   "notify",
	})
	if err != nil {
		t.Fatal(err)
	}
	if added.Status != "active" {
		t.Errorf("status = %q, want active by default", added.Status)
	}
	if added.Occurrences != 0 {
		t.Errorf("occurrences = %d, want 0", added.Occurrences)
	}

	time.Sleep(2 * time.Millisecond)

	updated, err := b.UpdateSchedule(ctx, added.ID, map[string]any{"status": "completed"})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != "completed" {
		t.Errorf("status = %q, want completed", updated.Status)
	}
	created, err := parseTime(updated.CreatedAt)
	if err != nil {
		t.Fatal(err)
	}
	stamped, err := parseTime(updated.UpdatedAt)
	if err != nil {
		t.Fatal(err)
	}
	if !stamped.After(created) {
		t.Errorf("updated_at %v should be after created_at %v", stamped, created)
	}

	// Completed is terminal.
	_, err = b.UpdateSchedule(ctx, added.ID, map[string]any{"status": "active"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("reopening a completed schedule should fail validation, got %v", err)
	}

	// Re-asserting the terminal status is benign.
	if _, err := b.UpdateSchedule(ctx, added.ID, map[string]any{"status": "completed"}); err != nil {
		t.Fatalf("idempotent terminal update failed: %v", err)
	}

	_, err = b.UpdateSchedule(ctx, "no-such-id", map[string]any{"request": "nope"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("updating a missing schedule = %v, want ErrNotFound", err)
	}
}

func TestUpdateScheduleFreezesIdentity(t *testing.T) {
	b := newTestBridge(t, &stubEmbedder{dim: 4})

	_, err := b.UpdateSchedule(context.Background(), "any", map[string]any{"issue_id": "other"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestSearchSchedulesFiltersAndPagination(t *testing.T) {
	b := newTestBridge(t, &stubEmbedder{dim: 4})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		issue := "issue-a"
		if i == 2 {
			issue = "issue-b"
		}
		_, err := b.AddSchedule(ctx, map[string]any{
			"issue_id": issue,
			"request":  fmt.Sprintf("task %d", i),
			"action":   "notify",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	page, err := b.SearchSchedules(ctx, ScheduleSearch{IssueID: "issue-a"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 {
		t.Fatalf("total = %d, want 2", page.Total)
	}

	page, err = b.SearchSchedules(ctx, ScheduleSearch{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 || len(page.Items) != 2 || !page.HasMore {
		t.Errorf("page = total %d, items %d, hasMore %v; want 3, 2, true",
			page.Total, len(page.Items), page.HasMore)
	}
}

func TestKnowledgeRoundTrip(t *testing.T) {
	b := newTestBridge(t, &stubEmbedder{dim: 4})
	ctx := context.Background()

	added, err := b.AddKnowledge(ctx, map[string]any{
		"type":    "solution",
		"content": "restart the indexer after schema changes",
	})
	if err != nil {
		t.Fatal(err)
	}
	if added.ID == "" {
		t.Fatal("an id should be generated when absent")
	}
	if added.Upvotes != 0 || added.Downvotes != 0 {
		t.Errorf("vote counters should start at zero: %+v", added)
	}
	if added.CreatedAt == "" {
		t.Error("created_at should be stamped")
	}

	got, err := b.GetKnowledge(ctx, added.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("knowledge not found after insert")
	}
	if got.Type != "solution" || got.Content != added.Content {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.Sources == nil || len(got.Sources) != 0 {
		t.Errorf("sources = %v, want empty list", got.Sources)
	}

	missing, err := b.GetKnowledge(ctx, "no-such-id")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("missing knowledge should read as nil, not an error")
	}
}

func TestAddKnowledgeRejectsBadType(t *testing.T) {
	b := newTestBridge(t, &stubEmbedder{dim: 4})

	_, err := b.AddKnowledge(context.Background(), map[string]any{
		"type":    "rumor",
		"content": "unverified",
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Invalid) == 0 || !strings.Contains(verr.Invalid[0], "type") {
		t.Errorf("invalid = %v, want a type complaint", verr.Invalid)
	}
}

func TestSearchKnowledgeTypeFilter(t *testing.T) {
	b := newTestBridge(t, &stubEmbedder{dim: 4})
	ctx := context.Background()

	for _, kind := range []string{"solution", "solution", "pattern"} {
		_, err := b.AddKnowledge(ctx, map[string]any{
			"type":    kind,
			"content": "a " + kind,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	page, err := b.SearchKnowledge(ctx, KnowledgeSearch{Type: "solution"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 {
		t.Fatalf("total = %d, want 2", page.Total)
	}
	for _, k := range page.Items {
		if k.Type != "solution" {
			t.Errorf("type filter leaked a %q entry", k.Type)
		}
	}
}

func TestVoteKnowledge(t *testing.T) {
	b := newTestBridge(t, &stubEmbedder{dim: 4})
	ctx := context.Background()

	added, err := b.AddKnowledge(ctx, map[string]any{
		"type":    "best_practice",
		"content": "pin dependency versions",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.VoteKnowledge(ctx, added.ID, "up"); err != nil {
		t.Fatal(err)
	}
	k, err := b.VoteKnowledge(ctx, added.ID, "up")
	if err != nil {
		t.Fatal(err)
	}
	if k.Upvotes != 2 || k.Downvotes != 0 {
		t.Errorf("after two upvotes: up %d down %d, want 2 and 0", k.Upvotes, k.Downvotes)
	}

	k, err = b.VoteKnowledge(ctx, added.ID, "down")
	if err != nil {
		t.Fatal(err)
	}
	if k.Upvotes != 2 || k.Downvotes != 1 {
		t.Errorf("after a downvote: up %d down %d, want 2 and 1", k.Upvotes, k.Downvotes)
	}

	if _, err := b.VoteKnowledge(ctx, "no-such-id", "up"); !errors.Is(err, ErrNotFound) {
		t.Errorf("voting on a missing entry = %v, want ErrNotFound", err)
	}

	_, err = b.VoteKnowledge(ctx, added.ID, "sideways")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("bad vote direction = %v, want ValidationError", err)
	}
}

func TestResetClearsEverything(t *testing.T) {
	b := newTestBridge(t, &stubEmbedder{dim: 4})
	ctx := context.Background()

	if _, err := b.AddEntry(ctx, pondFields("to be dropped", "test")); err != nil {
		t.Fatal(err)
	}
	if err := b.Reset(ctx); err != nil {
		t.Fatal(err)
	}

	counts, err := b.TableCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[pondTable] != 0 {
		t.Errorf("pond count after reset = %d, want 0", counts[pondTable])
	}
	// The state singleton is reseeded.
	if counts[stateTable] != 1 {
		t.Errorf("state count after reset = %d, want 1", counts[stateTable])
	}
}
