package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtractHTMLSkipsScriptAndStyle(t *testing.T) {
	doc := `<html><head><style>body{color:red}</style></head>
<body><h1>Title</h1><script>alert(1)</script><p>Body text.</p></body></html>`

	text, err := ExtractHTML(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "Title") || !strings.Contains(text, "Body text.") {
		t.Errorf("text = %q", text)
	}
	if strings.Contains(text, "alert") || strings.Contains(text, "color:red") {
		t.Errorf("script/style leaked into %q", text)
	}
}

func TestExtractFilePlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("plain contents"), 0o600); err != nil {
		t.Fatal(err)
	}

	text, err := ExtractFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if text != "plain contents" {
		t.Errorf("text = %q", text)
	}
}

func TestSplitParagraphs(t *testing.T) {
	text := "first para\nstill first\n\n\nsecond para\n\n  \n\nthird"
	got := SplitParagraphs(text)
	want := []string{"first para\nstill first", "second para", "third"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}
