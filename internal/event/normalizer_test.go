package event

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/watcher"
)

func testNormalizer(t *testing.T) (*notestore.FS, *Normalizer) {
	t.Helper()
	store, err := notestore.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return store, NewNormalizer(store, logger)
}

func TestNormalizeCreated(t *testing.T) {
	store, n := testNormalizer(t)
	_ = store.Write("a.md", []byte("# A"))

	ev, err := n.Normalize(watcher.Change{Path: "a.md", Kind: watcher.Create})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev == nil || ev.Kind != Created {
		t.Fatalf("ev = %+v, want Created", ev)
	}
	if ev.Prev != nil || ev.Next == nil {
		t.Errorf("Created should have Next only: prev=%v next=%v", ev.Prev, ev.Next)
	}
}

func TestNormalizeUpdated(t *testing.T) {
	store, n := testNormalizer(t)
	_ = store.Write("a.md", []byte("v1"))
	if _, err := n.Normalize(watcher.Change{Path: "a.md", Kind: watcher.Create}); err != nil {
		t.Fatal(err)
	}

	_ = store.Write("a.md", []byte("v2"))
	ev, err := n.Normalize(watcher.Change{Path: "a.md", Kind: watcher.Modify})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev == nil || ev.Kind != Updated {
		t.Fatalf("ev = %+v, want Updated", ev)
	}
	if ev.Prev == nil || ev.Prev.Body != "v1" {
		t.Errorf("Prev = %+v, want v1 snapshot", ev.Prev)
	}
	if ev.Next == nil || ev.Next.Body != "v2" {
		t.Errorf("Next = %+v, want v2 snapshot", ev.Next)
	}
}

func TestNormalizeSuppressesNoOp(t *testing.T) {
	store, n := testNormalizer(t)
	_ = store.Write("a.md", []byte("same"))
	if _, err := n.Normalize(watcher.Change{Path: "a.md", Kind: watcher.Create}); err != nil {
		t.Fatal(err)
	}

	// Touch without content change: the watcher still fires, the
	// normalizer must swallow it.
	ev, err := n.Normalize(watcher.Change{Path: "a.md", Kind: watcher.Modify})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev != nil {
		t.Errorf("checksum-equal change should be suppressed, got %+v", ev)
	}
}

func TestNormalizeDeleted(t *testing.T) {
	store, n := testNormalizer(t)
	_ = store.Write("a.md", []byte("x"))
	if _, err := n.Normalize(watcher.Change{Path: "a.md", Kind: watcher.Create}); err != nil {
		t.Fatal(err)
	}

	ev, err := n.Normalize(watcher.Change{Path: "a.md", Kind: watcher.Remove})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev == nil || ev.Kind != Deleted {
		t.Fatalf("ev = %+v, want Deleted", ev)
	}
	if ev.Prev == nil || ev.Next != nil {
		t.Errorf("Deleted should carry Prev only")
	}
}

func TestNormalizeRemoveOfUnknownPathSuppressed(t *testing.T) {
	_, n := testNormalizer(t)
	ev, err := n.Normalize(watcher.Change{Path: "ghost.md", Kind: watcher.Remove})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev != nil {
		t.Errorf("remove of unknown path should be suppressed, got %+v", ev)
	}
}

func TestSyncEventBypassesSuppression(t *testing.T) {
	store, n := testNormalizer(t)
	_ = store.Write("a.md", []byte("same"))
	if _, err := n.Normalize(watcher.Change{Path: "a.md", Kind: watcher.Create}); err != nil {
		t.Fatal(err)
	}

	ev, err := n.SyncEvent("a.md")
	if err != nil {
		t.Fatalf("SyncEvent: %v", err)
	}
	if ev == nil || ev.Kind != Synced {
		t.Fatalf("ev = %+v, want Synced", ev)
	}
	if ev.Cause != CauseSync {
		t.Errorf("cause = %q", ev.Cause)
	}
}

func TestSeedMakesExistingFilesUpdated(t *testing.T) {
	store, n := testNormalizer(t)
	_ = store.Write("pre.md", []byte("v1"))
	if err := n.Seed(); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	_ = store.Write("pre.md", []byte("v2"))
	ev, err := n.Normalize(watcher.Change{Path: "pre.md", Kind: watcher.Modify})
	if err != nil {
		t.Fatal(err)
	}
	if ev == nil || ev.Kind != Updated {
		t.Fatalf("pre-existing file should yield Updated, got %+v", ev)
	}
}

func TestRecordSuppressesOwnCommit(t *testing.T) {
	store, n := testNormalizer(t)
	_ = store.Write("a.md", []byte("v1"))
	if _, err := n.Normalize(watcher.Change{Path: "a.md", Kind: watcher.Create}); err != nil {
		t.Fatal(err)
	}

	// Simulate the pipeline committing a new version and recording it.
	note, err := store.Load("a.md")
	if err != nil {
		t.Fatal(err)
	}
	note.Body = "v2"
	if err := store.Commit(note, note.Checksum); err != nil {
		t.Fatal(err)
	}
	n.Record(note)

	// The watcher fires for the pipeline's own write; it must be a no-op.
	ev, err := n.Normalize(watcher.Change{Path: "a.md", Kind: watcher.Modify})
	if err != nil {
		t.Fatal(err)
	}
	if ev != nil {
		t.Errorf("own commit should be suppressed, got %+v", ev)
	}
}

func TestPluginJSONShape(t *testing.T) {
	store, n := testNormalizer(t)
	_ = store.Write("a.md", []byte("---\ntitle: Hi\n---\n\nbody"))
	ev, err := n.Normalize(watcher.Change{Path: "a.md", Kind: watcher.Create})
	if err != nil {
		t.Fatal(err)
	}

	raw, err := ev.PluginJSON()
	if err != nil {
		t.Fatalf("PluginJSON: %v", err)
	}
	var doc map[string]struct {
		Title       string            `json:"title"`
		Content     string            `json:"content"`
		FilePath    string            `json:"file_path"`
		Frontmatter map[string]string `json:"frontmatter"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	payload, ok := doc["Created"]
	if !ok || len(doc) != 1 {
		t.Fatalf("doc keys = %v, want exactly Created", doc)
	}
	if payload.Title != "Hi" || payload.FilePath != "a.md" || payload.Content != "body" {
		t.Errorf("payload = %+v", payload)
	}
	if payload.Frontmatter["title"] != "Hi" {
		t.Errorf("frontmatter = %v", payload.Frontmatter)
	}
}
