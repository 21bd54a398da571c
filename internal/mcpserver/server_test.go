package mcpserver

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/ansuz/internal/event"
	"github.com/starford/ansuz/internal/noteservice"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/observer"
	"github.com/starford/ansuz/internal/observers"
	"github.com/starford/ansuz/internal/pipeline"
)

func testServer(t *testing.T) (*Server, *notestore.FS) {
	t.Helper()

	store, err := notestore.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	norm := event.NewNormalizer(store, logger)
	reg := observer.NewRegistry()
	reg.Register(observers.Toc())
	pipe := pipeline.New(store, reg, norm, 2, logger, nil)
	svc := noteservice.New(store, norm, pipe, reg, logger)

	return New(svc), store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so we call the handler
	// functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "read_note":
		result, err = srv.readNote(ctx, req)
	case "list_observers":
		result, err = srv.listObservers(ctx, req)
	case "sync_note":
		result, err = srv.syncNote(ctx, req)
	case "sync_all":
		result, err = srv.syncAll(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestReadNote(t *testing.T) {
	srv, store := testServer(t)
	_ = store.Write("test.md", []byte("---\ntitle: Test\n---\n\nHello"))

	r := callTool(t, srv, "read_note", map[string]interface{}{"path": "test.md"})
	text := resultText(r)
	if !strings.Contains(text, `"title": "Test"`) || !strings.Contains(text, `"body": "Hello"`) {
		t.Errorf("read result = %q", text)
	}
}

func TestReadNoteMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "read_note", map[string]interface{}{"path": "nope.md"})
	if !r.IsError {
		t.Error("missing note should be an error result")
	}
}

func TestListObservers(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "list_observers", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "toc") || !strings.Contains(text, "priority=20") {
		t.Errorf("list result = %q", text)
	}
}

func TestSyncNote(t *testing.T) {
	srv, store := testServer(t)
	_ = store.Write("n.md", []byte("# Title\n\n## Section\n\ntext\n"))

	r := callTool(t, srv, "sync_note", map[string]interface{}{"path": "n.md"})
	if resultText(r) != "synced: n.md" {
		t.Errorf("sync result = %q", resultText(r))
	}

	// The toc observer ran and committed.
	raw, err := store.Read("n.md")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "## Contents") {
		t.Errorf("observer output missing:\n%s", raw)
	}
}

func TestSyncAll(t *testing.T) {
	srv, store := testServer(t)
	_ = store.Write("a.md", []byte("a"))
	_ = store.Write("b.md", []byte("b"))

	r := callTool(t, srv, "sync_all", map[string]interface{}{})
	if resultText(r) != "synced 2 notes" {
		t.Errorf("sync_all result = %q", resultText(r))
	}
}

func TestContractResource(t *testing.T) {
	srv, _ := testServer(t)
	contents, err := srv.readContractResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("readContractResource: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || !strings.Contains(tc.Text, "on_event") {
		t.Errorf("contract = %+v", contents[0])
	}
}
