package runtime

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/event"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/observer"
)

func luaEvent(kind event.Kind, body string) *event.NoteEvent {
	fm := models.NewFrontmatter()
	fm.Set("title", "Test")
	return &event.NoteEvent{
		Kind: kind,
		Path: "n.md",
		Next: &models.Note{Path: "n.md", Frontmatter: fm, Body: body},
	}
}

func TestLuaExecCapturesPrint(t *testing.T) {
	pool := NewLuaPool(1)
	out, err := pool.Exec(context.Background(), `print(1 + 1)
print("a", "b")`)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if out != "2\na\tb\n" {
		t.Errorf("output = %q", out)
	}
}

func TestLuaExecSyntaxError(t *testing.T) {
	pool := NewLuaPool(1)
	if _, err := pool.Exec(context.Background(), "this is not lua"); err == nil {
		t.Fatal("expected error")
	}
}

func TestLuaRestrictedEnvironment(t *testing.T) {
	pool := NewLuaPool(1)
	for _, probe := range []string{
		`if os ~= nil then error("os available") end`,
		`if io ~= nil then error("io available") end`,
		`if dofile ~= nil then error("dofile available") end`,
		`if loadstring ~= nil then error("loadstring available") end`,
	} {
		if _, err := pool.Exec(context.Background(), probe); err != nil {
			t.Errorf("probe %q: %v", probe, err)
		}
	}
	// The pure libraries remain usable.
	out, err := pool.Exec(context.Background(), `print(string.upper("ok"), math.floor(1.9))`)
	if err != nil {
		t.Fatalf("pure libs: %v", err)
	}
	if out != "OK\t1\n" {
		t.Errorf("output = %q", out)
	}
}

func TestLuaExecTimeout(t *testing.T) {
	pool := NewLuaPool(1)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := pool.Exec(ctx, `while true do end`)
	if err == nil {
		t.Fatal("infinite loop must be interrupted")
	}
}

func TestLuaScriptReturnsMetadata(t *testing.T) {
	s := NewLuaScript(NewLuaPool(1), `
function on_event(event)
  local payload = event.Updated
  return { metadata = { topic = payload.title } }
end
`)
	res, err := s.Invoke(context.Background(), observer.Descriptor{Name: "t"}, luaEvent(event.Updated, "body"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Status != observer.Modified || res.Metadata["topic"] != "Test" {
		t.Errorf("res = %+v", res)
	}
}

func TestLuaScriptReturnsContent(t *testing.T) {
	s := NewLuaScript(NewLuaPool(1), `
function on_event(event)
  local payload = event.Updated
  return { content = payload.content .. "!" }
end
`)
	res, err := s.Invoke(context.Background(), observer.Descriptor{Name: "t"}, luaEvent(event.Updated, "body"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Content == nil || *res.Content != "body!" {
		t.Errorf("res = %+v", res)
	}
}

func TestLuaScriptNilReturnUnchanged(t *testing.T) {
	s := NewLuaScript(NewLuaPool(1), `function on_event(event) return nil end`)
	res, err := s.Invoke(context.Background(), observer.Descriptor{Name: "t"}, luaEvent(event.Synced, "x"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Status != observer.Unchanged {
		t.Errorf("res = %+v", res)
	}
}

func TestLuaScriptMissingEntryPoint(t *testing.T) {
	s := NewLuaScript(NewLuaPool(1), `local x = 1`)
	res, err := s.Invoke(context.Background(), observer.Descriptor{Name: "t"}, luaEvent(event.Updated, "x"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Status != observer.Failed || !strings.Contains(res.Reason, "on_event") {
		t.Errorf("res = %+v", res)
	}
}

func TestLuaScriptRuntimeErrorFails(t *testing.T) {
	s := NewLuaScript(NewLuaPool(1), `function on_event(event) error("deliberate") end`)
	res, err := s.Invoke(context.Background(), observer.Descriptor{Name: "t"}, luaEvent(event.Updated, "x"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Status != observer.Failed || !strings.Contains(res.Reason, "deliberate") {
		t.Errorf("res = %+v", res)
	}
}

func TestLuaScriptTimeoutReported(t *testing.T) {
	s := NewLuaScript(NewLuaPool(1), `function on_event(event) while true do end end`)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	res, err := s.Invoke(ctx, observer.Descriptor{Name: "t"}, luaEvent(event.Updated, "x"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Status != observer.Failed || res.Reason != "timeout" {
		t.Errorf("res = %+v", res)
	}
}
