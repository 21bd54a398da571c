package scripts

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/event"
	"github.com/starford/ansuz/internal/observer"
	"github.com/starford/ansuz/internal/runtime"
)

func testLoader(t *testing.T) (string, *observer.Registry, *Loader) {
	t.Helper()
	dir := t.TempDir()
	reg := observer.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	worker := runtime.NewJSWorker(logger)
	t.Cleanup(worker.Close)
	l := NewLoader(dir, reg, runtime.NewLuaPool(1), worker, logger)
	return dir, reg, l
}

func writeScript(t *testing.T, dir, name, source string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
}

func findBinding(t *testing.T, reg *observer.Registry, name string) observer.Binding {
	t.Helper()
	for _, b := range reg.All() {
		if b.Descriptor.Name == name {
			return b
		}
	}
	t.Fatalf("observer %q not registered", name)
	return observer.Binding{}
}

func TestLoadRegistersScripts(t *testing.T) {
	dir, reg, l := testLoader(t)
	writeScript(t, dir, "lua_one.lua", `function on_event(e) return nil end`)
	writeScript(t, dir, "js_one.js", `function on_event(e) { return null; }`)
	writeScript(t, dir, "readme.txt", "ignored")

	if err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reg.All()) != 2 {
		t.Fatalf("registered = %d", len(reg.All()))
	}
	if b := findBinding(t, reg, "lua_one"); b.Descriptor.Runtime != observer.RuntimeLua {
		t.Errorf("lua_one runtime = %q", b.Descriptor.Runtime)
	}
	if b := findBinding(t, reg, "js_one"); b.Descriptor.Runtime != observer.RuntimeJS {
		t.Errorf("js_one runtime = %q", b.Descriptor.Runtime)
	}
}

func TestLoadParsesDirectives(t *testing.T) {
	dir, reg, l := testLoader(t)
	writeScript(t, dir, "tuned.lua", `-- priority: 40
-- events: Created, Updated
-- timeout: 10s

function on_event(e) return nil end
`)
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}
	d := findBinding(t, reg, "tuned").Descriptor
	if d.Priority != 40 {
		t.Errorf("priority = %d", d.Priority)
	}
	if d.Timeout != 10*time.Second {
		t.Errorf("timeout = %v", d.Timeout)
	}
	if len(d.Events) != 2 || !d.Interested(event.Created) || d.Interested(event.Deleted) {
		t.Errorf("events = %v", d.Events)
	}
}

func TestLoadJSDirectives(t *testing.T) {
	dir, reg, l := testLoader(t)
	writeScript(t, dir, "tuned.js", `// priority: 70
function on_event(e) { return null; }
`)
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}
	if d := findBinding(t, reg, "tuned").Descriptor; d.Priority != 70 {
		t.Errorf("priority = %d", d.Priority)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir, reg, l := testLoader(t)
	writeScript(t, dir, "plain.lua", `function on_event(e) return nil end`)
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}
	d := findBinding(t, reg, "plain").Descriptor
	if d.Priority != 50 || d.Timeout != DefaultScriptTimeout || len(d.Events) != 0 {
		t.Errorf("descriptor = %+v", d)
	}
	if !d.Capabilities.Has(observer.CapMetadata) || !d.Capabilities.Has(observer.CapBody) {
		t.Errorf("capabilities = %v", d.Capabilities)
	}
	if d.Capabilities.Has(observer.CapFiles) {
		t.Error("scripts must never get file access")
	}
}

func TestReloadUnregistersRemovedScripts(t *testing.T) {
	dir, reg, l := testLoader(t)
	writeScript(t, dir, "gone.lua", `function on_event(e) return nil end`)
	writeScript(t, dir, "kept.lua", `function on_event(e) return nil end`)
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(dir, "gone.lua")); err != nil {
		t.Fatal(err)
	}
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}

	all := reg.All()
	if len(all) != 1 || all[0].Descriptor.Name != "kept" {
		t.Errorf("registry after reload = %+v", all)
	}
}

func TestLoadMissingDirIsNoError(t *testing.T) {
	reg := observer.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	worker := runtime.NewJSWorker(logger)
	t.Cleanup(worker.Close)
	l := NewLoader(filepath.Join(t.TempDir(), "nope"), reg, runtime.NewLuaPool(1), worker, logger)
	if err := l.Load(); err != nil {
		t.Errorf("Load: %v", err)
	}
	if len(reg.All()) != 0 {
		t.Errorf("registered = %d", len(reg.All()))
	}
}
