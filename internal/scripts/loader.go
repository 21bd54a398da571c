// Package scripts loads user-authored observers from the scripts directory
// and registers them. Reloading re-registers under the same name, which the
// registry resolves as replace-by-name; no restart required.
package scripts

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/event"
	"github.com/starford/ansuz/internal/observer"
	"github.com/starford/ansuz/internal/runtime"
)

// DefaultScriptTimeout bounds a script invocation unless a directive says
// otherwise.
const DefaultScriptTimeout = 5 * time.Second

// Loader scans the scripts directory for *.lua and *.js observers.
//
// Scripts may carry directives in leading comment lines:
//
//	-- priority: 40
//	-- events: Created, Updated
//	-- timeout: 10s
//
// (// for JavaScript). A script with no directives observes every event at
// priority 50.
type Loader struct {
	dir      string
	registry *observer.Registry
	luaPool  *runtime.LuaPool
	jsWorker *runtime.JSWorker
	logger   *slog.Logger

	loaded map[string]struct{}
}

// NewLoader creates a loader over dir. A missing dir is not an error; Load
// simply registers nothing.
func NewLoader(dir string, registry *observer.Registry, luaPool *runtime.LuaPool, jsWorker *runtime.JSWorker, logger *slog.Logger) *Loader {
	return &Loader{
		dir:      dir,
		registry: registry,
		luaPool:  luaPool,
		jsWorker: jsWorker,
		logger:   logger,
		loaded:   make(map[string]struct{}),
	}
}

// Load registers every script in the directory, replacing previously loaded
// versions and unregistering scripts whose files are gone.
func (l *Loader) Load() error {
	if l.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scripts: read dir %s: %w", l.dir, err)
	}

	seen := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".lua" && ext != ".js" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ext)
		if err := l.loadScript(name, ext, filepath.Join(l.dir, entry.Name())); err != nil {
			l.logger.Warn("scripts: load failed",
				slog.String("script", entry.Name()),
				slog.String("error", err.Error()))
			continue
		}
		seen[name] = struct{}{}
	}

	for name := range l.loaded {
		if _, ok := seen[name]; !ok {
			l.registry.Unregister(name)
			l.logger.Info("scripts: unregistered removed script", slog.String("name", name))
		}
	}
	l.loaded = seen
	return nil
}

func (l *Loader) loadScript(name, ext, path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	d := observer.Descriptor{
		Name:     name,
		Timeout:  DefaultScriptTimeout,
		Priority: 50,
	}
	applyDirectives(&d, string(source), ext)

	var rt observer.Runtime
	switch ext {
	case ".lua":
		d.Runtime = observer.RuntimeLua
		d.Capabilities = observer.CapMetadata | observer.CapBody
		rt = runtime.NewLuaScript(l.luaPool, string(source))
	case ".js":
		d.Runtime = observer.RuntimeJS
		d.Capabilities = observer.CapMetadata | observer.CapBody
		rt = runtime.NewJSScript(l.jsWorker, string(source))
	}

	l.registry.Register(d, rt)
	l.logger.Info("scripts: registered",
		slog.String("name", name),
		slog.String("runtime", string(d.Runtime)),
		slog.Int("priority", d.Priority))
	return nil
}

// applyDirectives parses leading comment lines for descriptor overrides.
func applyDirectives(d *observer.Descriptor, source, ext string) {
	prefix := "--"
	if ext == ".js" {
		prefix = "//"
	}

	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, prefix) {
			break
		}
		directive := strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
		key, value, found := strings.Cut(directive, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "priority":
			if p, err := strconv.Atoi(value); err == nil {
				d.Priority = p
			}
		case "timeout":
			if t, err := time.ParseDuration(value); err == nil && t > 0 {
				d.Timeout = t
			}
		case "events":
			var kinds []event.Kind
			for _, raw := range strings.Split(value, ",") {
				k := event.Kind(strings.TrimSpace(raw))
				switch k {
				case event.Created, event.Updated, event.Synced, event.Deleted:
					kinds = append(kinds, k)
				}
			}
			d.Events = kinds
		}
	}
}
