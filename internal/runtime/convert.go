// Package runtime implements the observer execution backends: the restricted
// Lua script runtime, the embedded JavaScript interpreter, and native Go
// functions. All three expose the same invoke contract; scripts receive the
// plugin-contract event document and return either nothing or a value with
// optional metadata and content fields.
package runtime

import (
	"encoding/json"
	"fmt"

	"github.com/starford/ansuz/internal/event"
	"github.com/starford/ansuz/internal/observer"
)

// eventValue decodes the plugin-contract JSON for ev into a generic value
// suitable for handing to an embedded interpreter.
func eventValue(ev *event.NoteEvent) (map[string]any, error) {
	raw, err := ev.PluginJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("runtime: encode event: %w", err)
	}
	return m, nil
}

// resultFromExport converts a script's returned value (already exported to
// plain Go types) into an observer.Result.
func resultFromExport(v any) (observer.Result, error) {
	if v == nil {
		return observer.Result{Status: observer.Unchanged}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return observer.Result{}, fmt.Errorf("runtime: script returned %T, want object or nil", v)
	}

	res := observer.Result{Status: observer.Unchanged}
	if rawMeta, ok := m["metadata"]; ok && rawMeta != nil {
		metaMap, ok := rawMeta.(map[string]any)
		if !ok {
			return observer.Result{}, fmt.Errorf("runtime: metadata is %T, want object", rawMeta)
		}
		res.Metadata = make(map[string]string, len(metaMap))
		for k, val := range metaMap {
			res.Metadata[k] = fmt.Sprintf("%v", val)
		}
		if len(res.Metadata) > 0 {
			res.Status = observer.Modified
		}
	}
	if rawContent, ok := m["content"]; ok && rawContent != nil {
		s, ok := rawContent.(string)
		if !ok {
			return observer.Result{}, fmt.Errorf("runtime: content is %T, want string", rawContent)
		}
		res.Content = &s
		res.Status = observer.Modified
	}
	return res, nil
}
