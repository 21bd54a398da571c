// Package event defines the typed note events produced by the normalizer and
// consumed by the dispatcher.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/starford/ansuz/internal/models"
)

// Kind tags a NoteEvent.
type Kind string

const (
	Created Kind = "Created"
	Updated Kind = "Updated"
	Synced  Kind = "Synced"
	Deleted Kind = "Deleted"
)

// Kinds lists every event kind in a stable order.
var Kinds = []Kind{Created, Updated, Synced, Deleted}

// Cause records what generated an event.
type Cause string

const (
	CauseWatch Cause = "watch" // file-system change
	CauseSync  Cause = "sync"  // explicit store-wide re-run
)

// NoteEvent is one normalized note mutation. Prev is the last-known snapshot
// before the event (nil for Created), Next the snapshot after it (nil for
// Deleted). Snapshots are pipeline-owned; runtimes receive serialized views.
type NoteEvent struct {
	Kind  Kind
	Path  string
	Prev  *models.Note
	Next  *models.Note
	Cause Cause
}

// Note returns the snapshot the event is about: Next when present, else Prev.
func (e *NoteEvent) Note() *models.Note {
	if e.Next != nil {
		return e.Next
	}
	return e.Prev
}

// payload is the body of the plugin contract document.
type payload struct {
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	FilePath    string            `json:"file_path"`
	Frontmatter map[string]string `json:"frontmatter"`
}

// PluginJSON renders the language-agnostic plugin contract: a JSON document
// with exactly one top-level key naming the event kind.
func (e *NoteEvent) PluginJSON() ([]byte, error) {
	n := e.Note()
	if n == nil {
		return nil, fmt.Errorf("event: %s %s: no snapshot", e.Kind, e.Path)
	}
	fm := make(map[string]string)
	if n.Frontmatter != nil {
		for pair := n.Frontmatter.Oldest(); pair != nil; pair = pair.Next() {
			fm[pair.Key] = pair.Value
		}
	}
	doc := map[string]payload{
		string(e.Kind): {
			Title:       n.Title(),
			Content:     n.Body,
			FilePath:    n.Path,
			Frontmatter: fm,
		},
	}
	return json.Marshal(doc)
}
