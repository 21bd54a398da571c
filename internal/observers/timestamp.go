// Package observers provides the built-in observers: timestamps, table of
// contents, the code-fence executor, the tag index, and the SQLite store.
package observers

import (
	"context"
	"time"

	"github.com/starford/ansuz/internal/event"
	"github.com/starford/ansuz/internal/observer"
	"github.com/starford/ansuz/internal/runtime"
)

const timeLayout = "2006-01-02 15:04:05 -0700"

// Timestamp maintains created_at and updated_at frontmatter. created_at is
// set once and preserved afterwards (first-wins in the merge rules).
// updated_at moves only on Created and Updated: refreshing it on Synced
// would make every store-wide re-run a content change, defeating
// convergence.
func Timestamp(now func() time.Time) (observer.Descriptor, observer.Runtime) {
	if now == nil {
		now = time.Now
	}

	d := observer.Descriptor{
		Name:         "timestamp",
		Runtime:      observer.RuntimeNative,
		Events:       []event.Kind{event.Created, event.Updated, event.Synced},
		Capabilities: observer.CapMetadata,
		Timeout:      2 * time.Second,
		Priority:     10,
	}

	fn := func(_ context.Context, ev *event.NoteEvent) (observer.Result, error) {
		note := ev.Note()
		hasCreated := false
		if note.Frontmatter != nil {
			_, hasCreated = note.Frontmatter.Get("created_at")
		}

		metadata := make(map[string]string)
		if !hasCreated {
			metadata["created_at"] = now().Format(timeLayout)
		}
		if ev.Kind == event.Created || ev.Kind == event.Updated {
			metadata["updated_at"] = now().Format(timeLayout)
		}
		if len(metadata) == 0 {
			return observer.Result{Status: observer.Unchanged}, nil
		}
		return observer.Result{Metadata: metadata, Status: observer.Modified}, nil
	}

	return d, runtime.NewNative(fn)
}
