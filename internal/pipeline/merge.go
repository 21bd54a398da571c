// Package pipeline coordinates dispatch: it routes normalized events to the
// registered observers, folds their results into the note, and persists the
// outcome with conflict detection.
package pipeline

import (
	"bytes"
	"sort"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/frontmatter"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/observer"
)

// Shadow reports a discarded part of an observer result: a metadata key
// already claimed by a higher-priority observer, or a mutation beyond the
// observer's declared capabilities. Observability, not an error.
type Shadow struct {
	Observer string
	Key      string // "body" for a discarded body replacement
}

// Merged is the candidate next state of a note after folding all results.
// Changed short-circuits persistence: a false value is the single mechanism
// preventing unbounded watch→write→watch cycles.
type Merged struct {
	Note     *models.Note
	Changed  bool
	Shadowed []Shadow
	Failures []*apperr.ObserverError
}

// Attributed pairs a result with the descriptor that produced it.
type Attributed struct {
	Descriptor observer.Descriptor
	Result     observer.Result
}

// Folder owns the folding step for one dispatch. Results are applied in
// priority order; the working note after each application is what the next
// observer sees, so body mutations compose. Metadata conflicts resolve to
// the first (highest-priority) writer of a key; later writers are shadowed.
// The special keys follow the merge rules: tags and topics union, created_at
// first-wins, updated_at overwrites, timestamp is dropped.
type Folder struct {
	note     *models.Note
	claimed  map[string]string // metadata key → claiming observer
	shadowed []Shadow
	failures []*apperr.ObserverError
}

// NewFolder starts a fold from a clone of base; base is never mutated.
func NewFolder(base *models.Note) *Folder {
	return &Folder{
		note:    base.Clone(),
		claimed: make(map[string]string),
	}
}

// Note returns the working note. It is pipeline-owned; hand observers a
// clone, never this value.
func (f *Folder) Note() *models.Note { return f.note }

// Fail records an observer failure. Failures are non-contagious: the fold
// continues with the other observers' results.
func (f *Folder) Fail(name, reason string, timeout bool) {
	f.failures = append(f.failures, &apperr.ObserverError{
		Observer: name,
		Reason:   reason,
		Timeout:  timeout,
	})
}

// Apply folds one observer result into the working note.
func (f *Folder) Apply(d observer.Descriptor, res observer.Result) {
	if res.Status == observer.Failed {
		f.Fail(d.Name, res.Reason, res.Reason == "timeout")
		return
	}

	if len(res.Metadata) > 0 {
		if d.Capabilities.Has(observer.CapMetadata) {
			f.applyMetadata(d, res.Metadata)
		} else {
			for _, key := range sortedKeys(res.Metadata) {
				f.shadowed = append(f.shadowed, Shadow{Observer: d.Name, Key: key})
			}
		}
	}

	if res.Content != nil {
		if d.Capabilities.Has(observer.CapBody) {
			f.note.Body = *res.Content
		} else {
			f.shadowed = append(f.shadowed, Shadow{Observer: d.Name, Key: "body"})
		}
	}
}

func (f *Folder) applyMetadata(d observer.Descriptor, patch map[string]string) {
	if f.note.Frontmatter == nil {
		f.note.Frontmatter = models.NewFrontmatter()
	}
	fm := f.note.Frontmatter

	for _, key := range sortedKeys(patch) {
		value := patch[key]
		switch key {
		case "timestamp":
			// Redundant with updated_at; always dropped.

		case "tags", "topics":
			existing, _ := fm.Get(key)
			fm.Set(key, unionList(existing, value))

		case "created_at":
			if _, ok := fm.Get(key); !ok {
				fm.Set(key, value)
			}

		case "updated_at":
			fm.Set(key, value)

		default:
			if owner, taken := f.claimed[key]; taken && owner != d.Name {
				f.shadowed = append(f.shadowed, Shadow{Observer: d.Name, Key: key})
				continue
			}
			f.claimed[key] = d.Name
			if value == observer.Tombstone {
				fm.Delete(key)
			} else {
				fm.Set(key, value)
			}
		}
	}
}

// Merged finalizes the fold against the original note.
func (f *Folder) Merged(base *models.Note) *Merged {
	before := frontmatter.Serialize(base.Frontmatter, base.Body)
	after := frontmatter.Serialize(f.note.Frontmatter, f.note.Body)
	return &Merged{
		Note:     f.note,
		Changed:  !bytes.Equal(before, after),
		Shadowed: f.shadowed,
		Failures: f.failures,
	}
}

// Fold applies a sequence of attributed results to base and finalizes.
func Fold(base *models.Note, results []Attributed) *Merged {
	f := NewFolder(base)
	for _, a := range results {
		f.Apply(a.Descriptor, a.Result)
	}
	return f.Merged(base)
}

// unionList merges two comma-joined lists: split, trim, dedup, sort.
func unionList(existing, added string) string {
	seen := make(map[string]struct{})
	var items []string
	for _, raw := range append(strings.Split(existing, ","), strings.Split(added, ",")...) {
		item := strings.TrimSpace(raw)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		items = append(items, item)
	}
	sort.Strings(items)
	return strings.Join(items, ", ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
