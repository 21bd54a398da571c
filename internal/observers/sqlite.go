package observers

import (
	"context"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/event"
	"github.com/starford/ansuz/internal/notedb"
	"github.com/starford/ansuz/internal/observer"
	"github.com/starford/ansuz/internal/runtime"
)

const (
	sqlFenceOpen = "```sql"
	sqlBegin     = "<!-- BEGIN SQL -->"
	sqlEnd       = "<!-- END SQL -->"
)

// SQLite mirrors every note's frontmatter into the metadata database and
// executes read-only ```sql fences, rendering the result as a Markdown table
// between BEGIN/END SQL marker comments. The markers are the idempotency
// tokens: an existing block is replaced in place, never duplicated.
//
// It runs last (after every metadata-producing observer) so queries see the
// freshest rows, matching how the original pipeline ordered its store.
func SQLite(db *notedb.DB) (observer.Descriptor, observer.Runtime) {
	d := observer.Descriptor{
		Name:         "sqlite",
		Runtime:      observer.RuntimeNative,
		Capabilities: observer.CapBody,
		Timeout:      10 * time.Second,
		Priority:     100,
	}

	fn := func(_ context.Context, ev *event.NoteEvent) (observer.Result, error) {
		if ev.Kind == event.Deleted {
			if err := db.DeleteNote(ev.Path); err != nil {
				return observer.Result{}, err
			}
			return observer.Result{Status: observer.Unchanged}, nil
		}

		note := ev.Note()
		if err := db.UpsertNote(note); err != nil {
			return observer.Result{}, err
		}

		rewritten := processSQLFences(note.Body, db)
		if rewritten == note.Body {
			return observer.Result{Status: observer.Unchanged}, nil
		}
		return observer.Result{Content: &rewritten, Status: observer.Modified}, nil
	}

	return d, runtime.NewNative(fn)
}

// processSQLFences walks the body once, executing each sql fence and placing
// its result block after it. Like the code-fence executor, the cursor skips
// anything it just emitted.
func processSQLFences(body string, db *notedb.DB) string {
	lines := strings.Split(body, "\n")
	out := make([]string, 0, len(lines))

	i := 0
	for i < len(lines) {
		if strings.TrimRight(lines[i], " ") != sqlFenceOpen {
			out = append(out, lines[i])
			i++
			continue
		}

		closing := i + 1
		for closing < len(lines) && strings.TrimRight(lines[closing], " ") != "```" {
			closing++
		}
		if closing == len(lines) {
			out = append(out, lines[i:]...)
			break
		}

		query := strings.Join(lines[i+1:closing], "\n")
		out = append(out, lines[i:closing+1]...)
		i = closing + 1

		// Skip an existing result block.
		if i+1 < len(lines) && strings.TrimSpace(lines[i]) == "" && lines[i+1] == sqlBegin {
			end := i + 2
			for end < len(lines) && lines[end] != sqlEnd {
				end++
			}
			if end < len(lines) {
				i = end + 1
			}
		}

		out = append(out, "", sqlBegin)
		out = append(out, renderQuery(db, query)...)
		out = append(out, sqlEnd)
	}

	return strings.Join(out, "\n")
}

// renderQuery returns the Markdown table lines for a query, or an error note.
func renderQuery(db *notedb.DB, query string) []string {
	cols, rows, err := db.Query(query)
	if err != nil {
		return []string{"> query error: " + firstLine(err.Error())}
	}
	if len(cols) == 0 {
		return nil
	}

	sep := make([]string, len(cols))
	for i := range sep {
		sep[i] = "---"
	}
	out := []string{
		"| " + strings.Join(cols, " | ") + " |",
		"| " + strings.Join(sep, " | ") + " |",
	}
	for _, row := range rows {
		escaped := make([]string, len(row))
		for i, cell := range row {
			escaped[i] = strings.ReplaceAll(cell, "|", "\\|")
		}
		out = append(out, "| "+strings.Join(escaped, " | ")+" |")
	}
	return out
}
