package observers

import (
	"context"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/event"
	"github.com/starford/ansuz/internal/observer"
	"github.com/starford/ansuz/internal/runtime"
)

const (
	fenceOpen   = "```lua"
	fenceClose  = "```"
	outputLabel = "> Output:"
)

// CodeFence executes ```lua fences through the restricted script runtime and
// maintains a "> Output:" annotation after each one. The annotation shape is
// fixed: the closing fence, exactly one blank line, the label, then one
// "> "-prefixed line per output line. Reproducing that shape bit-for-bit is
// what makes re-runs idempotent.
//
// Updated events re-execute only fences whose code changed against the
// pre-event snapshot; Synced always re-executes (a Synced run refreshes
// stale output even when the code is unchanged).
func CodeFence(pool *runtime.LuaPool) (observer.Descriptor, observer.Runtime) {
	d := observer.Descriptor{
		Name:         "code_fence",
		Runtime:      observer.RuntimeLua,
		Events:       []event.Kind{event.Created, event.Updated, event.Synced},
		Capabilities: observer.CapBody,
		Timeout:      10 * time.Second,
		Priority:     30,
	}

	fn := func(ctx context.Context, ev *event.NoteEvent) (observer.Result, error) {
		prevBody := ""
		if ev.Prev != nil {
			prevBody = ev.Prev.Body
		}
		exec := func(code string) (string, error) {
			return pool.Exec(ctx, code)
		}
		rewritten := processFences(ev.Note().Body, prevBody, ev.Kind, exec)
		rewritten = collapseBlankRuns(rewritten)
		if rewritten == ev.Note().Body {
			return observer.Result{Status: observer.Unchanged}, nil
		}
		return observer.Result{Content: &rewritten, Status: observer.Modified}, nil
	}

	return d, runtime.NewNative(fn)
}

// processFences makes a single forward pass over body. The cursor advances
// past every emitted annotation, so freshly inserted text is never
// re-scanned in the same pass and fences cannot overlap.
func processFences(body, prevBody string, kind event.Kind, exec func(string) (string, error)) string {
	lines := strings.Split(body, "\n")
	out := make([]string, 0, len(lines))

	i := 0
	for i < len(lines) {
		if strings.TrimRight(lines[i], " ") != fenceOpen {
			out = append(out, lines[i])
			i++
			continue
		}

		// Find the closing fence; an unterminated fence ends the pass.
		closing := i + 1
		for closing < len(lines) && strings.TrimRight(lines[closing], " ") != fenceClose {
			closing++
		}
		if closing == len(lines) {
			out = append(out, lines[i:]...)
			break
		}

		code := strings.Join(lines[i+1:closing], "\n")
		out = append(out, lines[i:closing+1]...)
		i = closing + 1

		// Detect an existing annotation: one blank line, the label, then
		// ">"-prefixed lines.
		var existing []string
		if i+1 < len(lines) && strings.TrimSpace(lines[i]) == "" && lines[i+1] == outputLabel {
			end := i + 2
			for end < len(lines) && strings.HasPrefix(lines[end], ">") {
				end++
			}
			existing = lines[i:end]
			i = end
		}

		if existing != nil && kind == event.Updated && fenceUnchanged(prevBody, code) {
			out = append(out, existing...)
			continue
		}

		out = append(out, "", outputLabel)
		printed, err := exec(code)
		if err != nil {
			out = append(out, "> error: "+firstLine(err.Error()))
			continue
		}
		for _, line := range splitOutput(printed) {
			out = append(out, "> "+line)
		}
	}

	return strings.Join(out, "\n")
}

// fenceUnchanged reports whether the previous snapshot contained the same
// fenced code, meaning an Updated event does not need to re-execute it.
func fenceUnchanged(prevBody, code string) bool {
	if prevBody == "" {
		return false
	}
	return strings.Contains(prevBody, fenceOpen+"\n"+code+"\n"+fenceClose)
}

func splitOutput(printed string) []string {
	trimmed := strings.TrimRight(printed, "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// collapseBlankRuns normalizes runs of 3+ consecutive blank lines down to
// exactly one blank line.
func collapseBlankRuns(body string) string {
	lines := strings.Split(body, "\n")
	out := make([]string, 0, len(lines))

	i := 0
	for i < len(lines) {
		if strings.TrimSpace(lines[i]) != "" {
			out = append(out, lines[i])
			i++
			continue
		}
		run := i
		for run < len(lines) && strings.TrimSpace(lines[run]) == "" {
			run++
		}
		if run-i >= 3 {
			out = append(out, "")
		} else {
			out = append(out, lines[i:run]...)
		}
		i = run
	}

	return strings.Join(out, "\n")
}
