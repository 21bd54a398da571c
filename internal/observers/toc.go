package observers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/starford/ansuz/internal/event"
	"github.com/starford/ansuz/internal/observer"
	"github.com/starford/ansuz/internal/runtime"
)

const tocHeading = "## Contents"

// Toc rebuilds a "## Contents" section from the note's headings. The first
// H1 (the note title) is excluded, as is the section's own heading. The
// section itself is the idempotency marker: regenerating identical content
// leaves the body byte-identical.
func Toc() (observer.Descriptor, observer.Runtime) {
	d := observer.Descriptor{
		Name:         "toc",
		Runtime:      observer.RuntimeNative,
		Events:       []event.Kind{event.Created, event.Updated, event.Synced},
		Capabilities: observer.CapBody,
		Timeout:      5 * time.Second,
		Priority:     20,
	}

	fn := func(_ context.Context, ev *event.NoteEvent) (observer.Result, error) {
		body := ev.Note().Body
		rebuilt := rebuildToc(body)
		if rebuilt == body {
			return observer.Result{Status: observer.Unchanged}, nil
		}
		return observer.Result{Content: &rebuilt, Status: observer.Modified}, nil
	}

	return d, runtime.NewNative(fn)
}

type heading struct {
	level int
	text  string
}

// collectHeadings parses body as Markdown and returns its headings, skipping
// the first H1 and the Contents heading. Parsing the AST keeps fenced code
// blocks containing '#' lines from being mistaken for headings.
func collectHeadings(body string) []heading {
	src := []byte(body)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var out []heading
	firstH1Seen := false
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		title := string(h.Text(src))
		if h.Level == 1 && !firstH1Seen {
			firstH1Seen = true
			return ast.WalkContinue, nil
		}
		if title == "Contents" {
			return ast.WalkContinue, nil
		}
		out = append(out, heading{level: h.Level, text: title})
		return ast.WalkContinue, nil
	})
	return out
}

func anchorFor(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		switch {
		case r == ' ':
			b.WriteByte('-')
		case r == '-' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// sectionLines renders the Contents section, ending with one blank line.
func sectionLines(headings []heading) []string {
	lines := []string{tocHeading, ""}
	for _, h := range headings {
		indent := strings.Repeat("  ", h.level-1)
		lines = append(lines, fmt.Sprintf("%s* [%s](#%s)", indent, h.text, anchorFor(h.text)))
	}
	return append(lines, "")
}

// rebuildToc regenerates the Contents section in place, or inserts it after
// the first H1 (or at the top when there is none). Bodies without headings
// are left untouched.
func rebuildToc(body string) string {
	headings := collectHeadings(body)
	if len(headings) == 0 {
		return body
	}

	section := sectionLines(headings)
	lines := strings.Split(body, "\n")

	// Replace an existing section: everything from the Contents heading up
	// to the next heading (or EOF).
	for i, line := range lines {
		if line != tocHeading {
			continue
		}
		end := i + 1
		for end < len(lines) {
			t := lines[end]
			if strings.TrimSpace(t) == "" || strings.HasPrefix(strings.TrimLeft(t, " "), "* [") {
				end++
				continue
			}
			break
		}
		out := make([]string, 0, len(lines))
		out = append(out, lines[:i]...)
		out = append(out, section...)
		out = append(out, lines[end:]...)
		return strings.Join(out, "\n")
	}

	// Insert after the first H1, swallowing the blank lines that followed
	// it so repeated passes converge.
	insertAt := 0
	for i, line := range lines {
		if strings.HasPrefix(line, "# ") {
			insertAt = i + 1
			break
		}
	}
	after := insertAt
	for after < len(lines) && strings.TrimSpace(lines[after]) == "" {
		after++
	}

	out := make([]string, 0, len(lines)+len(section)+1)
	out = append(out, lines[:insertAt]...)
	if insertAt > 0 {
		out = append(out, "")
	}
	out = append(out, section...)
	out = append(out, lines[after:]...)
	return strings.Join(out, "\n")
}
