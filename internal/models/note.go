// Package models defines the domain types for Ansuz.
package models

import (
	"path/filepath"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Frontmatter is an order-preserving mapping of frontmatter keys to values.
// List-valued fields use the comma-joined convention ("a, b, c").
type Frontmatter = *orderedmap.OrderedMap[string, string]

// NewFrontmatter returns an empty frontmatter map.
func NewFrontmatter() Frontmatter {
	return orderedmap.New[string, string]()
}

// Note represents a parsed Markdown file in the vault.
//
// Checksum is the SHA-256 hex digest of the serialized file as last read from
// or written to disk; any write that does not refresh it is a bug.
type Note struct {
	Path        string
	Frontmatter Frontmatter
	Body        string
	Checksum    string
}

// Title returns the frontmatter "title" if present, otherwise the first H1
// heading, otherwise the filename stem.
func (n *Note) Title() string {
	if n.Frontmatter != nil {
		if t, ok := n.Frontmatter.Get("title"); ok && t != "" {
			return t
		}
	}
	for _, line := range strings.Split(n.Body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	base := filepath.Base(n.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Tags returns the comma-split frontmatter "tags" field.
func (n *Note) Tags() []string {
	if n.Frontmatter == nil {
		return nil
	}
	raw, ok := n.Frontmatter.Get("tags")
	if !ok || raw == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Clone returns a deep copy. Observers receive clones so they can never hold
// a live reference into pipeline-owned state.
func (n *Note) Clone() *Note {
	cp := &Note{Path: n.Path, Body: n.Body, Checksum: n.Checksum}
	if n.Frontmatter != nil {
		cp.Frontmatter = NewFrontmatter()
		for pair := n.Frontmatter.Oldest(); pair != nil; pair = pair.Next() {
			cp.Frontmatter.Set(pair.Key, pair.Value)
		}
	}
	return cp
}

// NoteMetadata is a lightweight representation returned by list operations.
type NoteMetadata struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
}
