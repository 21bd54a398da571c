// Package frontmatter parses and serializes the YAML metadata block at the
// top of a note. Key order is preserved so that re-serializing an unchanged
// note is byte-identical to its input, which the pipeline relies on for
// idempotency detection.
package frontmatter

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/ansuz/internal/models"
)

const delim = "---"

// Split separates the frontmatter block (between leading --- delimiters) from
// the Markdown body. If no block is found, or the YAML is invalid, the whole
// input is returned as body with a nil frontmatter (fallback rule).
func Split(data []byte) (models.Frontmatter, string) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim+"\n")) {
		return nil, string(data)
	}

	rest := trimmed[len(delim)+1:]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	fm, err := parseBlock(yamlBlock)
	if err != nil {
		return nil, string(data)
	}
	return fm, body
}

// parseBlock decodes the YAML mapping via the node API so key order survives.
// Scalar values are kept verbatim; sequences of scalars are comma-joined.
func parseBlock(block []byte) (models.Frontmatter, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(block, &doc); err != nil {
		return nil, fmt.Errorf("frontmatter: parse: %w", err)
	}
	if len(doc.Content) == 0 {
		return models.NewFrontmatter(), nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("frontmatter: not a mapping")
	}

	fm := models.NewFrontmatter()
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		val := root.Content[i+1]
		switch val.Kind {
		case yaml.ScalarNode:
			fm.Set(key.Value, val.Value)
		case yaml.SequenceNode:
			parts := make([]string, 0, len(val.Content))
			for _, item := range val.Content {
				if item.Kind == yaml.ScalarNode {
					parts = append(parts, item.Value)
				}
			}
			fm.Set(key.Value, strings.Join(parts, ", "))
		default:
			// Nested mappings are not part of the note metadata model.
			return nil, fmt.Errorf("frontmatter: unsupported value for key %q", key.Value)
		}
	}
	return fm, nil
}

// Serialize renders the frontmatter block followed by the body. A nil or
// empty frontmatter yields the body alone. The output is deterministic for a
// given (frontmatter, body) pair.
func Serialize(fm models.Frontmatter, body string) []byte {
	if fm == nil || fm.Len() == 0 {
		return []byte(body)
	}
	var b bytes.Buffer
	b.WriteString(delim)
	b.WriteByte('\n')
	for pair := fm.Oldest(); pair != nil; pair = pair.Next() {
		b.WriteString(pair.Key)
		b.WriteString(": ")
		b.WriteString(quoteIfNeeded(pair.Value))
		b.WriteByte('\n')
	}
	b.WriteString(delim)
	b.WriteString("\n\n")
	b.WriteString(body)
	return b.Bytes()
}

// quoteIfNeeded wraps values that YAML would otherwise reinterpret.
func quoteIfNeeded(v string) string {
	if v == "" {
		return `""`
	}
	plain := !strings.ContainsAny(v, ":#\"'\n\t{}[]&*!|>%@`") &&
		!strings.HasPrefix(v, " ") && !strings.HasSuffix(v, " ") &&
		!strings.HasPrefix(v, "-")
	if plain {
		return v
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return v
	}
	return strings.TrimRight(string(out), "\n")
}

// Equal reports whether two frontmatter maps hold the same keys in the same
// order with the same values.
func Equal(a, b models.Frontmatter) bool {
	la, lb := 0, 0
	if a != nil {
		la = a.Len()
	}
	if b != nil {
		lb = b.Len()
	}
	if la != lb {
		return false
	}
	if la == 0 {
		return true
	}
	pa, pb := a.Oldest(), b.Oldest()
	for pa != nil && pb != nil {
		if pa.Key != pb.Key || pa.Value != pb.Value {
			return false
		}
		pa, pb = pa.Next(), pb.Next()
	}
	return pa == nil && pb == nil
}
