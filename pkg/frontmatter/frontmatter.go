// Package frontmatter parses skill descriptor documents (SKILL.md): a leading
// YAML block fenced by "---" lines followed by free-form markdown body text.
//
// Parsing never returns errors to callers. A document without a header, with
// a malformed header or without a non-empty string name is simply not a skill.
package frontmatter

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

const delimiter = "---"

// Descriptor is the parsed content of a skill descriptor.
type Descriptor struct {
	Name          string
	Description   string
	License       *string
	Compatibility *string
	AllowedTools  *string
	// Metadata holds every key of the header block, recognized or not.
	Metadata map[string]any
	Body     string
}

// Parse splits content into header and body and validates the header.
// The boolean is false when content is not a valid descriptor.
func Parse(content string) (*Descriptor, bool) {
	content = strings.TrimPrefix(content, "\ufeff")
	header, body, ok := split(content)
	if !ok {
		return nil, false
	}

	md := goldmark.New(goldmark.WithExtensions(meta.Meta))

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert([]byte(delimiter+"\n"+header+delimiter+"\n"), &buf, parser.WithContext(pctx)); err != nil {
		return nil, false
	}

	raw, err := meta.TryGet(pctx)
	if err != nil || raw == nil {
		return nil, false
	}

	name, ok := raw["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return nil, false
	}

	description, _ := raw["description"].(string)

	metadata := make(map[string]any, len(raw))
	for k, v := range raw {
		metadata[k] = normalize(v)
	}

	return &Descriptor{
		Name:          name,
		Description:   description,
		License:       optionalString(raw, "license"),
		Compatibility: optionalString(raw, "compatibility"),
		AllowedTools:  optionalString(raw, "allowed-tools"),
		Metadata:      metadata,
		Body:          body,
	}, true
}

// ParseFile reads and parses a descriptor from disk. Unreadable files and
// files that are not valid UTF-8 are reported as invalid.
func ParseFile(path string) (*Descriptor, bool) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	if !utf8.Valid(content) {
		return nil, false
	}
	return Parse(string(content))
}

func optionalString(raw map[string]any, key string) *string {
	s, ok := raw[key].(string)
	if !ok {
		return nil
	}
	return &s
}

// split returns the header block and the text after it. It reports false
// when the document does not open with a delimiter line or the block is
// never closed.
func split(content string) (header, body string, ok bool) {
	lines := strings.Split(content, "\n")
	if strings.TrimSpace(lines[0]) != delimiter {
		return "", "", false
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delimiter {
			var hb strings.Builder
			for _, l := range lines[1:i] {
				hb.WriteString(strings.TrimSuffix(l, "\r"))
				hb.WriteByte('\n')
			}
			return hb.String(), strings.TrimLeft(strings.Join(lines[i+1:], "\n"), "\r\n"), true
		}
	}

	return "", "", false
}

// normalize converts the map[interface{}]interface{} values produced by the
// YAML decoder into map[string]any so metadata can be encoded as JSON.
func normalize(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[fmt.Sprint(k)] = normalize(inner)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalize(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalize(inner)
		}
		return out
	default:
		return v
	}
}
