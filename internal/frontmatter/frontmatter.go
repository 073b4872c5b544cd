// Package frontmatter parses the delimited metadata preamble at the top of
// resource files: an opening "---" line, a YAML key/value block, a closing
// "---" line, then the text body. Unknown keys are preserved, not rejected.
package frontmatter

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orchestr8/resourcehub/internal/domain/resource"
)

const delimiter = "---"

// Meta is the recognized preamble key set. Keys outside this set land in
// Extra.
type Meta struct {
	ID              string
	Category        string
	Title           string
	Description     string
	Tags            []string
	Capabilities    []string
	UseWhen         []string
	EstimatedTokens int
	Version         string
	Author          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Dependencies    []string
	Related         []string
	Extra           map[string]any
}

// Document is a parsed resource file.
type Document struct {
	Meta Meta
	Body string
}

// Parse splits content into preamble and body. Content without a preamble
// yields a zero Meta and the full text as body.
func Parse(content []byte) (*Document, error) {
	text := strings.ReplaceAll(string(content), "\r\n", "\n")

	doc := &Document{Body: text}
	if !strings.HasPrefix(text, delimiter+"\n") && text != delimiter {
		return doc, nil
	}

	rest := strings.TrimPrefix(text, delimiter+"\n")
	var block, body string
	if end := strings.Index(rest, "\n"+delimiter+"\n"); end >= 0 {
		block = rest[:end]
		body = rest[end+len(delimiter)+2:]
	} else if strings.HasSuffix(rest, "\n"+delimiter) {
		block = rest[:len(rest)-len(delimiter)-1]
	} else {
		// Unterminated preamble: treat the whole file as body.
		return doc, nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(block), &raw); err != nil {
		return nil, fmt.Errorf("parse preamble: %w", err)
	}

	doc.Body = body
	doc.Meta = metaFromMap(raw)
	return doc, nil
}

func metaFromMap(raw map[string]any) Meta {
	m := Meta{}
	for key, val := range raw {
		switch key {
		case "id":
			m.ID = asString(val)
		case "category":
			m.Category = asString(val)
		case "title":
			m.Title = asString(val)
		case "description":
			m.Description = asString(val)
		case "tags":
			m.Tags = lowerAll(asStringList(val))
		case "capabilities":
			m.Capabilities = asStringList(val)
		case "useWhen":
			m.UseWhen = asStringList(val)
		case "estimatedTokens":
			m.EstimatedTokens = asInt(val)
		case "version":
			m.Version = asString(val)
		case "author":
			m.Author = asString(val)
		case "createdAt":
			m.CreatedAt = asTime(val)
		case "updatedAt":
			m.UpdatedAt = asTime(val)
		case "dependencies":
			m.Dependencies = asStringList(val)
		case "related":
			m.Related = asStringList(val)
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[key] = val
		}
	}
	return m
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

func asStringList(v any) []string {
	switch list := v.(type) {
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s := asString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		// Inline comma-separated form.
		parts := strings.Split(list, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func lowerAll(in []string) []string {
	for i := range in {
		in[i] = strings.ToLower(in[i])
	}
	return in
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		var out int
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%d", &out); err == nil {
			return out
		}
	}
	return 0
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

// BuildResource assembles a full Resource from a parsed file. fallbackID is
// used when the preamble carries no id (typically the file stem); the
// preamble category wins over the directory-derived one when valid.
func BuildResource(doc *Document, fallbackID string, category resource.Category, source, sourceURI string) *resource.Resource {
	id := doc.Meta.ID
	if id == "" {
		id = fallbackID
	}
	if c, ok := resource.CategoryFromDir(doc.Meta.Category); ok {
		category = c
	}

	tokens := doc.Meta.EstimatedTokens
	if tokens < 1 {
		tokens = resource.EstimateTokens(doc.Body)
	}

	title := doc.Meta.Title
	if title == "" {
		title = id
	}

	return &resource.Resource{
		ID:              id,
		Category:        category,
		Title:           title,
		Description:     doc.Meta.Description,
		Tags:            doc.Meta.Tags,
		Capabilities:    doc.Meta.Capabilities,
		UseWhen:         doc.Meta.UseWhen,
		EstimatedTokens: tokens,
		Version:         doc.Meta.Version,
		Author:          doc.Meta.Author,
		CreatedAt:       doc.Meta.CreatedAt,
		UpdatedAt:       doc.Meta.UpdatedAt,
		Dependencies:    doc.Meta.Dependencies,
		Related:         doc.Meta.Related,
		Source:          source,
		SourceURI:       sourceURI,
		Content:         doc.Body,
	}
}

// Fragment projects a parsed file into the scoring shape. The fragment ID
// is category-qualified: <category>/<id>.
func Fragment(doc *Document, fallbackID string, category resource.Category) resource.Fragment {
	r := BuildResource(doc, fallbackID, category, "", "")
	return resource.Fragment{
		ID:              string(r.Category) + "/" + r.ID,
		Category:        r.Category,
		Title:           r.Title,
		Tags:            r.Tags,
		Capabilities:    r.Capabilities,
		UseWhen:         r.UseWhen,
		EstimatedTokens: r.EstimatedTokens,
		Content:         r.Content,
	}
}
