package resource

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultScheme is the URI scheme used when none is configured.
const DefaultScheme = "o8"

// Defaults for dynamic match parameters.
const (
	DefaultMatchMaxTokens  = 3000
	DefaultMatchMaxResults = 15
	DefaultMatchMinScore   = 10
)

// MatchMode selects the output shape of a dynamic match.
type MatchMode string

const (
	ModeFull    MatchMode = "full"
	ModeCatalog MatchMode = "catalog"
	ModeIndex   MatchMode = "index"
	ModeMinimal MatchMode = "minimal"
)

// ValidMode reports whether m is a recognized match mode.
func ValidMode(m MatchMode) bool {
	switch m {
	case ModeFull, ModeCatalog, ModeIndex, ModeMinimal:
		return true
	}
	return false
}

// MatchParams are the parsed query parameters of a dynamic match URI.
type MatchParams struct {
	Query      string
	MaxTokens  int
	MaxResults int
	MinScore   int
	Tags       []string
	Categories []Category
	Mode       MatchMode
}

// URI is a parsed resource URI. Exactly one of ResourceID (static) or
// Match (dynamic) is set.
type URI struct {
	Scheme     string
	Category   Category // optional for dynamic URIs
	ResourceID string
	Match      *MatchParams
}

// IsMatch reports whether the URI is the dynamic match variant.
func (u *URI) IsMatch() bool { return u.Match != nil }

const matchSegment = "match"

// ParseURI parses raw against the configured scheme. Both variants:
//
//	scheme://<category>/<resource-id>
//	scheme://[<category>/]match?query=...&maxTokens=...
func ParseURI(raw, scheme string) (*URI, error) {
	if scheme == "" {
		scheme = DefaultScheme
	}
	prefix := scheme + "://"
	if !strings.HasPrefix(raw, prefix) {
		return nil, NewError(KindInvalidURI, "", "expected scheme %q in %q", scheme, raw)
	}

	rest := strings.TrimPrefix(raw, prefix)
	path := rest
	rawQuery := ""
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		path, rawQuery = rest[:i], rest[i+1:]
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, NewError(KindInvalidURI, "", "missing path in %q", raw)
	}

	segments := strings.Split(path, "/")
	u := &URI{Scheme: scheme}

	if segments[len(segments)-1] == matchSegment {
		switch len(segments) {
		case 1:
		case 2:
			cat := Category(segments[0])
			if !cat.Valid() {
				return nil, NewError(KindInvalidURI, "", "unknown category %q in %q", segments[0], raw)
			}
			u.Category = cat
		default:
			return nil, NewError(KindInvalidURI, "", "too many path segments in %q", raw)
		}
		params, err := parseMatchParams(rawQuery)
		if err != nil {
			return nil, err
		}
		if u.Category != "" && len(params.Categories) == 0 {
			params.Categories = []Category{u.Category}
		}
		u.Match = params
		return u, nil
	}

	if len(segments) != 2 {
		return nil, NewError(KindInvalidURI, "", "expected <category>/<id> in %q", raw)
	}
	cat := Category(segments[0])
	if !cat.Valid() {
		return nil, NewError(KindInvalidURI, "", "unknown category %q in %q", segments[0], raw)
	}
	if segments[1] == "" {
		return nil, NewError(KindInvalidURI, "", "empty resource id in %q", raw)
	}
	u.Category = cat
	u.ResourceID = segments[1]
	return u, nil
}

func parseMatchParams(rawQuery string) (*MatchParams, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, WrapError(KindInvalidURI, "", err, "malformed query string")
	}

	params := &MatchParams{
		MaxTokens:  DefaultMatchMaxTokens,
		MaxResults: DefaultMatchMaxResults,
		MinScore:   DefaultMatchMinScore,
		Mode:       ModeCatalog,
	}

	params.Query = values.Get("query")
	if params.Query == "" {
		return nil, NewError(KindInvalidURI, "", "match URI requires a query parameter")
	}

	if v := values.Get("maxTokens"); v != "" {
		n, err := parsePositiveInt("maxTokens", v)
		if err != nil {
			return nil, err
		}
		params.MaxTokens = n
	}
	if v := values.Get("maxResults"); v != "" {
		n, err := parsePositiveInt("maxResults", v)
		if err != nil {
			return nil, err
		}
		params.MaxResults = n
	}
	if v := values.Get("minScore"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			return nil, NewError(KindInvalidURI, "", "minScore must be an integer in [0,100], got %q", v)
		}
		params.MinScore = n
	}
	if v := values.Get("tags"); v != "" {
		params.Tags = splitCommaList(v)
	}
	if v := values.Get("categories"); v != "" {
		for _, s := range splitCommaList(v) {
			cat := Category(s)
			if !cat.Valid() {
				return nil, NewError(KindInvalidURI, "", "unknown category %q", s)
			}
			params.Categories = append(params.Categories, cat)
		}
	}
	if v := values.Get("mode"); v != "" {
		mode := MatchMode(v)
		if !ValidMode(mode) {
			return nil, NewError(KindInvalidURI, "", "unknown mode %q", v)
		}
		params.Mode = mode
	}

	return params, nil
}

func parsePositiveInt(key, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, NewError(KindInvalidURI, "", "%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// String serializes the URI. Dynamic parameters are emitted in a fixed
// order; values equal to their defaults are omitted.
func (u *URI) String() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")

	if u.Match == nil {
		b.WriteString(string(u.Category))
		b.WriteByte('/')
		b.WriteString(u.ResourceID)
		return b.String()
	}

	if u.Category != "" {
		b.WriteString(string(u.Category))
		b.WriteByte('/')
	}
	b.WriteString(matchSegment)
	b.WriteByte('?')

	params := []string{"query=" + url.QueryEscape(u.Match.Query)}
	if u.Match.MaxTokens != DefaultMatchMaxTokens {
		params = append(params, fmt.Sprintf("maxTokens=%d", u.Match.MaxTokens))
	}
	if u.Match.MaxResults != DefaultMatchMaxResults {
		params = append(params, fmt.Sprintf("maxResults=%d", u.Match.MaxResults))
	}
	if u.Match.MinScore != DefaultMatchMinScore {
		params = append(params, fmt.Sprintf("minScore=%d", u.Match.MinScore))
	}
	if len(u.Match.Tags) > 0 {
		params = append(params, "tags="+url.QueryEscape(strings.Join(u.Match.Tags, ",")))
	}
	if cats := u.Match.Categories; len(cats) > 0 && !(len(cats) == 1 && cats[0] == u.Category) {
		strs := make([]string, len(cats))
		for i, c := range cats {
			strs[i] = string(c)
		}
		params = append(params, "categories="+url.QueryEscape(strings.Join(strs, ",")))
	}
	if u.Match.Mode != ModeCatalog {
		params = append(params, "mode="+string(u.Match.Mode))
	}
	b.WriteString(strings.Join(params, "&"))
	return b.String()
}

// StaticURI builds the canonical static URI string for a resource.
func StaticURI(scheme string, category Category, id string) string {
	if scheme == "" {
		scheme = DefaultScheme
	}
	return scheme + "://" + string(category) + "/" + id
}
