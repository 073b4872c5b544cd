package index

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/orchestr8/resourcehub/internal/domain/resource"
	"github.com/orchestr8/resourcehub/internal/frontmatter"
	"github.com/orchestr8/resourcehub/internal/search"
)

// categoryDirs lists the resource-tree subdirectories scanned by the
// builder; guides is an alias for pattern.
var categoryDirs = []string{"agents", "skills", "examples", "patterns", "workflows", "guides"}

// Builder produces the inverted-index artifacts by scanning a resource
// tree. It runs offline or on a periodic trigger, never on the query path.
type Builder struct {
	root          string
	scheme        string
	commonQueries []string
}

// NewBuilder creates a Builder over the given resource root. commonQueries
// optionally seeds the quick-lookup artifact; it may be empty.
func NewBuilder(root, scheme string, commonQueries []string) *Builder {
	if scheme == "" {
		scheme = resource.DefaultScheme
	}
	return &Builder{root: root, scheme: scheme, commonQueries: commonQueries}
}

// Build scans the tree and assembles all three artifacts in memory.
func (b *Builder) Build(ctx context.Context) (*Artifacts, error) {
	fragments, err := b.scanFragments(ctx)
	if err != nil {
		return nil, err
	}

	useWhen := &UseWhenIndex{
		Version:        Version,
		Generated:      time.Now().UTC(),
		TotalFragments: len(fragments),
		Index:          make(map[string]ScenarioEntry),
	}
	keyword := &KeywordIndex{
		Version:  Version,
		Keywords: make(map[string][]string),
	}

	for i := range fragments {
		frag := &fragments[i]
		uri := search.FragmentURI(b.scheme, frag)
		for _, scenario := range frag.UseWhen {
			hash := ScenarioHash(scenario, frag.ID)
			keywords := search.ExtractKeywords(scenario)
			useWhen.Index[hash] = ScenarioEntry{
				Scenario:        scenario,
				Keywords:        keywords,
				URI:             uri,
				Category:        frag.Category,
				EstimatedTokens: frag.EstimatedTokens,
				Relevance:       search.ScoreFragment(keywords, scenario, frag, nil),
			}
			for _, kw := range keywords {
				keyword.Keywords[kw] = append(keyword.Keywords[kw], hash)
			}
		}
	}
	for kw := range keyword.Keywords {
		sort.Strings(keyword.Keywords[kw])
	}

	useWhen.Stats = FileStats{Scenarios: len(useWhen.Index), Fragments: len(fragments)}
	keyword.Stats = FileStats{Scenarios: len(useWhen.Index), Keywords: len(keyword.Keywords)}

	arts := &Artifacts{
		UseWhen: useWhen,
		Keyword: keyword,
		Quick:   &QuickLookup{Version: Version, CommonQueries: make(map[string]QuickEntry)},
	}

	for _, query := range b.commonQueries {
		entries := keywordSearch(arts, search.ExtractKeywords(query), nil)
		if len(entries) == 0 {
			continue
		}
		quick := QuickEntry{}
		for _, e := range entries {
			quick.URIs = append(quick.URIs, e.URI)
			quick.Tokens += e.EstimatedTokens
		}
		arts.Quick.CommonQueries[NormalizeQuery(query)] = quick
	}

	slog.Info("index built",
		"fragments", len(fragments),
		"scenarios", len(useWhen.Index),
		"keywords", len(keyword.Keywords),
		"common_queries", len(arts.Quick.CommonQueries),
	)
	return arts, nil
}

// BuildAndWrite builds the artifacts and serializes them under the root.
func (b *Builder) BuildAndWrite(ctx context.Context) (*Artifacts, error) {
	arts, err := b.Build(ctx)
	if err != nil {
		return nil, err
	}
	if err := arts.Write(b.root); err != nil {
		return nil, err
	}
	return arts, nil
}

// scanFragments walks the category directories serially; the builder is an
// offline pass and does not compete with the query path.
func (b *Builder) scanFragments(ctx context.Context) ([]resource.Fragment, error) {
	if _, err := os.Stat(b.root); err != nil {
		return nil, fmt.Errorf("resource root: %w", err)
	}

	var fragments []resource.Fragment
	for _, dir := range categoryDirs {
		category, _ := resource.CategoryFromDir(dir)
		base := filepath.Join(b.root, dir)
		if _, err := os.Stat(base); os.IsNotExist(err) {
			continue
		}

		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
				return nil
			}
			content, err := os.ReadFile(path) //nolint:gosec // G304: inside configured root
			if err != nil {
				return err
			}
			doc, err := frontmatter.Parse(content)
			if err != nil {
				slog.Warn("skipping unparseable resource", "path", path, "error", err)
				return nil
			}
			stem := strings.TrimSuffix(d.Name(), ".md")
			fragments = append(fragments, frontmatter.Fragment(doc, stem, category))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}
	}
	return fragments, nil
}
