// Package index implements the precomputed inverted index over use-when
// scenarios and the three-tier lookup engine that answers "what should I
// load for this task" with a compact pointer list instead of full content.
package index

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"github.com/orchestr8/resourcehub/internal/domain/resource"
)

// Artifact file layout under the resource root.
const (
	DirName     = ".index"
	useWhenFile = "usewhen-index.json"
	keywordFile = "keyword-index.json"
	quickFile   = "quick-lookup.json"

	// Version tags the artifact format.
	Version = "1"
)

// ScenarioEntry is one indexed use-when scenario.
type ScenarioEntry struct {
	Scenario        string            `json:"scenario"`
	Keywords        []string          `json:"keywords"`
	URI             string            `json:"uri"`
	Category        resource.Category `json:"category"`
	EstimatedTokens int               `json:"estimatedTokens"`
	Relevance       int               `json:"relevance"`
}

// FileStats summarizes an artifact for observability.
type FileStats struct {
	Scenarios int `json:"scenarios"`
	Keywords  int `json:"keywords,omitempty"`
	Fragments int `json:"fragments,omitempty"`
}

// UseWhenIndex is the scenario map artifact: hash -> scenario entry.
type UseWhenIndex struct {
	Version        string                   `json:"version"`
	Generated      time.Time                `json:"generated"`
	TotalFragments int                      `json:"totalFragments"`
	Index          map[string]ScenarioEntry `json:"index"`
	Stats          FileStats                `json:"stats"`
}

// KeywordIndex is the keyword map artifact: keyword -> scenario hashes.
type KeywordIndex struct {
	Version  string              `json:"version"`
	Keywords map[string][]string `json:"keywords"`
	Stats    FileStats           `json:"stats"`
}

// QuickEntry is a precomputed answer for a common query.
type QuickEntry struct {
	URIs   []string `json:"uris"`
	Tokens int      `json:"tokens"`
}

// QuickLookup is the common-query artifact: normalized query -> entry.
type QuickLookup struct {
	Version       string                `json:"version"`
	CommonQueries map[string]QuickEntry `json:"commonQueries"`
}

// Artifacts bundles the three serialized index files.
type Artifacts struct {
	UseWhen *UseWhenIndex
	Keyword *KeywordIndex
	Quick   *QuickLookup
}

// ScenarioHash computes the stable 64-bit hash identifying a scenario:
// FNV-1a over the scenario text concatenated with the fragment ID,
// hex-encoded.
func ScenarioHash(scenario, fragmentID string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(scenario))
	_, _ = h.Write([]byte(fragmentID))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Write serializes the three artifacts as JSON under <root>/.index/.
func (a *Artifacts) Write(root string) error {
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, useWhenFile), a.UseWhen); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, keywordFile), a.Keyword); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, quickFile), a.Quick)
}

// Load reads the three artifacts from <root>/.index/.
func Load(root string) (*Artifacts, error) {
	dir := filepath.Join(root, DirName)
	a := &Artifacts{}
	if err := readJSON(filepath.Join(dir, useWhenFile), &a.UseWhen); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, keywordFile), &a.Keyword); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, quickFile), &a.Quick); err != nil {
		return nil, err
	}
	return a, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path derives from configured root
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
