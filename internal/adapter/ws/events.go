package ws

// Event types for search and resolution activity. Provider lifecycle
// events are published by the registry under its own type names.
const (
	EventSearchPerformed = "search.performed"
	EventResourceFetched = "resource.fetched"
	EventIndexBuilt      = "index.built"
)

// SearchEvent is broadcast after a federated search completes.
type SearchEvent struct {
	Query     string `json:"query"`
	Providers int    `json:"providers"`
	Results   int    `json:"results"`
	TookMS    int64  `json:"tookMs"`
}

// FetchEvent is broadcast after a URI resolves to content.
type FetchEvent struct {
	URI      string `json:"uri"`
	Provider string `json:"provider,omitempty"`
	Tokens   int    `json:"tokens"`
}

// IndexBuiltEvent is broadcast when the lookup index is rebuilt.
type IndexBuiltEvent struct {
	Fragments int   `json:"fragments"`
	Scenarios int   `json:"scenarios"`
	TookMS    int64 `json:"tookMs"`
}
