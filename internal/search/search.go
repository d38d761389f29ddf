package search

// Result is a single space hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
	Owner   string `json:"owner"`
}

// Query describes a keyword search over public spaces.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// SpaceRecord is the data we index for a public space.
type SpaceRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Owner       string `json:"owner"`
}
