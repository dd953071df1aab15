// Package search finds tasks within a project. Meilisearch serves queries
// while it is healthy; Postgres full-text search covers the rest.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	TaskID    string  `json:"taskId"`
	ListID    string  `json:"listId"`
	ProjectID string  `json:"projectId"`
	Name      string  `json:"name"`
	Snippet   string  `json:"snippet"`
	Position  float64 `json:"position"`
}

// Query describes a search request. ProjectID is required.
type Query struct {
	Text      string
	ProjectID string
	ListID    string
	Limit     int
	Offset    int
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

// Backend is a searcher that also keeps its own index.
type Backend interface {
	Searcher
	IndexTasks(tasks []TaskRecord) error
	DeleteTask(id string) error
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"projectId"`
	ListID      string  `json:"listId"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Position    float64 `json:"position"`
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}
