package audit

import "encoding/json"

// SearchResponse is a decoded search reply. Raw keeps the reply as received.
type SearchResponse struct {
	Took     int          `json:"took"`
	TimedOut bool         `json:"timed_out"`
	Hits     HitsMetadata `json:"hits"`

	Raw json.RawMessage `json:"-"`
}

type HitsMetadata struct {
	Total    Total    `json:"total"`
	MaxScore *float64 `json:"max_score"`
	Hits     []Hit    `json:"hits"`
}

type Total struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation"`
}

// Hit is one audit entry as stored in the index.
type Hit struct {
	Index  string         `json:"_index"`
	ID     string         `json:"_id"`
	Score  *float64       `json:"_score"`
	Source map[string]any `json:"_source"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string          `json:"_id"`
		Status int             `json:"status"`
		Error  json.RawMessage `json:"error"`
	} `json:"items"`
}

// IndexResult is the outcome of IndexDocument. When Queued is true the
// document was handed to a worker and Acknowledged carries no information.
type IndexResult struct {
	ID           string `json:"id"`
	Queued       bool   `json:"queued"`
	Acknowledged bool   `json:"acknowledged"`
}
