// Package search finds versions by their metadata. Meilisearch serves queries
// when it is healthy; otherwise the in-memory version index is scanned.
package search

import (
	"time"

	"kbhistory/internal/versioning"
)

// Record is the version metadata pushed into the search index.
type Record struct {
	ID        string `json:"id"`
	ItemID    string `json:"itemId"`
	ItemType  string `json:"itemType"`
	CreatedBy string `json:"createdBy"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"createdAt"`
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"itemId"`
	ItemType  string    `json:"itemType"`
	CreatedBy string    `json:"createdBy"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	Snippet   string    `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text     string
	ItemType string // empty = all types
	ItemID   string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// VersionSource is the read side of the version store the fallback scans.
type VersionSource interface {
	Items() []string
	GetVersions(itemID string) []versioning.Version
}

func RecordFromVersion(v versioning.Version) Record {
	return Record{
		ID:        v.ID,
		ItemID:    v.ItemID,
		ItemType:  v.ItemType,
		CreatedBy: v.CreatedBy,
		Message:   v.Message,
		CreatedAt: v.CreatedAt.UnixMilli(),
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
