// Package versioning keeps immutable, content-addressed snapshots of knowledge-base
// items (facts, decisions, documents) on the local filesystem.
//
// Each version is a full copy of the item's content written to its own JSON file.
// Version metadata lives in an index mirrored to a manifest that is rewritten after
// every mutation. Consecutive identical contents of the same item are deduplicated
// by a truncated SHA-256 fingerprint, and the number of versions kept per item is
// bounded.
package versioning

import (
	"errors"
	"time"
)

const (
	DefaultMaxVersions = 50
	DefaultKeepLast    = 10
	DefaultCreatedBy   = "system"
	DefaultMessage     = "Auto-saved version"
)

var (
	ErrVersionNotFound = errors.New("version not found")
	ErrInvalidItemID   = errors.New("item id is required")
	ErrClosed          = errors.New("version store is closed")
)

// Version is the metadata kept in the index for one snapshot.
type Version struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"itemId"`
	ItemType  string    `json:"itemType"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy"`
	Message   string    `json:"message"`
	Size      int       `json:"size"`
	Parent    *string   `json:"parent"`
}

// Snapshot is a version together with the full content it captured.
type Snapshot struct {
	Version
	Content any `json:"content"`
}

type CreateOptions struct {
	CreatedBy string
	Message   string
}

// CreateResult reports the outcome of CreateVersion. When Skipped is true the
// content matched the newest version and Version holds that existing version.
// Trimmed lists the ids retention dropped to make room for the new version.
type CreateResult struct {
	Version Version  `json:"version"`
	Skipped bool     `json:"skipped"`
	Trimmed []string `json:"trimmed,omitempty"`
}

type VersionRef struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

type FieldChange struct {
	Field  string `json:"field"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

type Comparison struct {
	From    VersionRef    `json:"version1"`
	To      VersionRef    `json:"version2"`
	Changes []FieldChange `json:"changes"`
}

type Restored struct {
	ItemID       string `json:"itemId"`
	ItemType     string `json:"itemType"`
	Content      any    `json:"content"`
	RestoredFrom string `json:"restoredFrom"`
}

type Stats struct {
	TotalItems     int            `json:"totalItems"`
	TotalVersions  int            `json:"totalVersions"`
	TotalSizeMB    float64        `json:"totalSizeMB"`
	TotalSizeBytes int64          `json:"totalSizeBytes"`
	ByType         map[string]int `json:"byType"`
}
