// Package items persists the live knowledge-base items whose history the
// version store tracks.
package items

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("item not found")

const (
	TypeFact     = "fact"
	TypeDecision = "decision"
	TypeDocument = "document"
)

type Item struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Content   json.RawMessage `json:"content"`
	UpdatedBy string          `json:"updatedBy"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func ValidType(itemType string) bool {
	switch itemType {
	case TypeFact, TypeDecision, TypeDocument:
		return true
	default:
		return false
	}
}
