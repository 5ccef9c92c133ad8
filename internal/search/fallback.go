package search

import (
	"sort"
	"strings"
)

// Fallback scans the version index held by the store.
type Fallback struct {
	source VersionSource
}

func NewFallback(source VersionSource) *Fallback {
	return &Fallback{source: source}
}

// Healthy reports whether the fallback has a store to scan.
func (f *Fallback) Healthy() bool {
	return f != nil && f.source != nil
}

// Search matches q.Text case-insensitively against message, author and item
// id. Results are newest first.
func (f *Fallback) Search(q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	var matches []Result
	for _, itemID := range f.source.Items() {
		if q.ItemID != "" && itemID != q.ItemID {
			continue
		}
		for _, v := range f.source.GetVersions(itemID) {
			if q.ItemType != "" && v.ItemType != q.ItemType {
				continue
			}
			if needle != "" &&
				!strings.Contains(strings.ToLower(v.Message), needle) &&
				!strings.Contains(strings.ToLower(v.CreatedBy), needle) &&
				!strings.Contains(strings.ToLower(v.ItemID), needle) {
				continue
			}
			matches = append(matches, Result{
				ID:        v.ID,
				ItemID:    v.ItemID,
				ItemType:  v.ItemType,
				CreatedBy: v.CreatedBy,
				Message:   v.Message,
				CreatedAt: v.CreatedAt,
				Snippet:   v.Message,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID > matches[j].ID
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	total := len(matches)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []Result{}, total, nil
	}
	end := offset + normalizeLimit(q.Limit)
	if end > total {
		end = total
	}
	return matches[offset:end], total, nil
}
