package versioning

import (
	"encoding/json"
	"sort"
)

// CompareVersions diffs the top-level fields of two snapshots, treating from
// as before and to as after. Only object contents produce changes; anything
// else compares as an empty change list.
func (s *Store) CompareVersions(fromID, toID string) (Comparison, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, err := s.files.read(fromID)
	if err != nil {
		return Comparison{}, err
	}
	to, err := s.files.read(toID)
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{
		From:    VersionRef{ID: from.ID, CreatedAt: from.CreatedAt},
		To:      VersionRef{ID: to.ID, CreatedAt: to.CreatedAt},
		Changes: diffContent(from.Content, to.Content),
	}, nil
}

func diffContent(before, after any) []FieldChange {
	changes := make([]FieldChange, 0)
	beforeFields, ok := before.(map[string]any)
	if !ok {
		return changes
	}
	afterFields, ok := after.(map[string]any)
	if !ok {
		return changes
	}

	fields := make([]string, 0, len(beforeFields)+len(afterFields))
	for field := range beforeFields {
		fields = append(fields, field)
	}
	for field := range afterFields {
		if _, seen := beforeFields[field]; !seen {
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)

	for _, field := range fields {
		beforeValue, inBefore := beforeFields[field]
		afterValue, inAfter := afterFields[field]
		if encodeField(beforeValue, inBefore) == encodeField(afterValue, inAfter) {
			continue
		}
		changes = append(changes, FieldChange{Field: field, Before: beforeValue, After: afterValue})
	}
	return changes
}

// encodeField serializes a single value; an absent field encodes differently
// from an explicit null.
func encodeField(value any, present bool) string {
	if !present {
		return ""
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(encoded)
}
