package versioning

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareVersionsSameVersionHasNoChanges(t *testing.T) {
	store, _ := newTestStore(t)
	result, err := store.CreateVersion("fact-1", "fact", map[string]any{"x": 1, "nested": map[string]any{"a": []any{1, 2}}}, CreateOptions{})
	require.NoError(t, err)

	comparison, err := store.CompareVersions(result.Version.ID, result.Version.ID)
	require.NoError(t, err)
	assert.NotNil(t, comparison.Changes)
	assert.Empty(t, comparison.Changes)
	assert.Equal(t, result.Version.ID, comparison.From.ID)
	assert.Equal(t, result.Version.ID, comparison.To.ID)
}

func TestCompareVersionsReportsChangedField(t *testing.T) {
	store, _ := newTestStore(t)
	before, err := store.CreateVersion("fact-1", "fact", map[string]any{"x": 1, "y": 2}, CreateOptions{})
	require.NoError(t, err)
	after, err := store.CreateVersion("fact-1", "fact", map[string]any{"x": 1, "y": 3}, CreateOptions{})
	require.NoError(t, err)

	comparison, err := store.CompareVersions(before.Version.ID, after.Version.ID)
	require.NoError(t, err)
	assert.Equal(t, []FieldChange{{Field: "y", Before: json.Number("2"), After: json.Number("3")}}, comparison.Changes)
	assert.True(t, before.Version.CreatedAt.Equal(comparison.From.CreatedAt))
	assert.True(t, after.Version.CreatedAt.Equal(comparison.To.CreatedAt))
}

func TestCompareVersionsMissingVersion(t *testing.T) {
	store, _ := newTestStore(t)
	result, err := store.CreateVersion("fact-1", "fact", "text", CreateOptions{})
	require.NoError(t, err)

	_, err = store.CompareVersions(result.Version.ID, "v_1_000000000000")
	assert.ErrorIs(t, err, ErrVersionNotFound)
	_, err = store.CompareVersions("v_1_000000000000", result.Version.ID)
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestDiffContent(t *testing.T) {
	cases := []struct {
		name   string
		before any
		after  any
		want   []FieldChange
	}{
		{
			name:   "added and removed fields",
			before: map[string]any{"title": "A", "draft": true},
			after:  map[string]any{"title": "A", "owner": "Avery"},
			want: []FieldChange{
				{Field: "draft", Before: true, After: nil},
				{Field: "owner", Before: nil, After: "Avery"},
			},
		},
		{
			name:   "explicit null differs from absent",
			before: map[string]any{"note": nil},
			after:  map[string]any{},
			want:   []FieldChange{{Field: "note", Before: nil, After: nil}},
		},
		{
			name:   "nested values compared as whole blobs",
			before: map[string]any{"meta": map[string]any{"a": 1.0, "b": 2.0}},
			after:  map[string]any{"meta": map[string]any{"b": 2.0, "a": 1.0}},
			want:   []FieldChange{},
		},
		{
			name:   "nested change reported at top level",
			before: map[string]any{"meta": map[string]any{"a": 1.0}},
			after:  map[string]any{"meta": map[string]any{"a": 2.0}},
			want: []FieldChange{{
				Field:  "meta",
				Before: map[string]any{"a": 1.0},
				After:  map[string]any{"a": 2.0},
			}},
		},
		{
			name:   "string content is not diffed",
			before: "first",
			after:  "second",
			want:   []FieldChange{},
		},
		{
			name:   "object against array",
			before: map[string]any{"a": 1.0},
			after:  []any{1.0},
			want:   []FieldChange{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, diffContent(tc.before, tc.after))
		})
	}
}
