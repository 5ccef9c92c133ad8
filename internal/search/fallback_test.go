package search

import (
	"encoding/json"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbhistory/internal/versioning"
)

type fakeSource struct {
	items map[string][]versioning.Version
}

func (f fakeSource) Items() []string {
	ids := make([]string, 0, len(f.items))
	for id := range f.items {
		ids = append(ids, id)
	}
	return ids
}

func (f fakeSource) GetVersions(itemID string) []versioning.Version {
	return f.items[itemID]
}

func testSource() fakeSource {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return fakeSource{items: map[string][]versioning.Version{
		"fact-1": {
			{ID: "v_3_aaa", ItemID: "fact-1", ItemType: "fact", CreatedBy: "alice", Message: "Fix typo in unit", CreatedAt: base.Add(3 * time.Minute)},
			{ID: "v_1_bbb", ItemID: "fact-1", ItemType: "fact", CreatedBy: "system", Message: "Auto-saved version", CreatedAt: base.Add(time.Minute)},
		},
		"decision-9": {
			{ID: "v_2_ccc", ItemID: "decision-9", ItemType: "decision", CreatedBy: "bob", Message: "Record outcome", CreatedAt: base.Add(2 * time.Minute)},
		},
	}}
}

func TestFallbackMatchesMessageAuthorAndItem(t *testing.T) {
	fb := NewFallback(testSource())

	results, total, err := fb.Search(Query{Text: "TYPO"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "v_3_aaa", results[0].ID)

	results, _, err = fb.Search(Query{Text: "bob"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "decision-9", results[0].ItemID)

	results, _, err = fb.Search(Query{Text: "fact-1"})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestFallbackEmptyQueryListsNewestFirst(t *testing.T) {
	fb := NewFallback(testSource())

	results, total, err := fb.Search(Query{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	ids := []string{results[0].ID, results[1].ID, results[2].ID}
	assert.Equal(t, []string{"v_3_aaa", "v_2_ccc", "v_1_bbb"}, ids)
}

func TestFallbackFiltersAndPages(t *testing.T) {
	fb := NewFallback(testSource())

	results, total, err := fb.Search(Query{ItemType: "decision"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "v_2_ccc", results[0].ID)

	results, total, err = fb.Search(Query{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, results, 1)
	assert.Equal(t, "v_2_ccc", results[0].ID)

	results, _, err = fb.Search(Query{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestServiceWithoutMeiliUsesFallback(t *testing.T) {
	svc := NewService(nil, NewFallback(testSource()))

	resp := svc.Search(Query{Text: "outcome"})
	assert.Equal(t, "index", resp.Backend)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "outcome", resp.Query)

	// indexing without meilisearch is a no-op
	svc.IndexVersion(versioning.Version{ID: "v_9_ddd"})
	svc.Forget([]string{"v_9_ddd"})
}

func TestServiceWithoutBackendsReturnsEmpty(t *testing.T) {
	resp := NewService(nil, nil).Search(Query{Text: "x"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.Equal(t, "none", resp.Backend)

	resp = NewService(nil, NewFallback(nil)).Search(Query{Text: "x"})
	assert.Equal(t, "none", resp.Backend)
}

func TestFallbackSearchesRealStore(t *testing.T) {
	store, err := versioning.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.CreateVersion("doc-1", "document", map[string]any{"title": "a"}, versioning.CreateOptions{CreatedBy: "carol", Message: "First draft"})
	require.NoError(t, err)

	results, total, err := NewFallback(store).Search(Query{Text: "draft"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "carol", results[0].CreatedBy)
}

func TestHitToResultPrefersFormattedMessage(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return b
	}
	hit := meili.Hit{
		"id":         raw("v_5_eee"),
		"itemId":     raw("fact-2"),
		"itemType":   raw("fact"),
		"createdBy":  raw("dana"),
		"message":    raw("Update source"),
		"createdAt":  raw(int64(1767268800000)),
		"_formatted": raw(map[string]any{"message": "Update <mark>source</mark>"}),
	}

	r := hitToResult(hit)
	assert.Equal(t, "v_5_eee", r.ID)
	assert.Equal(t, "fact-2", r.ItemID)
	assert.Equal(t, "Update <mark>source</mark>", r.Snippet)
	assert.Equal(t, int64(1767268800000), r.CreatedAt.UnixMilli())
}

func TestBuildFilters(t *testing.T) {
	assert.Empty(t, buildFilters(Query{}))
	assert.Equal(t, []string{`itemType = "fact"`, `itemId = "fact-1"`}, buildFilters(Query{ItemType: "fact", ItemID: "fact-1"}))
}
