package archive

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbhistory/internal/versioning"
)

type memoryBucket struct {
	mu       sync.Mutex
	objects  map[string][]byte
	inFlight int
	maxSeen  int
	failKey  string
	delay    time.Duration
}

func newMemoryBucket() *memoryBucket {
	return &memoryBucket{objects: make(map[string][]byte)}
}

func (b *memoryBucket) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	b.inFlight++
	if b.inFlight > b.maxSeen {
		b.maxSeen = b.inFlight
	}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()

	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.failKey != "" && strings.Contains(key, b.failKey) {
		return errors.New("bucket unavailable")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *memoryBucket) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return data, nil
}

func (b *memoryBucket) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for _, key := range b.keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (b *memoryBucket) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func fixedNow() time.Time {
	return time.Date(2026, 5, 4, 9, 30, 15, 0, time.UTC)
}

func seededStore(t *testing.T) *versioning.Store {
	t.Helper()
	store, err := versioning.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for i, content := range []map[string]any{{"v": 1}, {"v": 2}} {
		_, err := store.CreateVersion("fact-1", "fact", content, versioning.CreateOptions{Message: "edit"})
		require.NoError(t, err, "version %d", i)
	}
	_, err = store.CreateVersion("doc-1", "document", map[string]any{"title": "Plan"}, versioning.CreateOptions{})
	require.NoError(t, err)
	return store
}

func TestRunUploadsSnapshotsAndIndex(t *testing.T) {
	store := seededStore(t)
	bucket := newMemoryBucket()

	a, err := New(store, bucket, Options{Prefix: "backups", Now: fixedNow})
	require.NoError(t, err)

	result, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "backups/20260504T093015", result.Prefix)
	assert.Equal(t, 4, result.Objects)
	assert.Zero(t, result.Skipped)
	assert.Positive(t, result.Bytes)

	keys := bucket.keys()
	require.Len(t, keys, 4)
	assert.Contains(t, keys, "backups/20260504T093015/version-index.json.zst")

	for _, v := range store.GetVersions("fact-1") {
		key := "backups/20260504T093015/versions/" + v.ID + ".json.zst"
		require.Contains(t, keys, key)

		raw, err := a.decoder.DecodeAll(bucket.objects[key], nil)
		require.NoError(t, err)
		var snapshot versioning.Snapshot
		require.NoError(t, json.Unmarshal(raw, &snapshot))
		assert.Equal(t, v.ID, snapshot.ID)
		assert.Equal(t, "fact-1", snapshot.ItemID)
	}

	raw, err := a.decoder.DecodeAll(bucket.objects["backups/20260504T093015/version-index.json.zst"], nil)
	require.NoError(t, err)
	var image map[string][]versioning.Version
	require.NoError(t, json.Unmarshal(raw, &image))
	assert.Len(t, image["fact-1"], 2)
	assert.Len(t, image["doc-1"], 1)
}

func TestRunEmptyStoreWritesOnlyIndex(t *testing.T) {
	store, err := versioning.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bucket := newMemoryBucket()
	a, err := New(store, bucket, Options{Now: fixedNow})
	require.NoError(t, err)

	result, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Objects)
	assert.Equal(t, []string{"snapshots/20260504T093015/version-index.json.zst"}, bucket.keys())
}

type missingSource struct {
	*versioning.Store
	missing string
}

func (m missingSource) GetVersion(id string) (versioning.Snapshot, error) {
	if id == m.missing {
		return versioning.Snapshot{}, versioning.ErrVersionNotFound
	}
	return m.Store.GetVersion(id)
}

func TestRunsAndFetchReadArchiveBack(t *testing.T) {
	store := seededStore(t)
	bucket := newMemoryBucket()
	bucket.objects["snapshots/notes.txt"] = []byte("ignored")

	stamps := []time.Time{fixedNow(), fixedNow().Add(time.Hour)}
	for _, stamp := range stamps {
		a, err := New(store, bucket, Options{Now: func() time.Time { return stamp }})
		require.NoError(t, err)
		_, err = a.Run(context.Background())
		require.NoError(t, err)
	}

	a, err := New(store, bucket, Options{})
	require.NoError(t, err)
	runs, err := a.Runs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"20260504T103015", "20260504T093015"}, runs)

	want := store.GetVersions("fact-1")[0]
	snapshot, err := a.Fetch(context.Background(), runs[1], want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, snapshot.ID)
	assert.Equal(t, map[string]any{"v": json.Number("2")}, snapshot.Content)

	_, err = a.Fetch(context.Background(), runs[0], "v_1_aaaaaaaaaaaa")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	_, err = a.Fetch(context.Background(), "../other", want.ID)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestRunSkipsVanishedSnapshots(t *testing.T) {
	store := seededStore(t)
	gone := store.GetVersions("doc-1")[0].ID

	bucket := newMemoryBucket()
	a, err := New(missingSource{Store: store, missing: gone}, bucket, Options{Now: fixedNow})
	require.NoError(t, err)

	result, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 3, result.Objects)
	assert.NotContains(t, bucket.keys(), "snapshots/20260504T093015/versions/"+gone+".json.zst")
}

func TestRunReportsUploadFailure(t *testing.T) {
	store := seededStore(t)
	bucket := newMemoryBucket()
	bucket.failKey = "version-index"

	a, err := New(store, bucket, Options{Now: fixedNow})
	require.NoError(t, err)

	_, err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload")
}

func TestRunBoundsConcurrency(t *testing.T) {
	store, err := versioning.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	for i := 0; i < 12; i++ {
		_, err := store.CreateVersion("fact-1", "fact", map[string]any{"n": i}, versioning.CreateOptions{})
		require.NoError(t, err)
	}

	bucket := newMemoryBucket()
	bucket.delay = 5 * time.Millisecond
	a, err := New(store, bucket, Options{Concurrency: 2, Now: fixedNow})
	require.NoError(t, err)

	result, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 13, result.Objects)
	assert.LessOrEqual(t, bucket.maxSeen, 2)
}

func TestRunHonorsCancelledContext(t *testing.T) {
	store := seededStore(t)
	a, err := New(store, newMemoryBucket(), Options{Now: fixedNow})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWaitSplitsLargeWritesIntoBursts(t *testing.T) {
	store := seededStore(t)
	a, err := New(store, newMemoryBucket(), Options{BytesPerSec: 1 << 20})
	require.NoError(t, err)

	// larger than one burst, must not fail with "exceeds limiter's burst"
	require.NoError(t, a.wait(context.Background(), (1<<20)+10))
}

func TestNewRequiresEndpoints(t *testing.T) {
	_, err := New(nil, newMemoryBucket(), Options{})
	require.Error(t, err)
}
