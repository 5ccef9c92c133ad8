package versioning

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

const (
	BadgerDirName   = "index.badger"
	badgerKeyPrefix = "item:"
)

// BadgerManifest keeps the index in an embedded badger database, one key per
// item. Save still receives the full image and makes the stored keys match it.
func BadgerManifest(dir string) (Manifest, error) {
	opts := badger.DefaultOptions(filepath.Join(dir, BadgerDirName)).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	return &badgerManifest{db: db}, nil
}

type badgerManifest struct {
	db *badger.DB
}

func (m *badgerManifest) Load() (map[string][]Version, error) {
	items := map[string][]Version{}
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			itemID := string(item.Key()[len(badgerKeyPrefix):])
			var versions []Version
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &versions)
			}); err != nil {
				return fmt.Errorf("decode versions for %q: %w", itemID, err)
			}
			items[itemID] = versions
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (m *badgerManifest) Save(items map[string][]Version) error {
	var stale [][]byte
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if _, ok := items[string(key[len(badgerKeyPrefix):])]; !ok {
				stale = append(stale, key)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan index keys: %w", err)
	}

	batch := m.db.NewWriteBatch()
	defer batch.Cancel()
	for _, key := range stale {
		if err := batch.Delete(key); err != nil {
			return fmt.Errorf("delete index key %q: %w", key, err)
		}
	}
	for itemID, versions := range items {
		data, err := json.Marshal(versions)
		if err != nil {
			return fmt.Errorf("marshal versions for %q: %w", itemID, err)
		}
		if err := batch.Set([]byte(badgerKeyPrefix+itemID), data); err != nil {
			return fmt.Errorf("store versions for %q: %w", itemID, err)
		}
	}
	if err := batch.Flush(); err != nil {
		return fmt.Errorf("flush index: %w", err)
	}
	return nil
}

func (m *badgerManifest) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
