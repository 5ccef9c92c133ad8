package versioning

import (
	"fmt"
	"io"
	"log"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const versionsDirName = "versions"

type Option func(*Store)

// WithMaxVersions bounds the number of versions kept per item at write time.
func WithMaxVersions(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxVersions = n
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithManifest selects how the index is persisted. The default is a JSON file.
func WithManifest(factory ManifestFactory) Option {
	return func(s *Store) {
		s.newManifest = factory
	}
}

func withFileSystem(fsys fileSystem) Option {
	return func(s *Store) {
		s.fs = fsys
	}
}

func withClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is the version store. It owns the versions directory under its data
// directory for as long as it is open.
type Store struct {
	maxVersions int
	logger      *log.Logger
	newManifest ManifestFactory
	fs          fileSystem
	now         func() time.Time

	// mu guards the data directory binding; operations hold it shared.
	mu       sync.RWMutex
	dataDir  string
	files    snapshotFiles
	manifest Manifest

	indexMu sync.Mutex
	index   *index

	saveMu sync.Mutex

	clockMu    sync.Mutex
	lastMillis int64

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New opens a store rooted at dataDir, creating dataDir/versions if needed and
// loading the index.
func New(dataDir string, opts ...Option) (*Store, error) {
	s := &Store{
		maxVersions: DefaultMaxVersions,
		logger:      log.New(io.Discard, "", 0),
		fs:          osFS{},
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.open(dataDir); err != nil {
		return nil, err
	}
	return s, nil
}

// SetDataDir rebinds the store to another data directory and reloads the index.
func (s *Store) SetDataDir(dataDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.manifest
	// Manifests that lock their directory must be released before the same
	// directory is opened again.
	if previous != nil && filepath.Clean(dataDir) == filepath.Clean(s.dataDir) {
		s.manifest = nil
		if err := previous.Close(); err != nil {
			s.logger.Printf("versioning: close previous manifest: %v", err)
		}
		previous = nil
	}
	if err := s.openLocked(dataDir); err != nil {
		return err
	}
	if previous != nil {
		if err := previous.Close(); err != nil {
			s.logger.Printf("versioning: close previous manifest: %v", err)
		}
	}
	return nil
}

func (s *Store) DataDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataDir
}

// Close releases the manifest. Later writes fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manifest == nil {
		return nil
	}
	err := s.manifest.Close()
	s.manifest = nil
	return err
}

func (s *Store) open(dataDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(dataDir)
}

func (s *Store) openLocked(dataDir string) error {
	dir := filepath.Join(dataDir, versionsDirName)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create versions dir: %w", err)
	}

	var manifest Manifest
	if s.newManifest != nil {
		opened, err := s.newManifest(dir)
		if err != nil {
			return fmt.Errorf("open manifest: %w", err)
		}
		manifest = opened
	} else {
		manifest = newJSONManifest(s.fs, dir)
	}

	s.dataDir = dataDir
	s.files = snapshotFiles{fs: s.fs, dir: dir}
	s.manifest = manifest
	s.load()
	return nil
}

// load replaces the in-memory index with the manifest contents. A missing or
// unreadable manifest yields an empty index.
func (s *Store) load() {
	items, err := s.manifest.Load()
	if err != nil {
		s.logger.Printf("versioning: WARNING manifest in %s unreadable, starting with empty index: %v", s.dataDir, err)
		items = nil
	}

	s.indexMu.Lock()
	s.index = newIndex(items)
	latest := s.index.latestMillis()
	s.indexMu.Unlock()

	s.clockMu.Lock()
	if latest > s.lastMillis {
		s.lastMillis = latest
	}
	s.clockMu.Unlock()
}

// saveIndex writes the full index image. Failures are logged and otherwise
// ignored; memory stays ahead of disk until the next successful write.
func (s *Store) saveIndex() {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if s.manifest == nil {
		return
	}

	s.indexMu.Lock()
	image := s.index.image()
	s.indexMu.Unlock()

	if err := s.manifest.Save(image); err != nil {
		s.logger.Printf("versioning: WARNING persist index: %v", err)
	}
}

func (s *Store) itemLock(itemID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[itemID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[itemID] = lock
	return lock
}

// nextMillis returns the current Unix time in milliseconds, bumped past the
// last value handed out so version ids stay unique and ordered.
func (s *Store) nextMillis() int64 {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	ms := s.now().UnixMilli()
	if ms <= s.lastMillis {
		ms = s.lastMillis + 1
	}
	s.lastMillis = ms
	return ms
}

// CreateVersion snapshots content for an item. If the content hash equals the
// newest version's hash nothing is written and the result is Skipped.
func (s *Store) CreateVersion(itemID, itemType string, content any, opts CreateOptions) (CreateResult, error) {
	if strings.TrimSpace(itemID) == "" {
		return CreateResult{}, ErrInvalidItemID
	}
	encoded, size, hash, err := fingerprint(content)
	if err != nil {
		return CreateResult{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.manifest == nil {
		return CreateResult{}, ErrClosed
	}

	lock := s.itemLock(itemID)
	lock.Lock()
	defer lock.Unlock()

	s.indexMu.Lock()
	newest, exists := s.index.newest(itemID)
	s.indexMu.Unlock()

	if exists && newest.Hash == hash {
		return CreateResult{Version: newest, Skipped: true}, nil
	}

	createdBy := opts.CreatedBy
	if createdBy == "" {
		createdBy = DefaultCreatedBy
	}
	message := opts.Message
	if message == "" {
		message = DefaultMessage
	}

	millis := s.nextMillis()
	version := Version{
		ID:        fmt.Sprintf("v_%d_%s", millis, hash),
		ItemID:    itemID,
		ItemType:  itemType,
		Hash:      hash,
		CreatedAt: time.UnixMilli(millis).UTC(),
		CreatedBy: createdBy,
		Message:   message,
		Size:      size,
	}
	if exists {
		parent := newest.ID
		version.Parent = &parent
	}

	if err := s.files.write(version, encoded); err != nil {
		return CreateResult{}, fmt.Errorf("create version for %s: %w", itemID, err)
	}

	s.indexMu.Lock()
	s.index.prepend(version)
	dropped := s.index.trim(itemID, s.maxVersions)
	s.indexMu.Unlock()

	s.removeSnapshots(dropped)
	s.saveIndex()
	result := CreateResult{Version: version}
	for _, old := range dropped {
		result.Trimmed = append(result.Trimmed, old.ID)
	}
	return result, nil
}

// GetVersions returns the item's versions newest first; unknown items yield an
// empty slice.
func (s *Store) GetVersions(itemID string) []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	return s.index.versions(itemID)
}

// Items lists every item id that has at least one version, sorted.
func (s *Store) Items() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	return s.index.itemIDs()
}

// GetVersion reads a snapshot from disk. A missing or unparsable file is
// reported as ErrVersionNotFound.
func (s *Store) GetVersion(versionID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.files.read(versionID)
}

// RestoreVersion returns the content captured by a version. It never writes;
// putting the content back into the live item is up to the caller.
func (s *Store) RestoreVersion(versionID string) (Restored, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, err := s.files.read(versionID)
	if err != nil {
		return Restored{}, err
	}
	return Restored{
		ItemID:       snapshot.ItemID,
		ItemType:     snapshot.ItemType,
		Content:      snapshot.Content,
		RestoredFrom: snapshot.ID,
	}, nil
}

func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	stats := Stats{ByType: map[string]int{}}
	for _, seq := range s.index.items {
		if len(seq) == 0 {
			continue
		}
		stats.TotalItems++
		stats.TotalVersions += len(seq)
		for _, version := range seq {
			stats.TotalSizeBytes += int64(version.Size)
			stats.ByType[version.ItemType]++
		}
	}
	stats.TotalSizeMB = math.Round(float64(stats.TotalSizeBytes)/1024/1024*100) / 100
	return stats
}
