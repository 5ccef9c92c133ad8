package versioning

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const IndexFileName = "version-index.json"

// Manifest persists the whole version index. Save always receives the complete
// index image; implementations must make Load return exactly what was last saved.
type Manifest interface {
	Load() (map[string][]Version, error)
	Save(map[string][]Version) error
	Close() error
}

// ManifestFactory opens a manifest rooted in the versions directory.
type ManifestFactory func(dir string) (Manifest, error)

type jsonManifest struct {
	fs   fileSystem
	path string
}

func newJSONManifest(fsys fileSystem, dir string) *jsonManifest {
	return &jsonManifest{fs: fsys, path: filepath.Join(dir, IndexFileName)}
}

func (m *jsonManifest) Load() (map[string][]Version, error) {
	data, err := m.fs.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string][]Version{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	items := map[string][]Version{}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if items == nil {
		items = map[string][]Version{}
	}
	return items, nil
}

func (m *jsonManifest) Save(items map[string][]Version) error {
	payload, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmpPath := m.path + ".tmp"
	if err := m.fs.WriteFile(tmpPath, append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := m.fs.Rename(tmpPath, m.path); err != nil {
		_ = m.fs.Remove(tmpPath)
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

func (m *jsonManifest) Close() error { return nil }
