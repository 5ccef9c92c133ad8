package versioning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// fileSystem is the subset of filesystem calls the store makes. Tests swap it
// to inject write and remove failures.
type fileSystem interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	Remove(name string) error
	Rename(oldPath, newPath string) error
	MkdirAll(path string, perm os.FileMode) error
}

type osFS struct{}

func (osFS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }
func (osFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}
func (osFS) Remove(name string) error                     { return os.Remove(name) }
func (osFS) Rename(oldPath, newPath string) error         { return os.Rename(oldPath, newPath) }
func (osFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

var versionIDPattern = regexp.MustCompile(`^v_[0-9]+_[0-9a-f]{12}$`)

// ValidVersionID reports whether id has the v_{unixMillis}_{hash} shape.
func ValidVersionID(id string) bool {
	return versionIDPattern.MatchString(id)
}

// snapshotRecord is the on-disk shape of a snapshot file.
type snapshotRecord struct {
	Version
	Content json.RawMessage `json:"content"`
}

// snapshotFiles stores one JSON file per version inside dir.
type snapshotFiles struct {
	fs  fileSystem
	dir string
}

func (f snapshotFiles) path(versionID string) string {
	return filepath.Join(f.dir, versionID+".json")
}

func (f snapshotFiles) write(version Version, content []byte) error {
	payload, err := json.MarshalIndent(snapshotRecord{Version: version, Content: content}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := f.fs.WriteFile(f.path(version.ID), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write snapshot file: %w", err)
	}
	return nil
}

func (f snapshotFiles) read(versionID string) (Snapshot, error) {
	if !ValidVersionID(versionID) {
		return Snapshot{}, ErrVersionNotFound
	}
	data, err := f.fs.ReadFile(f.path(versionID))
	if err != nil {
		return Snapshot{}, ErrVersionNotFound
	}
	// Numbers keep the literal they were saved with so content read back
	// hashes the same as the content that was stored.
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var snapshot Snapshot
	if err := decoder.Decode(&snapshot); err != nil {
		return Snapshot{}, ErrVersionNotFound
	}
	return snapshot, nil
}

func (f snapshotFiles) remove(versionID string) error {
	return f.fs.Remove(f.path(versionID))
}
