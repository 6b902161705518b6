package memory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileStore persists offloaded conversation content, one file per entry.
// Entries are addressed by id; callers embed the returned path in the
// message that replaces the spilled content.
type FileStore struct {
	dir string
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create offload dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the store's root directory.
func (f *FileStore) Dir() string { return f.dir }

// Save writes content under id and returns the payload path. An empty id
// gets a generated one.
func (f *FileStore) Save(id, content string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	path := f.path(id)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write offload entry %s: %w", id, err)
	}
	return path, nil
}

// Load returns the content stored under id.
func (f *FileStore) Load(id string) (string, error) {
	data, err := os.ReadFile(f.path(id))
	if err != nil {
		return "", fmt.Errorf("read offload entry %s: %w", id, err)
	}
	return string(data), nil
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+".txt")
}
