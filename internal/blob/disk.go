// internal/blob/disk.go
package blob

import (
	"context"
	"os"
	"path/filepath"
)

// Disk implements Store on the local filesystem. Each key becomes one
// JSON file under the cache directory.
type Disk struct {
	dir string
}

// NewDisk creates a disk-backed blob store rooted at dir. The directory
// is created on first write, not here, so construction never fails.
func NewDisk(dir string) *Disk {
	return &Disk{dir: dir}
}

func (d *Disk) path(key string) string {
	return filepath.Join(d.dir, key+".json")
}

func (d *Disk) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(d.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (d *Disk) Put(ctx context.Context, key string, data []byte) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(d.path(key), data, 0o644)
}

func (d *Disk) Purge(ctx context.Context) error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
