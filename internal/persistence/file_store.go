package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/example/ride-sharing/internal/marketplace"
)

// FileStore keeps one indented JSON file per document under Dir.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (f *FileStore) path(doc string) string {
	return filepath.Join(f.Dir, doc+".json")
}

// Save replaces each document via a temp file and rename.
func (f *FileStore) Save(ctx context.Context, snap marketplace.Snapshot) error {
	docs, err := encode(snap)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	for _, name := range documents {
		if err := ctx.Err(); err != nil {
			return err
		}
		tmp := f.path(name) + ".tmp"
		if err := os.WriteFile(tmp, docs[name], 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		if err := os.Rename(tmp, f.path(name)); err != nil {
			return fmt.Errorf("replace %s: %w", name, err)
		}
	}
	return nil
}

func (f *FileStore) Load(ctx context.Context) (marketplace.Snapshot, error) {
	docs := make(map[string][]byte, len(documents))
	for _, name := range documents {
		if err := ctx.Err(); err != nil {
			return marketplace.Snapshot{}, err
		}
		b, err := os.ReadFile(f.path(name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return marketplace.Snapshot{}, fmt.Errorf("read %s: %w", name, err)
		}
		docs[name] = b
	}
	return decode(docs)
}

// Clear removes all four documents. Missing files are not an error.
func (f *FileStore) Clear() error {
	var errs []error
	for _, name := range documents {
		if err := os.Remove(f.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
