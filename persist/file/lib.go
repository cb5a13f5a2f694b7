package file

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// Persist implements the aetree.Persist interface for storing and loading
// rows as files, one file per row.
type Persist struct {
	basepath string
}

// Load loads the bytes persisted in the named file.
func (p Persist) Load(ctx context.Context, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(p.basepath, name))
}

// Store replaces the named file with the given bytes. Readers see either
// the old or the new contents, never a partial write.
func (p Persist) Store(ctx context.Context, name string, b []byte) error {
	return atomic.WriteFile(filepath.Join(p.basepath, name), bytes.NewReader(b))
}

// Delete removes the named file, if it exists.
func (p Persist) Delete(ctx context.Context, name string) error {
	err := os.Remove(filepath.Join(p.basepath, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// List yields the names of the regular files in the directory, skipping
// hidden ones.
func (p Persist) List(ctx context.Context, f func(string) error) error {
	entries, err := os.ReadDir(p.basepath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := f(e.Name()); err != nil {
			return err
		}
	}
	return nil
}

// NewPersistForPath returns a Persist that loads and stores rows as
// files in the directory at the given path.
//
//	p := NewPersistForPath("/var/db/users")
//	blob, err := p.Load(ctx, "1042")
func NewPersistForPath(path string) Persist {
	return Persist{path}
}
