package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sw33tLie/airscope/internal/utils"
	"github.com/sw33tLie/airscope/pkg/gate"
)

// FileStore keeps a single baseline in a JSON file, the format CI jobs
// commit next to their pipeline definition.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Save replaces the file with b. Writers are serialized with a lock file and
// the new content is renamed into place so readers never see half a file.
func (s *FileStore) Save(b gate.Baseline) error {
	data, err := b.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}

	lock, err := utils.NewFileLock(s.Path)
	if err != nil {
		return err
	}
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.Path), filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}

// Load reads the baseline. A missing file is ErrNotFound; a malformed one
// is gate.ErrConfiguration.
func (s *FileStore) Load() (*gate.Baseline, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.Path)
	}
	if err != nil {
		return nil, err
	}
	b, err := gate.ParseBaseline(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return b, nil
}
