package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hupe1980/evalmesh/core"
)

var _ core.ArtifactStore = (*FileStore)(nil)

// FileStore persists artifacts below a root directory, one sub-directory per
// namespace. Writes go through a temp file and rename so readers never see a
// partial artifact.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed and returns a store on it.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the root directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) path(namespace, artifactID string) (string, error) {
	for _, part := range []string{namespace, artifactID} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("%w: %q", ErrInvalidID, part)
		}
	}
	return filepath.Join(s.root, namespace, artifactID), nil
}

// Save implements core.ArtifactStore.
func (s *FileStore) Save(namespace, artifactID string, data []byte) error {
	p, err := s.path(namespace, artifactID)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+artifactID+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Get implements core.ArtifactStore.
func (s *FileStore) Get(namespace, artifactID string) ([]byte, error) {
	p, err := s.path(namespace, artifactID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// List implements core.ArtifactStore. Hidden temp files are skipped.
func (s *FileStore) List(namespace string) ([]string, error) {
	if _, err := s.path(namespace, "x"); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, namespace))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete implements core.ArtifactStore.
func (s *FileStore) Delete(namespace, artifactID string) error {
	p, err := s.path(namespace, artifactID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return nil
}
