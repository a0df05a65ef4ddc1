package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ArtifactStore keeps job artifacts under a single root directory. Locations
// handed out are root-relative and slash-separated.
type ArtifactStore struct {
	validator *PathValidator
}

func NewArtifactStore(root string) (*ArtifactStore, error) {
	validator, err := NewPathValidator(root)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(validator.RootAbs(), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}

	return &ArtifactStore{validator: validator}, nil
}

func (s *ArtifactStore) RootAbs() string {
	return s.validator.RootAbs()
}

// Write stores data at location, replacing any previous artifact atomically.
func (s *ArtifactStore) Write(location string, data []byte) error {
	resolved, err := s.validator.ResolvePath(location)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(resolved), ".artifact-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact %q: %w", location, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact %q: %w", location, err)
	}

	if err := os.Rename(tmp.Name(), resolved); err != nil {
		return fmt.Errorf("publish artifact %q: %w", location, err)
	}
	return nil
}

func (s *ArtifactStore) Read(location string) ([]byte, error) {
	resolved, err := s.validator.ResolvePath(location)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(resolved)
}

// Remove deletes the artifact at location. A missing artifact is not an error.
func (s *ArtifactStore) Remove(location string) error {
	resolved, err := s.validator.ResolvePath(location)
	if err != nil {
		return err
	}

	if resolved == s.validator.RootAbs() {
		return fmt.Errorf("refusing to remove artifact root")
	}

	if err := os.Remove(resolved); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove artifact %q: %w", location, err)
	}
	return nil
}
