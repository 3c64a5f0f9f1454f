package accessory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store persists the paired identity.
type Store interface {
	// Load returns the stored identity, or false when nothing is stored.
	Load() (Identity, bool, error)
	Save(id Identity) error
	Clear() error
}

// storedAccessory is the on-disk layout of FileStore.
type storedAccessory struct {
	Accessory Identity `yaml:"accessory"`
}

// FileStore keeps the identity in a small YAML file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path. The file is created on the
// first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() (Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, fmt.Errorf("reading accessory file: %w", err)
	}

	var stored storedAccessory
	if err := yaml.Unmarshal(data, &stored); err != nil {
		return Identity{}, false, fmt.Errorf("parsing accessory file: %w", err)
	}
	if stored.Accessory.IsZero() {
		return Identity{}, false, nil
	}
	return stored.Accessory, true, nil
}

func (s *FileStore) Save(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(storedAccessory{Accessory: id})
	if err != nil {
		return fmt.Errorf("encoding accessory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating accessory directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing accessory file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing accessory file: %w", err)
	}
	return nil
}

// MemoryStore keeps the identity in memory only.
type MemoryStore struct {
	mu sync.Mutex
	id Identity
}

func (s *MemoryStore) Load() (Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, !s.id.IsZero(), nil
}

func (s *MemoryStore) Save(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = Identity{}
	return nil
}
