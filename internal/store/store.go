// Package store implements the durable key/value backend behind the
// storage capability. Values are addressed by (extensionID, key) and
// survive reloads of the same extension; no cross-extension read or
// write path exists.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
)

// Store persists one JSON document per extension id under dir.
type Store struct {
	dir   string
	mu    sync.Mutex
	cache map[string]map[string]interface{}
}

// New creates the backing directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}
	return &Store{
		dir:   dir,
		cache: make(map[string]map[string]interface{}),
	}, nil
}

// Get returns the stored value for (extensionID, key).
func (s *Store) Get(extensionID, key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, err := s.load(extensionID)
	if err != nil {
		return nil, false
	}
	v, ok := bucket[key]
	return v, ok
}

// Set stores a value and persists the extension's bucket.
func (s *Store) Set(extensionID, key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, err := s.load(extensionID)
	if err != nil {
		return err
	}
	bucket[key] = value
	return s.flush(extensionID, bucket)
}

// Remove deletes a key. Returns false if it was absent.
func (s *Store) Remove(extensionID, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, err := s.load(extensionID)
	if err != nil {
		return false, err
	}
	if _, ok := bucket[key]; !ok {
		return false, nil
	}
	delete(bucket, key)
	return true, s.flush(extensionID, bucket)
}

// Keys lists all keys for an extension, sorted.
func (s *Store) Keys(extensionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, err := s.load(extensionID)
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(bucket))
	for k := range bucket {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear removes every value for an extension.
func (s *Store) Clear(extensionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, extensionID)
	err := os.Remove(s.path(extensionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}

func (s *Store) load(extensionID string) (map[string]interface{}, error) {
	if bucket, ok := s.cache[extensionID]; ok {
		return bucket, nil
	}
	bucket := make(map[string]interface{})
	data, err := os.ReadFile(s.path(extensionID))
	if err == nil {
		if err := sonic.Unmarshal(data, &bucket); err != nil {
			return nil, fmt.Errorf("store: corrupt bucket for %s: %w", extensionID, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("store: read bucket: %w", err)
	}
	s.cache[extensionID] = bucket
	return bucket, nil
}

func (s *Store) flush(extensionID string, bucket map[string]interface{}) error {
	data, err := sonic.Marshal(bucket)
	if err != nil {
		return fmt.Errorf("store: serialize bucket: %w", err)
	}
	if err := os.WriteFile(s.path(extensionID), data, 0o644); err != nil {
		return fmt.Errorf("store: write bucket: %w", err)
	}
	return nil
}

func (s *Store) path(extensionID string) string {
	// Extension ids are validated upstream, but never trust them as paths.
	safe := strings.ReplaceAll(extensionID, string(os.PathSeparator), "_")
	return filepath.Join(s.dir, safe+".json")
}
