// Package vfs holds the host's in-memory virtual file tree. The browser
// editor owns the authoritative workspace; this mirror is what the
// files capability operates against.
package vfs

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Tree is a thread-safe path -> content map with glob listing.
type Tree struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// New creates an empty tree.
func New() *Tree {
	return &Tree{files: make(map[string][]byte)}
}

// Normalize cleans a workspace path and forces a leading slash.
func Normalize(p string) string {
	p = path.Clean("/" + strings.TrimSpace(p))
	return p
}

// Read returns the content of a file, or ok=false if it does not exist.
func (t *Tree) Read(p string) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	data, ok := t.files[Normalize(p)]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// Write creates or replaces a file.
func (t *Tree) Write(p string, data []byte) {
	content := make([]byte, len(data))
	copy(content, data)
	t.mu.Lock()
	t.files[Normalize(p)] = content
	t.mu.Unlock()
}

// Delete removes a file. Returns false if it did not exist.
func (t *Tree) Delete(p string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := Normalize(p)
	if _, ok := t.files[key]; !ok {
		return false
	}
	delete(t.files, key)
	return true
}

// List returns all paths matching the doublestar pattern, sorted.
// An empty pattern lists everything.
func (t *Tree) List(pattern string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for p := range t.files {
		if pattern == "" {
			out = append(out, p)
			continue
		}
		match, err := doublestar.Match(Normalize(pattern), p)
		if err != nil {
			// Bad pattern matches nothing
			break
		}
		if match {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of files.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.files)
}
