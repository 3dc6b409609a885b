package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Status represents extension lifecycle states
type Status string

const (
	StatusInactive   Status = "inactive"
	StatusActivating Status = "activating"
	StatusActive     Status = "active"
	StatusError      Status = "error"
	StatusDisposed   Status = "disposed"
	// StatusNotFound is reported for ids with no runtime record
	StatusNotFound Status = "not-found"
)

// Manifest is the immutable descriptor of one logical extension.
// It identifies the extension across reloads and is never mutated.
type Manifest struct {
	ID               string   `json:"id" yaml:"id"`
	Name             string   `json:"name" yaml:"name"`
	Version          string   `json:"version" yaml:"version"`
	Main             string   `json:"main" yaml:"main"`
	Permissions      []string `json:"permissions" yaml:"permissions"`
	ActivationEvents []string `json:"activationEvents,omitempty" yaml:"activationEvents,omitempty"`
}

// Validation errors
var (
	ErrMissingID      = errors.New("manifest: id is required")
	ErrMissingMain    = errors.New("manifest: main is required")
	ErrInvalidVersion = errors.New("manifest: version must be valid semver")
)

// Validate checks the manifest for required fields and a parseable version.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(m.Main) == "" {
		return ErrMissingMain
	}
	if m.Version != "" {
		if _, err := semver.NewVersion(m.Version); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidVersion, m.Version)
		}
	}
	return nil
}

// Namespaces resolves the declared permissions to API namespaces.
// A permission may name a namespace directly ("files") or a scoped
// capability within it ("files:read"); both expose the namespace.
func (m *Manifest) Namespaces() []string {
	seen := make(map[string]bool, len(m.Permissions))
	var out []string
	for _, p := range m.Permissions {
		ns := p
		if i := strings.IndexByte(p, ':'); i > 0 {
			ns = p[:i]
		}
		ns = strings.TrimSpace(ns)
		if ns == "" || seen[ns] {
			continue
		}
		seen[ns] = true
		out = append(out, ns)
	}
	return out
}

// ActivatesOn reports whether the manifest requests activation for the
// given host event. An empty list or "*" means activate immediately.
func (m *Manifest) ActivatesOn(event string) bool {
	for _, e := range m.ActivationEvents {
		if e == "*" || e == event {
			return true
		}
	}
	return false
}

// Eager reports whether the extension should activate at load time.
func (m *Manifest) Eager() bool {
	if len(m.ActivationEvents) == 0 {
		return true
	}
	for _, e := range m.ActivationEvents {
		if e == "*" {
			return true
		}
	}
	return false
}
