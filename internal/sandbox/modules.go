package sandbox

import (
	"path"

	"github.com/google/uuid"
)

// DefaultModules returns the standard require allow-list. Each entry is
// a plain map of safe functions; the host's real module loader is never
// reachable from extension code.
func DefaultModules() map[string]map[string]interface{} {
	return map[string]map[string]interface{}{
		"path": {
			"join": func(parts ...string) string {
				return path.Join(parts...)
			},
			"dirname":  path.Dir,
			"basename": path.Base,
			"extname":  path.Ext,
		},
		"uuid": {
			"v4": func() string {
				return uuid.New().String()
			},
		},
	}
}
