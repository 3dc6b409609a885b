package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/nebulaide/backend/internal/types"
)

// Seeder loads pre-installed extensions from disk. Each extension lives
// in its own directory holding a manifest (yaml or json) plus the
// script named by the manifest's main field.
type Seeder struct {
	manager *Manager
	dir     string
}

// NewSeeder creates a seeder rooted at dir.
func NewSeeder(manager *Manager, dir string) *Seeder {
	return &Seeder{manager: manager, dir: dir}
}

// Seed walks the extensions directory and installs everything it finds.
// A missing directory is not an error; a broken extension is logged and
// skipped so it never blocks the rest.
func (s *Seeder) Seed() (int, error) {
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		s.manager.log.Warn("extensions directory not found", zap.String("dir", s.dir))
		return 0, nil
	}

	var loaded int
	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isManifestFile(d.Name()) {
			return nil
		}

		if err := s.load(path); err != nil {
			s.manager.log.Warn("failed to load extension",
				zap.String("manifest", path),
				zap.Error(err))
			return nil
		}
		loaded++
		return nil
	})
	if err != nil {
		return loaded, err
	}

	s.manager.log.Info("extension seeding complete", zap.Int("loaded", loaded))
	return loaded, nil
}

func isManifestFile(name string) bool {
	switch name {
	case "manifest.yaml", "manifest.yml", "manifest.json":
		return true
	}
	return false
}

// load parses one manifest file, reads the script it names and installs
// the pair.
func (s *Seeder) load(manifestPath string) error {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return err
	}

	var manifest types.Manifest
	if strings.HasSuffix(manifestPath, ".json") {
		if err := sonic.Unmarshal(data, &manifest); err != nil {
			return fmt.Errorf("parse manifest: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return fmt.Errorf("parse manifest: %w", err)
		}
	}
	if err := manifest.Validate(); err != nil {
		return err
	}

	mainPath := filepath.Join(filepath.Dir(manifestPath), filepath.Clean(manifest.Main))
	source, err := os.ReadFile(mainPath)
	if err != nil {
		return fmt.Errorf("read main script: %w", err)
	}

	return s.manager.Install(&manifest, string(source))
}
