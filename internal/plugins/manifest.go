// Package plugins owns the plugin catalog: discovery of plugin packages on
// disk, dependency-ordered activation, and the bridge between manifests and
// the Go-side contributors that carry their hook handlers and factory
// constructors. All process-wide state lives in the Catalog with explicit
// Load/Close; nothing registers at import time.
package plugins

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// ManifestFile is the required manifest name inside a plugin directory.
const ManifestFile = "plugin.yaml"

// ManifestError reports a plugin.yaml that could not be parsed or
// validated, naming the offending file.
type ManifestError struct {
	Path string
	Err  error
}

func (e ManifestError) Error() string {
	return fmt.Sprintf("manifest %s: %v", e.Path, e.Err)
}

func (e ManifestError) Unwrap() error { return e.Err }

// LoadManifest reads and validates one plugin.yaml.
func LoadManifest(path string) (models.PluginManifest, error) {
	var m models.PluginManifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, ManifestError{Path: path, Err: err}
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, ManifestError{Path: path, Err: err}
	}
	if err := validateManifest(m); err != nil {
		return m, ManifestError{Path: path, Err: err}
	}
	return m, nil
}

func validateManifest(m models.PluginManifest) error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Name == CorePlugin {
		return fmt.Errorf("plugin name %q is reserved", CorePlugin)
	}
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	for _, dep := range m.Dependencies {
		if dep == m.Name {
			return fmt.Errorf("plugin depends on itself")
		}
	}
	for _, h := range m.Hooks {
		if h.Name == "" {
			return fmt.Errorf("hook declaration without a name")
		}
	}
	for _, f := range m.Factories {
		if !f.Kind.Valid() {
			return fmt.Errorf("factory contribution has unknown kind %q", f.Kind)
		}
		if f.Name == "" {
			return fmt.Errorf("factory contribution for %s without a name", f.Kind)
		}
	}
	return nil
}

// discoverManifests walks the configured plugin directories. Each direct
// subdirectory holding a plugin.yaml is one plugin package. A directory
// without a manifest is skipped; a broken manifest fails the scan.
func discoverManifests(paths []string) ([]models.PluginInfo, error) {
	var infos []models.PluginInfo
	seen := map[string]string{} // name -> path
	for _, root := range paths {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			manifestPath := filepath.Join(dir, ManifestFile)
			if _, err := os.Stat(manifestPath); err != nil {
				continue
			}
			m, err := LoadManifest(manifestPath)
			if err != nil {
				return nil, err
			}
			if prev, dup := seen[m.Name]; dup {
				return nil, fmt.Errorf("plugin %q found in both %s and %s", m.Name, prev, dir)
			}
			seen[m.Name] = dir
			infos = append(infos, models.PluginInfo{Manifest: m, Path: dir})
		}
	}
	return infos, nil
}
