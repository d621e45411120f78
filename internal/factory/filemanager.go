package factory

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/matteocacciola/cheshirecat-core/pkg/contracts"
	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

type localFileParams struct {
	Root string `mapstructure:"root"`
}

// LocalFileManager stores tenant files under <root>/<tenant>/. Paths are
// cleaned and confined to the tenant directory.
type LocalFileManager struct {
	root string
}

// NewLocalFileManager is the "local" file-manager constructor.
func NewLocalFileManager(_ context.Context, tenantID string, params map[string]any) (any, error) {
	p := localFileParams{Root: "./data/files"}
	if err := DecodeParams(params, &p); err != nil {
		return nil, ParamError{Kind: models.KindFileManager, Name: "local", Err: err}
	}
	root := filepath.Join(p.Root, tenantID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("file manager root: %w", err)
	}
	return &LocalFileManager{root: root}, nil
}

var _ contracts.FileManager = (*LocalFileManager)(nil)

func (m *LocalFileManager) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if clean == "/" {
		return "", fmt.Errorf("empty file path")
	}
	return filepath.Join(m.root, clean), nil
}

func (m *LocalFileManager) Save(_ context.Context, path string, data []byte) error {
	full, err := m.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (m *LocalFileManager) Read(_ context.Context, path string) ([]byte, error) {
	full, err := m.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (m *LocalFileManager) List(_ context.Context, prefix string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(m.root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (m *LocalFileManager) Delete(_ context.Context, path string) error {
	full, err := m.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MemoryFileManager keeps files in a map. For tests and ephemeral tenants.
type MemoryFileManager struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemoryFileManager is the "memory" file-manager constructor.
func NewMemoryFileManager(_ context.Context, _ string, _ map[string]any) (any, error) {
	return &MemoryFileManager{files: make(map[string][]byte)}, nil
}

var _ contracts.FileManager = (*MemoryFileManager)(nil)

func (m *MemoryFileManager) Save(_ context.Context, path string, data []byte) error {
	if path == "" {
		return fmt.Errorf("empty file path")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.files[path] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryFileManager) Read(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	data, ok := m.files[path]
	m.mu.RUnlock()
	if !ok {
		return nil, os.ErrNotExist
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MemoryFileManager) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for path := range m.files {
		if strings.HasPrefix(path, prefix) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryFileManager) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	delete(m.files, path)
	m.mu.Unlock()
	return nil
}
