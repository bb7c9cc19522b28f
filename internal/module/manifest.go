package module

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ManifestEntry pins one module executable to a content hash.
type ManifestEntry struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"` // lowercase hex
}

// Manifest is an allowlist of module executables. When the registry is
// given one, nothing outside it is ever run, not even for metadata.
type Manifest struct {
	Modules []ManifestEntry `json:"modules"`
	index   map[string]ManifestEntry
}

// LoadManifest reads a manifest file. Relative paths are resolved against
// the manifest's own directory.
func LoadManifest(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m.index = make(map[string]ManifestEntry, len(m.Modules))
	for _, e := range m.Modules {
		abs := e.Path
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(filepath.Dir(path), e.Path)
		}
		e.Path = filepath.Clean(abs)
		m.index[e.Path] = e
	}
	return &m, nil
}

// Verify fails unless path is listed and its content matches the pinned hash.
func (m *Manifest) Verify(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	e, ok := m.index[filepath.Clean(abs)]
	if !ok {
		return fmt.Errorf("executable is not listed in the modules manifest")
	}
	actual, err := SHA256File(abs)
	if err != nil {
		return fmt.Errorf("hashing executable: %w", err)
	}
	if !strings.EqualFold(actual, e.SHA256) {
		return fmt.Errorf("sha256 mismatch for '%s': expected %s, got %s", e.Name, e.SHA256, actual)
	}
	return nil
}

// SHA256File returns the hex SHA-256 of a file's content.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
