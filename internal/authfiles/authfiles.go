// Package authfiles manages the JSON credential files the managed server
// reads from its auth directory. Files are opaque to the agent except for a
// top-level "type" field used for display.
package authfiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/easycli/proxyctl/internal/config"
)

// ErrExists is returned by Import when the target filename is already taken.
var ErrExists = errors.New("auth file already exists")

// File describes one credential file in the auth directory.
type File struct {
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Store lists, imports, exports, and deletes credential files.
type Store struct {
	cfg *config.Manager
}

func NewStore(cfg *config.Manager) *Store { return &Store{cfg: cfg} }

// Dir resolves the auth directory from the current config.
func (s *Store) Dir() (string, error) {
	settings, err := s.cfg.Load()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(settings.AuthDir) == "" {
		return "", errors.New("auth-dir not configured")
	}
	return s.cfg.ResolvePath(settings.AuthDir), nil
}

// List returns the JSON credential files in the auth directory, sorted by
// name. A missing directory lists as empty rather than failing.
func (s *Store) List() ([]File, error) {
	dir, err := s.Dir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []File
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, File{
			Name:       e.Name(),
			Type:       sniffType(filepath.Join(dir, e.Name())),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Import copies src into the auth directory under its base name. It never
// overwrites: a name collision returns ErrExists.
func (s *Store) Import(src string) (File, error) {
	dir, err := s.Dir()
	if err != nil {
		return File{}, err
	}
	name := filepath.Base(src)
	if !strings.HasSuffix(name, ".json") {
		return File{}, fmt.Errorf("not a json credential file: %s", name)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", src, err)
	}
	if !json.Valid(data) {
		return File{}, fmt.Errorf("invalid json in %s", name)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return File{}, err
	}
	dst := filepath.Join(dir, name)
	if _, err := os.Stat(dst); err == nil {
		return File{}, fmt.Errorf("%w: %s", ErrExists, name)
	}
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return File{}, fmt.Errorf("write %s: %w", dst, err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		return File{}, err
	}
	return File{Name: name, Type: sniffType(dst), Size: info.Size(), ModifiedAt: info.ModTime()}, nil
}

// Export copies the named credential file to dstDir and returns the written
// path. The name is restricted to a bare filename within the auth directory.
func (s *Store) Export(name, dstDir string) (string, error) {
	src, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	if err := os.MkdirAll(dstDir, 0o750); err != nil {
		return "", err
	}
	dst := filepath.Join(dstDir, name)
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", dst, err)
	}
	return dst, nil
}

// Delete removes the named credential file.
func (s *Store) Delete(name string) error {
	p, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// resolve validates name as a bare filename and returns its path inside the
// auth directory.
func (s *Store) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid auth file name: %q", name)
	}
	dir, err := s.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// sniffType reads the top-level "type" field, or "unknown" when absent.
func sniffType(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	var doc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc.Type == "" {
		return "unknown"
	}
	return doc.Type
}
