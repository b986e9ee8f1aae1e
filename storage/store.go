// Package storage persists generated media on the local (or network)
// filesystem and hands out the public URLs the API returns to clients.
package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store writes assets under Dir and maps them to URLs under BaseURL.
// Files land in year/month subdirectories so a single directory never
// accumulates everything.
type Store struct {
	Dir     string
	BaseURL string
}

// New prepares the media directory. BaseURL defaults to /media.
func New(dir, baseURL string) (*Store, error) {
	if dir == "" {
		dir = "./media"
	}
	if baseURL == "" {
		baseURL = "/media"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Store{Dir: dir, BaseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Save streams r into a fresh file and returns its public URL. The stored
// filename is prefixed with a random id so user-supplied names can never
// collide or escape the directory.
func (s *Store) Save(name string, r io.Reader) (string, error) {
	rel := s.relPath(name)
	full := filepath.Join(s.Dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create media subdir: %w", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(full)
		return "", fmt.Errorf("write media file: %w", err)
	}
	return s.BaseURL + "/" + rel, nil
}

// SaveBytes stores an in-memory asset.
func (s *Store) SaveBytes(name string, data []byte) (string, error) {
	return s.Save(name, bytes.NewReader(data))
}

// Open resolves a public URL previously returned by Save back to its file.
func (s *Store) Open(publicURL string) (*os.File, error) {
	rel := strings.TrimPrefix(publicURL, s.BaseURL+"/")
	if rel == publicURL {
		return nil, fmt.Errorf("url %q is not under %s", publicURL, s.BaseURL)
	}
	clean := path.Clean(rel)
	if strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("url %q escapes the media dir", publicURL)
	}
	return os.Open(filepath.Join(s.Dir, filepath.FromSlash(clean)))
}

// Remove deletes a stored asset by its public URL. A missing file is not
// an error: delete-job may run after a failed generation.
func (s *Store) Remove(publicURL string) error {
	f, err := s.Open(publicURL)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func (s *Store) relPath(name string) string {
	now := time.Now().UTC()
	return fmt.Sprintf("%04d/%02d/%s-%s", now.Year(), now.Month(), uuid.NewString()[:8], SanitizeName(name))
}

// SanitizeName strips path separators and anything else unsafe from a
// filename, keeping the extension intact.
func SanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		out = "asset"
	}
	return out
}
