package files

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"polarcli/internal/config"
	"polarcli/internal/infrastructure"
)

// ErrTooLarge is returned when an upload exceeds its byte limit
var ErrTooLarge = errors.New("upload exceeds size limit")

// Manager stores uploaded exports under the uploads directory
type Manager struct {
	paths  *config.Paths
	logger *slog.Logger
}

// NewManager creates a new file manager instance
func NewManager(paths *config.Paths, logger *slog.Logger) *Manager {
	return &Manager{paths: paths, logger: infrastructure.WithComponent(logger, "files")}
}

// SaveUpload copies r into a fresh directory under the uploads directory
// and returns the file path. The file keeps the sanitized upload name.
// limit <= 0 disables the size check.
func (m *Manager) SaveUpload(name string, r io.Reader, limit int64) (path string, err error) {
	dir := m.paths.GetUploadPath(uuid.New().String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	path = filepath.Join(dir, SanitizeName(name))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		os.Remove(dir)
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close upload file: %w", cerr)
		}
		if err != nil {
			os.RemoveAll(dir)
			path = ""
		}
	}()

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(file, src)
	if err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	if limit > 0 && n > limit {
		return "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}

	m.logger.Info("Upload stored",
		slog.String("name", name),
		slog.String("path", path),
		slog.Int64("size", n))
	return path, nil
}

// Remove deletes a stored upload and its directory. Paths outside the
// uploads directory are refused.
func (m *Manager) Remove(path string) error {
	if !m.inUploads(path) {
		return fmt.Errorf("%s is not an upload", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove upload: %w", err)
	}
	if dir := filepath.Dir(path); m.inUploads(dir) {
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove upload directory: %w", err)
		}
	}
	return nil
}

// PruneUploads deletes uploads last modified before now minus maxAge and
// returns how many were removed. Uploads for which keep returns true are
// left alone; keep may be nil.
func (m *Manager) PruneUploads(maxAge time.Duration, keep func(path string) bool) (int, error) {
	entries, err := os.ReadDir(m.paths.UploadsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read uploads directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(m.paths.UploadsDir, entry.Name())
		if keep != nil && m.holdsKept(path, entry.IsDir(), keep) {
			continue
		}
		if err := os.RemoveAll(path); err == nil {
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("Pruned uploads", slog.Int("removed", removed))
	}
	return removed, nil
}

func (m *Manager) holdsKept(path string, isDir bool, keep func(string) bool) bool {
	if !isDir {
		return keep(path)
	}
	files, err := os.ReadDir(path)
	if err != nil {
		return true
	}
	for _, f := range files {
		if keep(filepath.Join(path, f.Name())) {
			return true
		}
	}
	return false
}

// SanitizeName reduces an uploaded file name to a safe base name
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, strings.ContainsRune(`<>:"/\|?*`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, ". ")
	if name == "" {
		return "upload"
	}
	return name
}

func (m *Manager) inUploads(path string) bool {
	rel, err := filepath.Rel(m.paths.UploadsDir, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}
