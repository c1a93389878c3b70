package files

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultExtensions are the analyzer export formats accepted as input
var DefaultExtensions = []string{".txt", ".csv", ".dat", ".xlsx"}

// FileInfo represents information about a discovered file
type FileInfo struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// Discovery finds analyzer exports on disk
type Discovery struct {
	basePath   string
	extensions map[string]bool
	exclude    []string
	prefixes   []string
}

// NewDiscovery creates a discovery rooted at basePath accepting the given
// extensions (DefaultExtensions when empty). Relative directories are
// resolved against basePath.
func NewDiscovery(basePath string, extensions []string) *Discovery {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	d := &Discovery{basePath: basePath, extensions: make(map[string]bool, len(extensions))}
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		d.extensions[ext] = true
	}
	return d
}

// Exclude skips names ending in any of suffixes, e.g. the converter's own
// output suffix so a drop folder doesn't reprocess results
func (d *Discovery) Exclude(suffixes ...string) *Discovery {
	d.exclude = append(d.exclude, suffixes...)
	return d
}

// ExcludePrefix skips names starting with any of prefixes, e.g. batch
// reports written into a watched directory
func (d *Discovery) ExcludePrefix(prefixes ...string) *Discovery {
	d.prefixes = append(d.prefixes, prefixes...)
	return d
}

// IsInput reports whether name has an accepted extension and is not
// excluded. Hidden and editor temp files are never inputs.
func (d *Discovery) IsInput(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return false
	}
	lower := strings.ToLower(base)
	for _, prefix := range d.prefixes {
		if strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return false
		}
	}
	for _, suffix := range d.exclude {
		if strings.HasSuffix(lower, strings.ToLower(suffix)) {
			return false
		}
	}
	return d.extensions[filepath.Ext(lower)]
}

// FindInputs lists the inputs directly inside dir, sorted by name
func (d *Discovery) FindInputs(dir string) ([]FileInfo, error) {
	fullPath := d.resolve(dir)

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", fullPath, err)
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() || !d.IsInput(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Path:    filepath.Join(fullPath, entry.Name()),
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})
	return files, nil
}

// Expand resolves command line arguments into input files. Directories
// contribute their inputs, glob patterns their matches, and plain files
// are taken as given. Duplicates are dropped and argument order is kept.
func (d *Discovery) Expand(args []string) ([]FileInfo, error) {
	var out []FileInfo
	seen := make(map[string]bool)
	add := func(f FileInfo) {
		if !seen[f.Path] {
			seen[f.Path] = true
			out = append(out, f)
		}
	}

	for _, arg := range args {
		path := d.resolve(arg)
		if strings.ContainsAny(arg, "*?[") {
			matches, err := filepath.Glob(path)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %s: %w", arg, err)
			}
			sort.Strings(matches)
			for _, m := range matches {
				if info, err := os.Stat(m); err == nil && !info.IsDir() && d.IsInput(m) {
					add(fileInfo(m, info))
				}
			}
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if info.IsDir() {
			files, err := d.FindInputs(path)
			if err != nil {
				return nil, err
			}
			for _, f := range files {
				add(f)
			}
			continue
		}
		add(fileInfo(path, info))
	}
	return out, nil
}

func (d *Discovery) resolve(path string) string {
	if filepath.IsAbs(path) || d.basePath == "" {
		return path
	}
	return filepath.Join(d.basePath, path)
}

func fileInfo(path string, info os.FileInfo) FileInfo {
	return FileInfo{
		Path:    path,
		Name:    filepath.Base(path),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}
