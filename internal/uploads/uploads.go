// Package uploads guards and describes the static upload root.
package uploads

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrForbidden reports a path that resolves outside the root.
	ErrForbidden = errors.New("path escapes upload root")
	// ErrNotFound reports a missing file or a directory.
	ErrNotFound = errors.New("file not found")
)

// Root is an upload directory.
type Root struct {
	dir string
}

// New returns a Root for dir. The directory does not need to exist yet.
func New(dir string) (*Root, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("upload directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload directory: %w", err)
	}
	return &Root{dir: abs}, nil
}

// Dir returns the absolute root directory.
func (r *Root) Dir() string {
	return r.dir
}

// Resolve maps a slash-separated request path to a file under the root.
func (r *Root) Resolve(rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", ErrForbidden
	}
	full := filepath.Join(r.dir, filepath.FromSlash(rel))
	inside, err := filepath.Rel(r.dir, full)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", ErrForbidden
	}
	return full, nil
}

// Open resolves rel and stats the file. Directories count as not found.
func (r *Root) Open(rel string) (string, fs.FileInfo, error) {
	full, err := r.Resolve(rel)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return "", nil, ErrNotFound
	}
	return full, info, nil
}

// ContentType infers the media type from the file extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// Usage summarizes disk consumption under the root.
type Usage struct {
	TotalSize      string `json:"totalSize"`
	TotalSizeBytes int64  `json:"totalSizeBytes"`
	TotalFiles     int    `json:"totalFiles"`
	ImagesCount    int    `json:"imagesCount"`
	Warning        string `json:"warning,omitempty"`
}

// Usage walks the root. A missing root is empty. A positive warnAt adds a
// warning once the total reaches it.
func (r *Root) Usage(warnAt int64) (Usage, error) {
	var u Usage
	err := filepath.WalkDir(r.dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		u.TotalFiles++
		u.TotalSizeBytes += info.Size()
		if strings.HasPrefix(ContentType(d.Name()), "image/") {
			u.ImagesCount++
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Usage{}, fmt.Errorf("walk %s: %w", r.dir, err)
	}
	u.TotalSize = FormatBytes(u.TotalSizeBytes)
	if warnAt > 0 && u.TotalSizeBytes >= warnAt {
		u.Warning = fmt.Sprintf("Disk usage is %s, above the %s threshold", u.TotalSize, FormatBytes(warnAt))
	}
	return u, nil
}

// FormatBytes renders n with binary units, e.g. "1.5 KB".
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	units := []string{"Bytes", "KB", "MB", "GB", "TB"}
	exp := int(math.Floor(math.Log(float64(n)) / math.Log(1024)))
	if exp >= len(units) {
		exp = len(units) - 1
	}
	value := float64(n) / math.Pow(1024, float64(exp))
	value = math.Round(value*100) / 100
	return strings.TrimSuffix(strings.TrimSuffix(fmt.Sprintf("%.2f", value), "0"), ".0") + " " + units[exp]
}
