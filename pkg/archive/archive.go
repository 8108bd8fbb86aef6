// Package archive packs and unpacks the .tar.gz bundles shipped to and from
// remote storage.
//
// Bundles are flat: Create stores every file under its base name, and the
// extract helpers write entries into the destination by base name.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/gzip"
)

// ErrCorrupt is returned when an archive cannot be read as gzip or tar.
var ErrCorrupt = errors.New("corrupt archive")

// Entry describes one member of an archive.
type Entry struct {
	Name  string
	Size  int64
	Mode  int64
	IsDir bool
}

// Base returns the entry's name without any directory part.
func (e Entry) Base() string { return path.Base(e.Name) }

// Service creates and reads archives. The zero value is usable.
type Service struct {
	// Exclude holds doublestar patterns matched against entry names; matching
	// entries are never extracted.
	Exclude []string

	// Level is the gzip level; zero means gzip.DefaultCompression.
	Level int
}

// DefaultExclude skips bundled PDF library data.
var DefaultExclude = []string{"**/lhapdf/**", "lhapdf/**"}

// New returns a Service with DefaultExclude applied.
func New() *Service {
	return &Service{Exclude: append([]string(nil), DefaultExclude...)}
}

// Create writes paths into a new archive at archivePath. Directories are
// rejected; each file is stored under its base name.
func (s *Service) Create(paths []string, archivePath string) (err error) {
	if len(paths) == 0 {
		return fmt.Errorf("create %s: no files", archivePath)
	}
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		base := filepath.Base(p)
		if prev, dup := seen[base]; dup {
			return fmt.Errorf("create %s: %s and %s share the name %q", archivePath, prev, p, base)
		}
		seen[base] = p
	}

	tmp := archivePath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	level := s.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	gz, err := gzip.NewWriterLevel(f, level)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(gz)

	for _, p := range paths {
		if err := addFile(tw, p); err != nil {
			return fmt.Errorf("create %s: %w", archivePath, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, archivePath)
}

func addFile(tw *tar.Writer, p string) error {
	st, err := os.Stat(p)
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("%s is a directory", p)
	}
	hdr, err := tar.FileInfoHeader(st, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(p)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = io.Copy(tw, f)
	return err
}

// ListEntries returns every member of the archive in stored order.
func (s *Service) ListEntries(archivePath string) ([]Entry, error) {
	var entries []Entry
	err := s.walk(archivePath, func(e Entry, _ io.Reader) error {
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// Extract writes every regular file for which keep returns true into
// destDir and returns the written paths in archive order. Excluded entries
// are skipped before keep is consulted.
func (s *Service) Extract(archivePath, destDir string, keep func(Entry) bool) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}
	var written []string
	err := s.walk(archivePath, func(e Entry, r io.Reader) error {
		if e.IsDir || s.excluded(e.Name) || (keep != nil && !keep(e)) {
			return nil
		}
		dst, err := safeJoin(destDir, e.Base())
		if err != nil {
			return err
		}
		if err := writeFile(dst, r, e.Mode); err != nil {
			return err
		}
		written = append(written, dst)
		return nil
	})
	if err != nil {
		return written, err
	}
	return written, nil
}

// ExtractBySuffix extracts the entries whose base name ends with one of
// suffixes.
func (s *Service) ExtractBySuffix(archivePath, destDir string, suffixes []string) ([]string, error) {
	return s.Extract(archivePath, destDir, func(e Entry) bool {
		return HasSuffix(e.Base(), suffixes)
	})
}

// HasSuffix reports whether name ends with any of suffixes.
func HasSuffix(name string, suffixes []string) bool {
	for _, sfx := range suffixes {
		if strings.HasSuffix(name, sfx) {
			return true
		}
	}
	return false
}

func (s *Service) excluded(name string) bool {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	for _, pattern := range s.Exclude {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (s *Service) walk(archivePath string, fn func(Entry, io.Reader) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, archivePath, err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, archivePath, err)
		}
		e := Entry{
			Name:  hdr.Name,
			Size:  hdr.Size,
			Mode:  hdr.Mode,
			IsDir: hdr.Typeflag == tar.TypeDir,
		}
		if hdr.Typeflag != tar.TypeReg && hdr.Typeflag != tar.TypeDir {
			continue
		}
		if err := fn(e, tr); err != nil {
			return err
		}
	}
}

func safeJoin(dir, name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("unsafe entry name %q", name)
	}
	return filepath.Join(dir, name), nil
}

func writeFile(dst string, r io.Reader, mode int64) error {
	perm := os.FileMode(mode).Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// IsCorrupt reports whether err came from an unreadable archive.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}
