package fs

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned for archive entries that would escape the
// extraction root.
var ErrUnsafePath = errors.New("unsafe path")

// imageExtensions are the file types picked up as screenshots.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// Screenshot identifies one image file of a screenshot set.
//
// Two layouts carry the browser and viewport:
//
//	chrome/1280x720/checkout/cart.png   -> checkout/cart, chrome, 1280x720
//	checkout/cart@chrome@1280x720.png   -> checkout/cart, chrome, 1280x720
//
// Any other image is named by its path without extension.
type Screenshot struct {
	// Path is slash separated and relative to the set root.
	Path     string
	Name     string
	Browser  string
	Viewport string
}

// ParseScreenshotPath derives the snapshot identity from a relative path.
// It reports false for files that are not images.
func ParseScreenshotPath(relativePath string) (Screenshot, bool) {
	rel := strings.TrimPrefix(filepath.ToSlash(relativePath), "./")
	ext := path.Ext(rel)
	if !imageExtensions[strings.ToLower(ext)] {
		return Screenshot{}, false
	}
	base := strings.TrimSuffix(path.Base(rel), ext)
	if base == "" {
		return Screenshot{}, false
	}
	dir := path.Dir(rel)
	var dirs []string
	if dir != "." {
		dirs = strings.Split(dir, "/")
	}

	shot := Screenshot{Path: rel}
	if parts := strings.Split(base, "@"); len(parts) == 3 && parts[0] != "" && parts[1] != "" && parts[2] != "" {
		shot.Name = path.Join(append(dirs, parts[0])...)
		shot.Browser = parts[1]
		shot.Viewport = parts[2]
		return shot, true
	}
	if len(dirs) >= 2 {
		n := len(dirs)
		shot.Browser = dirs[n-2]
		shot.Viewport = dirs[n-1]
		shot.Name = path.Join(append(dirs[:n-2:n-2], base)...)
		return shot, true
	}
	shot.Name = path.Join(append(dirs, base)...)
	return shot, true
}

// FindScreenshots walks root and returns every image not excluded by
// ignore, in lexical path order.
func FindScreenshots(root string, ignore *IgnoreMatcher) ([]Screenshot, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var shots []Screenshot
	err = filepath.WalkDir(root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if ignore.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if shot, ok := ParseScreenshotPath(rel); ok {
			shots = append(shots, shot)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return shots, nil
}

// ArchiveEntry is a screenshot read from a zip archive.
type ArchiveEntry struct {
	Screenshot
	Data []byte
}

// ReadArchive extracts the screenshots of a zip archive into memory.
// Entries larger than maxEntryBytes fail the whole archive; zero disables
// the check.
func ReadArchive(r io.ReaderAt, size int64, ignore *IgnoreMatcher, maxEntryBytes int64) ([]ArchiveEntry, error) {
	zr, err := zip.NewReader(r, size)
	if errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("opening archive: %w", ErrUnsafePath)
	}
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	var entries []ArchiveEntry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rel, err := cleanArchivePath(f.Name)
		if err != nil {
			return nil, err
		}
		if ignore.Match(rel) {
			continue
		}
		shot, ok := ParseScreenshotPath(rel)
		if !ok {
			continue
		}
		data, err := readArchiveFile(f, maxEntryBytes)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", rel, err)
		}
		entries = append(entries, ArchiveEntry{Screenshot: shot, Data: data})
	}
	return entries, nil
}

func cleanArchivePath(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%s: %w", name, ErrUnsafePath)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%s: %w", name, ErrUnsafePath)
	}
	return clean, nil
}

func readArchiveFile(f *zip.File, maxBytes int64) ([]byte, error) {
	if maxBytes > 0 && f.UncompressedSize64 > uint64(maxBytes) {
		return nil, fmt.Errorf("entry is %d bytes, limit is %d", f.UncompressedSize64, maxBytes)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var src io.Reader = rc
	if maxBytes > 0 {
		src = io.LimitReader(rc, maxBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("entry exceeds %d bytes", maxBytes)
	}
	return data, nil
}
