package internal

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"ragingest/types"
)

type FileInfo struct {
	Path    string // absolute
	RelPath string // slash-separated, relative to the root
	ModTime time.Time
	Size    int64
}

// Walker discovers eligible text files under a root.
type Walker struct {
	extensions map[string]bool
	excludes   []string
}

func NewWalker(extensions, excludes []string) *Walker {
	exts := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}
	return &Walker{extensions: exts, excludes: excludes}
}

// Walk returns matching files sorted by relative path.
func (w *Walker) Walk(root string) ([]FileInfo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, types.Errorf(types.KindConfigurationError, "walker.Walk", "document root: %v", err)
	}
	if !info.IsDir() {
		return nil, types.Errorf(types.KindConfigurationError, "walker.Walk", "document root %s is not a directory", root)
	}

	var files []FileInfo
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && w.excludedDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !w.Eligible(rel) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, FileInfo{
			Path:    path,
			RelPath: rel,
			ModTime: fi.ModTime(),
			Size:    fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// Eligible reports whether a slash-separated relative path has an accepted
// extension and is not excluded.
func (w *Walker) Eligible(rel string) bool {
	if !w.extensions[strings.ToLower(filepath.Ext(rel))] {
		return false
	}
	return !w.Excluded(rel)
}

func (w *Walker) Excluded(rel string) bool {
	for _, pattern := range w.excludes {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
	}
	return false
}

func (w *Walker) excludedDir(rel string) bool {
	return w.Excluded(rel) || w.Excluded(rel+"/")
}

// ReadDocument reads a text file, rejecting binary or non UTF-8 content.
func ReadDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewError(types.KindInvalidDocument, "read", err)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, types.Errorf(types.KindInvalidDocument, "read", "binary content")
	}
	if !utf8.Valid(data) {
		return nil, types.Errorf(types.KindInvalidDocument, "read", "content is not valid UTF-8")
	}
	return data, nil
}
