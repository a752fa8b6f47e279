// Package fs discovers and loads text files for ingestion.
package fs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
)

// maxFileSize caps what the loader will read into memory for a single file.
const maxFileSize = 8 << 20

// Walker enumerates ingestible files under a root using doublestar glob
// patterns relative to the root.
type Walker struct {
	includes []string
	excludes []string
}

func NewWalker(includes, excludes []string) *Walker {
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	return &Walker{
		includes: includes,
		excludes: excludes,
	}
}

// SourceFile is a file selected for ingestion. Path is absolute, Source is
// the root-relative path used as the document source identifier.
type SourceFile struct {
	Path   string
	Source string
	Size   int64
}

// Walk returns the matching files under root in walk order. A root that is
// itself a regular file is returned as the single result regardless of
// patterns.
func (w *Walker) Walk(root string) ([]SourceFile, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []SourceFile{{Path: root, Source: filepath.Base(root), Size: info.Size()}}, nil
	}

	var files []SourceFile
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if info.IsDir() {
			if w.shouldExclude(relPath + "/") {
				return filepath.SkipDir
			}
			return nil
		}

		if w.shouldInclude(relPath) && !w.shouldExclude(relPath) {
			files = append(files, SourceFile{
				Path:   path,
				Source: relPath,
				Size:   info.Size(),
			})
		}
		return nil
	})
	return files, err
}

func (w *Walker) shouldInclude(path string) bool {
	for _, pattern := range w.includes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func (w *Walker) shouldExclude(path string) bool {
	for _, pattern := range w.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

// ReadText loads a file as UTF-8 text. Oversized and binary files are
// rejected so a stray artifact in a docs tree does not poison the index.
func ReadText(file SourceFile) (string, error) {
	if file.Size > maxFileSize {
		return "", fmt.Errorf("%s: file exceeds %d bytes", file.Source, int64(maxFileSize))
	}
	data, err := os.ReadFile(file.Path)
	if err != nil {
		return "", err
	}
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
		return "", fmt.Errorf("%s: not a UTF-8 text file", file.Source)
	}
	return string(data), nil
}
