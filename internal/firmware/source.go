package firmware

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source is a firmware file: its path as walked and its Rust source.
type Source struct {
	Path string
	Code []byte
}

// Deny reports whether a file, given by its slash-separated path relative to
// the firmware root, must be left out of the scan.
type Deny func(rel string) bool

// LoadSources collects the firmware to scan. path may be a single .rs file or
// a directory walked recursively; build output (target), VCS metadata and
// hidden directories are skipped. A non-.rs single file yields nothing.
// The result is sorted by path.
func LoadSources(path string, deny Deny) ([]Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("firmware: stat %s: %w", path, err)
	}

	if !info.IsDir() {
		if !isRust(path) || (deny != nil && deny(filepath.ToSlash(filepath.Base(path)))) {
			return nil, nil
		}
		code, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("firmware: read %s: %w", path, err)
		}
		return []Source{{Path: path, Code: code}}, nil
	}

	var sources []Source
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p == path {
				return nil
			}
			if name == "target" || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isRust(name) {
			return nil
		}
		if deny != nil {
			rel, err := filepath.Rel(path, p)
			if err != nil {
				return err
			}
			if deny(filepath.ToSlash(rel)) {
				return nil
			}
		}
		code, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		sources = append(sources, Source{Path: p, Code: code})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("firmware: walk %s: %w", path, err)
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })
	return sources, nil
}

func isRust(name string) bool {
	return filepath.Ext(name) == ".rs"
}
