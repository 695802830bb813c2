package device

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// moduleIndex is the stem of Rust's module index file, which never holds a
// device.
const moduleIndex = "mod"

// LoadSources reads every .rs file directly inside dir (subdirectories are
// not visited) and names each device after its file stem. The result is
// sorted by device name.
func LoadSources(dir string) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("device: read devices dir %s: %w", dir, err)
	}

	var sources []Source
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".rs" {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".rs")
		if stem == moduleIndex {
			continue
		}
		code, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("device: read %s: %w", e.Name(), err)
		}
		sources = append(sources, Source{Name: CamelCase(stem), Code: code})
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	return sources, nil
}
