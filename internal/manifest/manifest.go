// Package manifest defines the compliance manifest produced by a firmware scan
// and reads and writes it as JSON.
//
// File layout (array of file reports):
//
//	[ { "file": "src/main.rs",
//	    "devices": [ { "name": "Light", "position": [12, 16],
//	                   "mandatoryActions": [...], "allowedHazards": [...] } ] } ]
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/SoftengPoliTo/hazard-analyzer/internal/hazard"
)

// ErrNotJSON is returned when the manifest output path has an extension
// other than .json.
var ErrNotJSON = errors.New("manifest: output path must be a json file")

// ---------------------------------------------------------------------------
// Data model
// ---------------------------------------------------------------------------

// Manifest is the ordered list of per-file reports.
type Manifest []FileReport

// FileReport lists the devices instantiated in one firmware file.
type FileReport struct {
	File    string   `json:"file"`
	Devices []Device `json:"devices"`
}

// Device is the compliance record of one device instantiation.
type Device struct {
	Name     string   `json:"name"`
	Position Position `json:"position"`

	MandatoryActions []MandatoryAction `json:"mandatoryActions"`

	// MissingMandatoryActions is only ever populated for method-style devices.
	// Constructor-style devices cannot omit an action, so theirs stays nil.
	MissingMandatoryActions []string `json:"missingMandatoryActions,omitempty"`

	OptionalActions []OptionalAction `json:"optionalActions,omitempty"`
	AllowedHazards  hazard.Set       `json:"allowedHazards"`
}

// MandatoryAction compares the hazards supplied for an action against the
// ones its contract requires and the device allows.
type MandatoryAction struct {
	Name              string     `json:"name"`
	Hazards           hazard.Set `json:"hazards"`
	MandatoryHazards  hazard.Set `json:"mandatoryHazards"`
	MissingHazards    hazard.Set `json:"missingHazards,omitempty"`
	NotAllowedHazards hazard.Set `json:"notAllowedHazards,omitempty"`
}

// OptionalAction is an action attached with add_action. It has no required
// hazards, so only the allowed check applies.
type OptionalAction struct {
	Name              string     `json:"name"`
	Hazards           hazard.Set `json:"hazards"`
	NotAllowedHazards hazard.Set `json:"notAllowedHazards,omitempty"`
}

// Position is a 0-based line and column, encoded as a two-element array.
type Position struct {
	Line   int
	Column int
}

// MarshalJSON encodes p as [line, column].
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.Line, p.Column})
}

// UnmarshalJSON decodes a [line, column] pair.
func (p *Position) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("manifest: position: want [line, column], got %d values", len(pair))
	}
	p.Line, p.Column = pair[0], pair[1]
	return nil
}

// Less orders positions by line, then column.
func (p Position) Less(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Column < o.Column
}

// String renders p as "(line, column)".
func (p Position) String() string {
	return fmt.Sprintf("(%d, %d)", p.Line, p.Column)
}

// Compliant reports whether the device has no finding at all.
func (d Device) Compliant() bool {
	if len(d.MissingMandatoryActions) > 0 {
		return false
	}
	for _, a := range d.MandatoryActions {
		if a.MissingHazards.Len() > 0 || a.NotAllowedHazards.Len() > 0 {
			return false
		}
	}
	for _, a := range d.OptionalActions {
		if a.NotAllowedHazards.Len() > 0 {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Ordering and summary
// ---------------------------------------------------------------------------

// Sort orders file reports by path and devices by position, then name.
func (m Manifest) Sort() {
	slices.SortFunc(m, func(a, b FileReport) int { return strings.Compare(a.File, b.File) })
	for i := range m {
		slices.SortStableFunc(m[i].Devices, func(a, b Device) int {
			switch {
			case a.Position.Less(b.Position):
				return -1
			case b.Position.Less(a.Position):
				return 1
			}
			return strings.Compare(a.Name, b.Name)
		})
	}
}

// Summary holds headline counts for a manifest.
type Summary struct {
	Files        int `yaml:"files"`
	Devices      int `yaml:"devices"`
	NonCompliant int `yaml:"nonCompliant"`
}

// Summary counts files, device instances and non-compliant instances.
func (m Manifest) Summary() Summary {
	var s Summary
	s.Files = len(m)
	for _, f := range m {
		for _, d := range f.Devices {
			s.Devices++
			if !d.Compliant() {
				s.NonCompliant++
			}
		}
	}
	return s
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

// CheckPath rejects output paths carrying an extension other than .json
// (case-insensitive). A path without an extension is accepted. It does not
// touch the filesystem.
func CheckPath(path string) error {
	if ext := filepath.Ext(path); ext != "" && !strings.EqualFold(ext, ".json") {
		return fmt.Errorf("%w: %q", ErrNotJSON, path)
	}
	return nil
}

// Write encodes m as indented JSON and replaces path atomically.
func Write(m Manifest, path string) error {
	if err := CheckPath(path); err != nil {
		return err
	}
	if m == nil {
		m = Manifest{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}
	data = append(data, '\n')
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("manifest: write %s: %w", path, err)
	}
	return nil
}

// Read decodes the manifest stored at path.
func Read(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode %s: %w", path, err)
	}
	return m, nil
}

// writeFileAtomic writes data to a sibling temp file, syncs it, then renames
// it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	return d.Sync()
}
