package firmware

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/tools/txtar"

	"github.com/SoftengPoliTo/hazard-analyzer/internal/device"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/hazard"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/manifest"
)

// unpack writes testdata/firmwares.txtar into a fresh directory.
func unpack(t *testing.T) string {
	t.Helper()
	ar, err := txtar.ParseFile(filepath.Join("testdata", "firmwares.txtar"))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	dir := t.TempDir()
	for _, f := range ar.Files {
		p := filepath.Join(dir, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(p, f.Data, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	return dir
}

func contracts() []device.Contract {
	return []device.Contract{
		{
			Name: "MethodsDevice",
			Mandatory: device.Mandatory{Style: device.Named, Actions: []device.Action{
				{Name: "first_action", RequiredHazards: hazard.New("PowerOutage")},
				{Name: "second_action", RequiredHazards: hazard.New("FireHazard", "SpoiledFood")},
				{Name: "third_action", RequiredHazards: hazard.New()},
			}},
			AllowedHazards: hazard.New("FireHazard", "SpoiledFood", "PowerOutage"),
		},
		{
			Name: "NewDevice",
			Mandatory: device.Mandatory{Style: device.Positional, Actions: []device.Action{
				{Name: "first_action", RequiredHazards: hazard.New("FireHazard")},
				{Name: "second_action", RequiredHazards: hazard.New("FireHazard", "ElectricEnergyConsumption")},
				{Name: "third_action", RequiredHazards: hazard.New()},
			}},
			AllowedHazards: hazard.New("FireHazard", "ElectricEnergyConsumption"),
		},
	}
}

func scanOne(t *testing.T, dir, name string) manifest.FileReport {
	t.Helper()
	path := filepath.Join(dir, name)
	code, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	rep, ok, err := ScanFile(context.Background(), Source{Path: path, Code: code}, contracts())
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if !ok {
		t.Fatalf("ScanFile(%s) found no device", name)
	}
	return rep
}

func action(name string, supplied, required, missing, notAllowed []string) manifest.MandatoryAction {
	a := manifest.MandatoryAction{
		Name:             name,
		Hazards:          hazard.New(supplied...),
		MandatoryHazards: hazard.New(required...),
	}
	if len(missing) > 0 {
		a.MissingHazards = hazard.New(missing...)
	}
	if len(notAllowed) > 0 {
		a.NotAllowedHazards = hazard.New(notAllowed...)
	}
	return a
}

func optional(notAllowed ...string) []manifest.OptionalAction {
	o := manifest.OptionalAction{Name: "optional_action", Hazards: hazard.New(notAllowed...)}
	if len(notAllowed) > 0 {
		o.NotAllowedHazards = hazard.New(notAllowed...)
	}
	return []manifest.OptionalAction{o}
}

var (
	fire        = "FireHazard"
	energy      = "ElectricEnergyConsumption"
	outage      = "PowerOutage"
	spoiled     = "SpoiledFood"
	surge       = "PowerSurge"
	newAllowed  = hazard.New(fire, energy)
	methAllowed = hazard.New(fire, spoiled, outage)
)

// ---------------------------------------------------------------------------
// Per-file expectations
// ---------------------------------------------------------------------------

func TestScanFile(t *testing.T) {
	dir := unpack(t)
	tests := []struct {
		file string
		want []manifest.Device
	}{
		{
			file: "with_new_device.rs",
			want: []manifest.Device{{
				Name:     "NewDevice",
				Position: manifest.Position{Line: 2, Column: 17},
				MandatoryActions: []manifest.MandatoryAction{
					action("first_action", []string{fire}, []string{fire}, nil, nil),
					action("second_action", []string{energy, fire}, []string{fire, energy}, nil, nil),
					action("third_action", nil, nil, nil, nil),
				},
				OptionalActions: optional(),
				AllowedHazards:  newAllowed,
			}},
		},
		{
			file: "with_methods_device.rs",
			want: []manifest.Device{{
				Name:     "MethodsDevice",
				Position: manifest.Position{Line: 2, Column: 17},
				MandatoryActions: []manifest.MandatoryAction{
					action("first_action", []string{outage}, []string{outage}, nil, nil),
					action("second_action", []string{fire, spoiled}, []string{fire, spoiled}, nil, nil),
					action("third_action", nil, nil, nil, nil),
				},
				MissingMandatoryActions: []string{},
				OptionalActions:         optional(),
				AllowedHazards:          methAllowed,
			}},
		},
		{
			file: "with_not_allowed_hazards.rs",
			want: []manifest.Device{
				{
					Name:     "MethodsDevice",
					Position: manifest.Position{Line: 15, Column: 17},
					MandatoryActions: []manifest.MandatoryAction{
						action("first_action", []string{outage}, []string{outage}, nil, nil),
						action("second_action", []string{fire, spoiled, energy}, []string{fire, spoiled}, nil, []string{energy}),
						action("third_action", nil, nil, nil, nil),
					},
					MissingMandatoryActions: []string{},
					OptionalActions:         optional(energy),
					AllowedHazards:          methAllowed,
				},
				{
					Name:     "NewDevice",
					Position: manifest.Position{Line: 2, Column: 17},
					MandatoryActions: []manifest.MandatoryAction{
						action("first_action", []string{fire}, []string{fire}, nil, nil),
						action("second_action", []string{energy, fire, surge}, []string{fire, energy}, nil, []string{surge}),
						action("third_action", nil, nil, nil, nil),
					},
					OptionalActions: optional(surge, outage),
					AllowedHazards:  newAllowed,
				},
			},
		},
		{
			file: "without_mandatory_actions.rs",
			want: []manifest.Device{{
				Name:     "MethodsDevice",
				Position: manifest.Position{Line: 2, Column: 17},
				MandatoryActions: []manifest.MandatoryAction{
					action("first_action", []string{outage}, []string{outage}, nil, nil),
				},
				MissingMandatoryActions: []string{"second_action", "third_action"},
				OptionalActions:         optional(),
				AllowedHazards:          methAllowed,
			}},
		},
		{
			file: "without_mandatory_hazards.rs",
			want: []manifest.Device{
				{
					Name:     "MethodsDevice",
					Position: manifest.Position{Line: 15, Column: 17},
					MandatoryActions: []manifest.MandatoryAction{
						action("first_action", nil, []string{outage}, []string{outage}, nil),
						action("second_action", nil, []string{fire, spoiled}, []string{fire, spoiled}, nil),
						action("third_action", nil, nil, nil, nil),
					},
					MissingMandatoryActions: []string{},
					OptionalActions:         optional(),
					AllowedHazards:          methAllowed,
				},
				{
					Name:     "NewDevice",
					Position: manifest.Position{Line: 2, Column: 17},
					MandatoryActions: []manifest.MandatoryAction{
						action("first_action", nil, []string{fire}, []string{fire}, nil),
						action("second_action", nil, []string{fire, energy}, []string{fire, energy}, nil),
						action("third_action", nil, nil, nil, nil),
					},
					OptionalActions: optional(),
					AllowedHazards:  newAllowed,
				},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.file, func(t *testing.T) {
			rep := scanOne(t, dir, tc.file)
			if rep.File != filepath.Join(dir, tc.file) {
				t.Errorf("file = %s", rep.File)
			}
			// ScanFile reports devices in contract order; the manifest sorts later.
			if diff := cmp.Diff(tc.want, rep.Devices); diff != "" {
				t.Errorf("devices mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPositionalRecordsNeverCarryMissingActions(t *testing.T) {
	dir := unpack(t)
	for _, name := range []string{"with_new_device.rs", "without_mandatory_hazards.rs", "with_not_allowed_hazards.rs"} {
		for _, d := range scanOne(t, dir, name).Devices {
			if d.Name == "NewDevice" && d.MissingMandatoryActions != nil {
				t.Errorf("%s: positional record has missing actions %v", name, d.MissingMandatoryActions)
			}
		}
	}
}

func TestOptionalActionNameIsSecondArgument(t *testing.T) {
	rep := scanOne(t, unpack(t), "with_not_allowed_hazards.rs")
	for _, d := range rep.Devices {
		for _, o := range d.OptionalActions {
			if o.Name != "optional_action" {
				t.Errorf("optional name = %q", o.Name)
			}
		}
	}
}

func TestScanFileWithoutDevices(t *testing.T) {
	src := Source{Path: "util.rs", Code: []byte("fn main() { let x = Other::new(1); }")}
	_, ok, err := ScanFile(context.Background(), src, contracts())
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if ok {
		t.Error("file without device instantiations must produce no report")
	}
}

// ---------------------------------------------------------------------------
// Check on synthetic instances (Scenarios C and D)
// ---------------------------------------------------------------------------

func TestCheckPositionalScenario(t *testing.T) {
	c := device.Contract{
		Name: "P",
		Mandatory: device.Mandatory{Style: device.Positional, Actions: []device.Action{
			{Name: "a", RequiredHazards: hazard.New("H1")},
			{Name: "b", RequiredHazards: hazard.New()},
		}},
		AllowedHazards: hazard.New("H1", "H2"),
	}
	inst := Instance{Device: "P", Text: "P::new(x(c1, a, Hazard::H1), y(c2, b, Hazard::H3))?.build()"}

	rec, ok := Check(inst, c)
	if !ok {
		t.Fatal("instance dropped")
	}
	want := []manifest.MandatoryAction{
		action("a", []string{"H1"}, []string{"H1"}, nil, nil),
		action("b", []string{"H3"}, nil, nil, []string{"H3"}),
	}
	if diff := cmp.Diff(want, rec.MandatoryActions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
	if rec.MissingMandatoryActions != nil {
		t.Errorf("missing actions = %v, want nil", rec.MissingMandatoryActions)
	}
}

func TestCheckNamedScenario(t *testing.T) {
	c := device.Contract{
		Name: "M",
		Mandatory: device.Mandatory{Style: device.Named, Actions: []device.Action{
			{Name: "on", RequiredHazards: hazard.New("H1")},
			{Name: "off", RequiredHazards: hazard.New()},
		}},
		AllowedHazards: hazard.New("H1"),
	}
	inst := Instance{Device: "M", Text: "M::new().on(x(c, on, Hazard::H1))?.build()"}

	rec, ok := Check(inst, c)
	if !ok {
		t.Fatal("instance dropped")
	}
	if !slices.Equal(rec.MissingMandatoryActions, []string{"off"}) {
		t.Errorf("missing = %v, want [off]", rec.MissingMandatoryActions)
	}
	if len(rec.MandatoryActions) != 1 || rec.MandatoryActions[0].Name != "on" {
		t.Errorf("actions = %+v", rec.MandatoryActions)
	}
	if rec.Compliant() {
		t.Error("missing mandatory action must make the device non-compliant")
	}
}

func TestCheckDropsUncapturedConstructor(t *testing.T) {
	c := contracts()[1]
	inst := Instance{Device: "NewDevice", Text: "NewDevice::new(a, b)"}
	if _, ok := Check(inst, c); ok {
		t.Error("constructor without a following method call should be dropped")
	}
}

func TestOptionalWithoutInnerCallIsSkipped(t *testing.T) {
	c := contracts()[0]
	inst := Instance{Device: "MethodsDevice", Text: "MethodsDevice::new().add_action(raw)?.add_action(DeviceAction::no_hazards(cfg, extra))?.build()"}
	rec, _ := Check(inst, c)
	if len(rec.OptionalActions) != 1 || rec.OptionalActions[0].Name != "extra" {
		t.Errorf("optional actions = %+v", rec.OptionalActions)
	}
}

// ---------------------------------------------------------------------------
// Sources and scanner
// ---------------------------------------------------------------------------

func TestLoadSourcesDirectory(t *testing.T) {
	dir := unpack(t)
	deny := func(rel string) bool { return strings.HasPrefix(rel, "nested/") }

	sources, err := LoadSources(dir, deny)
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	var got []string
	for _, s := range sources {
		rel, _ := filepath.Rel(dir, s.Path)
		got = append(got, filepath.ToSlash(rel))
	}
	want := []string{
		"with_methods_device.rs",
		"with_new_device.rs",
		"with_not_allowed_hazards.rs",
		"without_mandatory_actions.rs",
		"without_mandatory_hazards.rs",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSourcesSingleFile(t *testing.T) {
	dir := unpack(t)

	sources, err := LoadSources(filepath.Join(dir, "with_new_device.rs"), nil)
	if err != nil || len(sources) != 1 {
		t.Fatalf("LoadSources(.rs) = %d sources, %v", len(sources), err)
	}
	sources, err = LoadSources(filepath.Join(dir, "nested", "not_rust.txt"), nil)
	if err != nil || len(sources) != 0 {
		t.Fatalf("LoadSources(.txt) = %d sources, %v", len(sources), err)
	}
	if _, err := LoadSources(filepath.Join(dir, "missing.rs"), nil); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestScannerRunIsReproducible(t *testing.T) {
	dir := unpack(t)
	sources, err := LoadSources(dir, nil)
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}

	var first manifest.Manifest
	for _, workers := range []int{1, 3, 16} {
		m, err := Scanner{Contracts: contracts(), Workers: workers}.Run(context.Background(), sources)
		if err != nil {
			t.Fatalf("Run(W=%d): %v", workers, err)
		}
		if len(m) != 5 {
			t.Fatalf("W=%d: %d file reports, want 5 (util.rs has no device)", workers, len(m))
		}
		if first == nil {
			first = m
			continue
		}
		if diff := cmp.Diff(first, m); diff != "" {
			t.Errorf("W=%d differs from W=1 (-first +got):\n%s", workers, diff)
		}
	}

	// Sorted: NewDevice (line 2) precedes MethodsDevice (line 15).
	for _, f := range first {
		if strings.HasSuffix(f.File, "with_not_allowed_hazards.rs") {
			if f.Devices[0].Name != "NewDevice" {
				t.Errorf("devices not sorted by position: first is %s", f.Devices[0].Name)
			}
		}
	}
	if s := first.Summary(); s.Devices != 7 || s.NonCompliant != 5 {
		t.Errorf("summary = %+v, want 7 devices, 5 non-compliant", s)
	}
}

func TestScannerRunNoContracts(t *testing.T) {
	dir := unpack(t)
	sources, err := LoadSources(dir, nil)
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	m, err := Scanner{Workers: 2}.Run(context.Background(), sources)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m == nil || len(m) != 0 {
		t.Errorf("manifest = %v, want empty non-nil", m)
	}
}
