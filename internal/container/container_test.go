package container_test

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/SoftengPoliTo/hazard-analyzer/internal/container"
)

// withTempHome redirects os.UserHomeDir to a temp directory for the duration of the test.
func withTempHome(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	return tmp
}

func TestInitAndOpen(t *testing.T) {
	tmp := withTempHome(t)

	created, err := container.Init("lab")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	dir := filepath.Join(tmp, ".ccertifier", "lab")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("container dir not created: %v", err)
	}
	if created.Dir != dir {
		t.Errorf("Init Dir = %s, want %s", created.Dir, dir)
	}

	if _, err := container.Init("lab"); err == nil {
		t.Fatal("expected error on duplicate Init")
	}

	c, err := container.Open("lab")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c.Dir != dir || c.Name != "lab" {
		t.Errorf("Open = %+v", c)
	}
}

func TestInvalidNames(t *testing.T) {
	withTempHome(t)
	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		if _, err := container.Init(name); err == nil {
			t.Errorf("Init(%q) should fail", name)
		}
	}
}

func TestOpenMissing(t *testing.T) {
	withTempHome(t)
	if _, err := container.Open("notexist"); err == nil {
		t.Fatal("expected error for missing container")
	}
}

func TestAddProjectAndLoad(t *testing.T) {
	withTempHome(t)
	c, err := container.Init("c")
	if err != nil {
		t.Fatal(err)
	}

	cfg := container.ProjectConfig{
		Certifiers: map[string]map[string]string{
			"hazard": {"firmware": "/src/fw", "devices": ""},
		},
	}
	if err := c.AddProject("lamp", cfg); err != nil {
		t.Fatalf("AddProject: %v", err)
	}
	if err := c.AddProject("lamp", cfg); err == nil {
		t.Fatal("expected error on duplicate AddProject")
	}

	got, err := c.LoadProject("lamp")
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if got.Certifiers["hazard"]["firmware"] != "/src/fw" {
		t.Errorf("unexpected config: %+v", got)
	}
}

func TestListAndRemoveProjects(t *testing.T) {
	withTempHome(t)
	c, err := container.Init("c")
	if err != nil {
		t.Fatal(err)
	}

	names, err := c.ListProjects()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Fatalf("expected 0 projects, got %d", len(names))
	}

	empty := container.ProjectConfig{Certifiers: map[string]map[string]string{}}
	for _, p := range []string{"beta", "alpha"} {
		if err := c.AddProject(p, empty); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(c.OutputDir("alpha", "hazard"), 0o755); err != nil {
		t.Fatal(err)
	}

	names, err = c.ListProjects()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(names, []string{"alpha", "beta"}) {
		t.Fatalf("projects = %v, want [alpha beta]", names)
	}

	if err := c.RemoveProject("alpha"); err != nil {
		t.Fatalf("RemoveProject: %v", err)
	}
	if _, err := os.Stat(filepath.Join(c.Dir, "alpha")); !os.IsNotExist(err) {
		t.Errorf("results dir should be gone, stat err = %v", err)
	}
	if err := c.RemoveProject("alpha"); err == nil {
		t.Error("expected error removing a missing project")
	}
}

func TestListAndRemoveContainers(t *testing.T) {
	withTempHome(t)

	names, err := container.List()
	if err != nil || names != nil {
		t.Fatalf("List before any init = %v, %v", names, err)
	}
	for _, n := range []string{"zeta", "alpha"} {
		if _, err := container.Init(n); err != nil {
			t.Fatal(err)
		}
	}
	names, err = container.List()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(names, []string{"alpha", "zeta"}) {
		t.Errorf("containers = %v", names)
	}

	if err := container.Remove("zeta"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := container.Remove("zeta"); err == nil {
		t.Error("expected error removing a missing container")
	}
}

func TestExport(t *testing.T) {
	withTempHome(t)
	c, err := container.Init("lab")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddProject("lamp", container.ProjectConfig{}); err != nil {
		t.Fatal(err)
	}
	out := c.OutputDir("lamp", "hazard")
	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(out, "manifest.json"), []byte("[]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	target, err := c.Export(dst, "# Lab certification\n")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if target != filepath.Join(dst, "lab-certification") {
		t.Errorf("target = %s", target)
	}
	data, err := os.ReadFile(filepath.Join(target, "lamp-hazard", "manifest.json"))
	if err != nil || string(data) != "[]\n" {
		t.Errorf("exported manifest = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(target, "lamp.yaml")); !os.IsNotExist(err) {
		t.Error("project config must not be exported")
	}
	index, err := os.ReadFile(filepath.Join(target, "index.md"))
	if err != nil || string(index) != "# Lab certification\n" {
		t.Errorf("index.md = %q, %v", index, err)
	}

	if _, err := c.Export(dst, "again"); err == nil {
		t.Error("expected error when export target exists")
	}
}
