// Package container manages the ~/.ccertifier/ directory hierarchy, where
// firmware projects are registered for repeated certification.
//
// Directory layout:
//
//	~/.ccertifier/<container>/
//	    <project>.yaml           # project config: certifier name -> key/value map
//	    <project>/<certifier>/   # manifest.json and report.md of the last run
package container

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Container is a named directory of projects (~/.ccertifier/<name>/).
type Container struct {
	Name string
	Dir  string
}

// ProjectConfig stores per-certifier configuration for a project.
// Keys are certifier names; values are config key/value maps.
type ProjectConfig struct {
	Certifiers map[string]map[string]string `yaml:"certifiers"`
}

// baseDir returns ~/.ccertifier.
func baseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("container: home dir: %w", err)
	}
	return filepath.Join(home, ".ccertifier"), nil
}

// Init creates ~/.ccertifier/<name>/ and errors if it already exists.
func Init(name string) (*Container, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	base, err := baseDir()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(base, name)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("container: %q already exists at %s", name, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("container: create %q: %w", name, err)
	}
	return &Container{Name: name, Dir: dir}, nil
}

// Open opens an existing container directory.
func Open(name string) (*Container, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	base, err := baseDir()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(base, name)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("container: %q not found (run 'ccertifier init %s' first)", name, name)
	}
	return &Container{Name: name, Dir: dir}, nil
}

// validName rejects names that would escape the base directory.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("container: invalid name %q", name)
	}
	return nil
}

func (c *Container) projectPath(name string) string {
	return filepath.Join(c.Dir, name+".yaml")
}

// OutputDir is where a certifier writes its results for a project.
func (c *Container) OutputDir(project, certifier string) string {
	return filepath.Join(c.Dir, project, certifier)
}

// AddProject writes a project config file. Errors if it already exists.
func (c *Container) AddProject(name string, config ProjectConfig) error {
	if err := validName(name); err != nil {
		return err
	}
	path := c.projectPath(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("container: project %q already exists in %q", name, c.Name)
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("container: marshal project %q: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("container: write project %q: %w", name, err)
	}
	return nil
}

// LoadProject reads and parses a project config file.
func (c *Container) LoadProject(name string) (*ProjectConfig, error) {
	data, err := os.ReadFile(c.projectPath(name))
	if err != nil {
		return nil, fmt.Errorf("container: read project %q: %w", name, err)
	}
	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("container: parse project %q: %w", name, err)
	}
	return &cfg, nil
}

// ListProjects returns project names derived from *.yaml files, sorted.
func (c *Container) ListProjects() ([]string, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil, fmt.Errorf("container: read %s: %w", c.Dir, err)
	}
	var projects []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(e.Name(), ".yaml"); ok {
			projects = append(projects, name)
		}
	}
	sort.Strings(projects)
	return projects, nil
}

// RemoveProject removes a project's config file and its results.
func (c *Container) RemoveProject(name string) error {
	path := c.projectPath(name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("container: project %q not found in %q", name, c.Name)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("container: remove project %q: %w", name, err)
	}
	if err := os.RemoveAll(filepath.Join(c.Dir, name)); err != nil {
		return fmt.Errorf("container: remove results of %q: %w", name, err)
	}
	return nil
}

// List returns the names of all containers under ~/.ccertifier/, sorted.
func List() ([]string, error) {
	base, err := baseDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("container: read %s: %w", base, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes a container and all its contents.
func Remove(name string) error {
	c, err := Open(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(c.Dir); err != nil {
		return fmt.Errorf("container: remove %q: %w", name, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

// Export writes a flattened copy of the container's results into
// dst/<container>-certification/ for handing to a reviewer. Project config
// files are excluded; each <project>/<certifier>/ directory becomes
// <project>-<certifier>/. description is written to index.md. Errors if the
// target directory already exists. Returns the target directory.
func (c *Container) Export(dst, description string) (string, error) {
	target := filepath.Join(dst, c.Name+"-certification")
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("container: export target %q already exists", target)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("container: create export dir: %w", err)
	}

	projects, err := c.ListProjects()
	if err != nil {
		return "", err
	}
	for _, proj := range projects {
		entries, err := os.ReadDir(filepath.Join(c.Dir, proj))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("container: read results of %q: %w", proj, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			flat := proj + "-" + e.Name()
			if err := copyDir(filepath.Join(c.Dir, proj, e.Name()), filepath.Join(target, flat)); err != nil {
				return "", fmt.Errorf("container: copy %s: %w", flat, err)
			}
		}
	}

	if err := os.WriteFile(filepath.Join(target, "index.md"), []byte(description), 0o644); err != nil {
		return "", fmt.Errorf("container: write index.md: %w", err)
	}
	return target, nil
}

// copyDir recursively copies src to dst.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

// copyFile copies a single file from src to dst, preserving permissions.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
