// Package settings loads certifier configuration from
// <firmware root>/.ccertifier/settings.yaml, a .env file next to it, and the
// process environment, in increasing order of precedence.
//
// The deny list mirrors a permission model: glob patterns naming firmware
// files the scan must not read. Patterns may be bare globs ("examples/**") or
// wrapped in a Read() verb ("Read(./examples/**)").
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/SoftengPoliTo/hazard-analyzer/internal/pipeline"
)

// Dir is the per-firmware settings directory.
const Dir = ".ccertifier"

// Environment variables that override the settings file.
const (
	EnvWorkers      = "CCERTIFIER_WORKERS"
	EnvFrameworkURL = "CCERTIFIER_FRAMEWORK_URL"
	EnvLogLevel     = "CCERTIFIER_LOG_LEVEL"
	EnvLogFormat    = "CCERTIFIER_LOG_FORMAT"
)

// Settings holds certifier configuration.
type Settings struct {
	// Workers bounds each pipeline's goroutines. Zero picks a default from
	// the CPU count.
	Workers     int         `yaml:"workers"`
	Framework   Framework   `yaml:"framework"`
	Permissions Permissions `yaml:"permissions"`
	Log         Log         `yaml:"log"`
}

// Framework locates the device sources contracts are extracted from.
type Framework struct {
	// URL is the framework repository cloned when Devices is empty.
	URL string `yaml:"url"`
	// Devices is a local devices directory; it wins over URL.
	Devices string `yaml:"devices"`
}

// Permissions controls which firmware files are read.
type Permissions struct {
	// Deny is a list of glob patterns, relative to the firmware root.
	// Example: ["Read(./examples/**)", "build.rs"]
	Deny []string `yaml:"deny"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the settings used when nothing is configured.
func Default() *Settings {
	return &Settings{
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads root/.ccertifier/settings.yaml and applies environment
// overrides, consulting root/.ccertifier/.env for variables the process
// environment does not set. Missing files are not an error.
func Load(root string) (*Settings, error) {
	s := Default()

	path := filepath.Join(root, Dir, "settings.yaml")
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("settings: unmarshal %s: %w", path, err)
		}
	}

	dotenv := map[string]string{}
	envPath := filepath.Join(root, Dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		dotenv, err = godotenv.Read(envPath)
		if err != nil {
			return nil, fmt.Errorf("settings: read %s: %w", envPath, err)
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := s.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	return s, nil
}

// ApplyEnv overrides fields from the variables lookup finds. Empty values
// are ignored.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	if v := get(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("settings: %s: invalid worker count %q", EnvWorkers, v)
		}
		s.Workers = n
	}
	if v := get(EnvFrameworkURL); v != "" {
		s.Framework.URL = v
	}
	if v := get(EnvLogLevel); v != "" {
		s.Log.Level = v
	}
	if v := get(EnvLogFormat); v != "" {
		s.Log.Format = v
	}
	return nil
}

// WorkerCount returns the configured worker count or the CPU-based default.
func (s *Settings) WorkerCount() int {
	if s == nil || s.Workers <= 0 {
		return pipeline.DefaultWorkers()
	}
	return s.Workers
}

// IsDenied reports whether relPath (forward-slash, relative to the firmware
// root) matches any deny rule. Safe to call on a nil *Settings receiver.
func (s *Settings) IsDenied(relPath string) bool {
	if s == nil {
		return false
	}
	for _, rule := range s.Permissions.Deny {
		if matchDenyPattern(parseDenyRule(rule), relPath) {
			return true
		}
	}
	return false
}

// parseDenyRule extracts the path glob from a deny rule.
//
//	"Read(./examples/**)" → "examples/**"
//	"examples/**"         → "examples/**"
func parseDenyRule(rule string) string {
	if strings.HasPrefix(rule, "Read(") && strings.HasSuffix(rule, ")") {
		rule = rule[5 : len(rule)-1]
	}
	return strings.TrimPrefix(rule, "./")
}

// matchDenyPattern reports whether path matches a deny glob pattern.
//
// "prefix/**" matches the prefix directory itself and every path beneath it;
// "**/name" matches name at any depth. All other patterns use filepath.Match
// semantics (single * does not cross /).
func matchDenyPattern(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		for p := path; ; {
			if matched, _ := filepath.Match(rest, p); matched {
				return true
			}
			i := strings.IndexByte(p, '/')
			if i < 0 {
				return false
			}
			p = p[i+1:]
		}
	}
	matched, _ := filepath.Match(pattern, path)
	return matched
}
