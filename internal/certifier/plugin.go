package certifier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/SoftengPoliTo/hazard-analyzer/internal/device"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/plugin"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/report"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/settings"
)

//go:embed schema.md
var schemaDoc []byte

// Output file names inside a plugin output directory.
const (
	ManifestFile = "manifest.json"
	ReportFile   = "report.md"
	SchemaFile   = "schema.md"
)

// Plugin implements plugin.Certifier for Ascot firmware projects.
type Plugin struct {
	// Cache is shared across projects so common devices are parsed once.
	Cache *device.Cache
}

var _ plugin.Certifier = (*Plugin)(nil)

func (p *Plugin) Name() string { return "hazard" }

func (p *Plugin) Configure() ([]plugin.ConfigQuestion, error) {
	return []plugin.ConfigQuestion{
		{Key: "firmware", Prompt: "Firmware path (.rs file or directory)", Type: "text"},
		{Key: "devices", Prompt: "Devices directory (empty to fetch the framework)", Type: "text", Optional: true},
	}, nil
}

// Analyze certifies the configured firmware and writes manifest.json,
// report.md and schema.md into outputDir. Settings are read from the
// firmware's .ccertifier directory; a configured devices directory wins.
func (p *Plugin) Analyze(ctx context.Context, config map[string]string, outputDir string) error {
	questions, _ := p.Configure()
	if missing := plugin.Missing(questions, config); len(missing) > 0 {
		return fmt.Errorf("hazard: missing required config keys %v", missing)
	}
	fw := config["firmware"]

	root := SettingsRoot(fw)
	s, err := settings.Load(root)
	if err != nil {
		return fmt.Errorf("hazard: %w", err)
	}
	opts := FromSettings(s, root)
	if d := config["devices"]; d != "" {
		opts.Devices = d
	}
	opts.Firmware = fw
	opts.Manifest = filepath.Join(outputDir, ManifestFile)
	opts.Quiet = true
	opts.Cache = p.Cache

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("hazard: create output dir: %w", err)
	}
	m, err := Analyze(ctx, opts)
	if err != nil {
		return fmt.Errorf("hazard: %w", err)
	}

	md, err := report.Markdown(m)
	if err != nil {
		return fmt.Errorf("hazard: render report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, ReportFile), md, 0o644); err != nil {
		return fmt.Errorf("hazard: write report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, SchemaFile), schemaDoc, 0o644); err != nil {
		return fmt.Errorf("hazard: write schema: %w", err)
	}
	return nil
}
