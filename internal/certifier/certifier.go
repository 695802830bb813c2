// Package certifier wires the extraction and scanning passes into a single
// certification run and exposes that run as the "hazard" plugin.
package certifier

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/SoftengPoliTo/hazard-analyzer/internal/ctxlog"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/device"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/firmware"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/framework"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/manifest"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/report"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/settings"
)

// Options configures one certification run.
type Options struct {
	// Firmware is a .rs file or a directory of firmware sources.
	Firmware string
	// Manifest is the output path; it must end in .json.
	Manifest string
	// Devices is a local devices directory. When empty the framework at
	// FrameworkURL (or framework.DefaultURL) is fetched and its devices used.
	Devices      string
	FrameworkURL string
	Workers      int
	// Quiet suppresses the terminal report.
	Quiet bool
	// Out receives the terminal report; nil means os.Stdout.
	Out   io.Writer
	Deny  firmware.Deny
	Cache *device.Cache
}

// FromSettings returns Options carrying the settings found under the
// firmware root. Relative device directories are resolved against root.
func FromSettings(s *settings.Settings, root string) Options {
	devices := s.Framework.Devices
	if devices != "" && !filepath.IsAbs(devices) {
		devices = filepath.Join(root, devices)
	}
	return Options{
		Devices:      devices,
		FrameworkURL: s.Framework.URL,
		Workers:      s.WorkerCount(),
		Deny:         s.IsDenied,
	}
}

// SettingsRoot returns the directory whose .ccertifier folder configures a
// run over firmware: the directory itself, or the parent of a single file.
func SettingsRoot(firmware string) string {
	if info, err := os.Stat(firmware); err == nil && !info.IsDir() {
		return filepath.Dir(firmware)
	}
	return firmware
}

// Analyze certifies the firmware against the device contracts and writes the
// manifest. Nothing is written when any step fails.
func Analyze(ctx context.Context, opts Options) (manifest.Manifest, error) {
	if err := manifest.CheckPath(opts.Manifest); err != nil {
		return nil, err
	}

	devicesDir, err := ResolveDevices(ctx, opts.Devices, opts.FrameworkURL)
	if err != nil {
		return nil, err
	}
	contracts, err := Contracts(ctx, devicesDir, opts.Workers, opts.Cache)
	if err != nil {
		return nil, err
	}

	sources, err := firmware.LoadSources(opts.Firmware, opts.Deny)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("firmware loaded", "path", opts.Firmware, "files", len(sources))

	m, err := firmware.Scanner{Contracts: contracts, Workers: opts.Workers}.Run(ctx, sources)
	if err != nil {
		return nil, err
	}

	if !opts.Quiet {
		out := opts.Out
		if out == nil {
			out = os.Stdout
		}
		if err := report.Print(out, m); err != nil {
			return nil, fmt.Errorf("certifier: print report: %w", err)
		}
	}

	if err := manifest.Write(m, opts.Manifest); err != nil {
		return nil, err
	}
	return m, nil
}

// Contracts extracts the contract of every device source in devicesDir.
func Contracts(ctx context.Context, devicesDir string, workers int, cache *device.Cache) ([]device.Contract, error) {
	sources, err := device.LoadSources(devicesDir)
	if err != nil {
		return nil, err
	}
	return device.Extractor{Workers: workers, Cache: cache}.Run(ctx, sources)
}

// ResolveDevices returns devices when set, otherwise the devices directory of
// a fresh checkout of the framework at url.
func ResolveDevices(ctx context.Context, devices, url string) (string, error) {
	if devices != "" {
		return devices, nil
	}
	if url == "" {
		url = framework.DefaultURL
	}
	dest := framework.CacheDir(url)
	log := ctxlog.FromContext(ctx)
	log.Info("fetching framework", "url", url, "dest", dest)
	if err := framework.Fetch(ctx, url, dest); err != nil {
		return "", err
	}
	if rev, err := framework.Revision(ctx, dest); err == nil {
		log.Info("framework ready", "revision", rev)
	}
	return framework.DevicesDir(dest), nil
}
