// Package firmware scans firmware sources for device instantiations and
// checks each one against its device's hazard contract.
//
// An instantiation is the outermost call expression mentioning Name::new,
// typically a whole builder chain:
//
//	let light = Light::new(
//	    DeviceAction::with_hazard(on_cfg, turn_on, Hazard::FireHazard),
//	)?
//	.add_action(DeviceAction::no_hazards(toggle_cfg, toggle))?
//	.build();
//
// The chain's text is then matched with regular expressions: constructor
// arguments for positional devices, builder method calls for named ones and
// add_action calls for optional actions.
package firmware

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/SoftengPoliTo/hazard-analyzer/internal/ctxlog"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/device"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/hazard"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/manifest"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/pipeline"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/syntax"
)

// optionalMethod attaches an action that no contract requires.
const optionalMethod = "add_action"

var (
	// argsRe captures the text between a "(" and the first ")" after it.
	argsRe = regexp.MustCompile(`(?s)\((.*?)\)`)
	// optionalRe captures the arguments of every add_action call.
	optionalRe = methodRe(optionalMethod)
)

// methodRe matches a call "name(args)" followed by "." or "?." and captures
// args up to the first ")" that satisfies the follow-up. Nested parentheses
// are not balanced.
func methodRe(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)` + regexp.QuoteMeta(name) + `\((.*?)\)\s*\??\s*\.`)
}

// Instance is one instantiation of a device found in a firmware file.
type Instance struct {
	Device   string
	Position manifest.Position
	Text     string
}

// Instances returns the instantiations of the named device under root.
func Instances(root syntax.Node, name string) []Instance {
	needle := name + "::new"
	calls := root.AllOccurrences(func(n syntax.Node) bool {
		return n.Kind() == syntax.KindCallExpression &&
			strings.Contains(n.Text(), needle) &&
			!n.HasAncestor(syntax.OfKind(syntax.KindCallExpression))
	})
	out := make([]Instance, 0, len(calls))
	for _, c := range calls {
		p := c.StartPosition()
		out = append(out, Instance{
			Device:   name,
			Position: manifest.Position{Line: p.Line, Column: p.Column},
			Text:     c.Text(),
		})
	}
	return out
}

// ---------------------------------------------------------------------------
// Per-file scan
// ---------------------------------------------------------------------------

// ScanFile checks every instantiation of every contracted device in src.
// ok is false when the file instantiates no device.
func ScanFile(ctx context.Context, src Source, contracts []device.Contract) (manifest.FileReport, bool, error) {
	tree, err := syntax.Parse(ctx, src.Code)
	if err != nil {
		return manifest.FileReport{}, false, fmt.Errorf("firmware: scan %s: %w", src.Path, err)
	}
	root := tree.Root()
	log := ctxlog.FromContext(ctx)

	var devices []manifest.Device
	for _, c := range contracts {
		for _, inst := range Instances(root, c.Name) {
			rec, ok := Check(inst, c)
			if !ok {
				log.Warn("constructor arguments not found, instance dropped",
					"file", src.Path, "device", c.Name, "position", inst.Position.String())
				continue
			}
			devices = append(devices, rec)
		}
	}
	if len(devices) == 0 {
		return manifest.FileReport{}, false, nil
	}
	return manifest.FileReport{File: src.Path, Devices: devices}, true, nil
}

// Check builds the compliance record of one instance against its contract.
// ok is false for a positional device whose constructor call cannot be
// captured.
func Check(inst Instance, c device.Contract) (manifest.Device, bool) {
	rec := manifest.Device{
		Name:             c.Name,
		Position:         inst.Position,
		MandatoryActions: []manifest.MandatoryAction{},
		AllowedHazards:   c.AllowedHazards,
	}

	switch c.Mandatory.Style {
	case device.Positional:
		m := methodRe(c.Name + "::new").FindStringSubmatch(inst.Text)
		if m == nil {
			return manifest.Device{}, false
		}
		for i, arg := range argsRe.FindAllStringSubmatch(m[1], -1) {
			if i >= len(c.Mandatory.Actions) {
				break
			}
			rec.MandatoryActions = append(rec.MandatoryActions,
				mandatoryAction(c.Mandatory.Actions[i], arg[1], c.AllowedHazards))
		}

	case device.Named:
		rec.MissingMandatoryActions = []string{}
		for _, a := range c.Mandatory.Actions {
			m := methodRe(a.Name).FindStringSubmatch(inst.Text)
			if m == nil {
				rec.MissingMandatoryActions = append(rec.MissingMandatoryActions, a.Name)
				continue
			}
			rec.MandatoryActions = append(rec.MandatoryActions,
				mandatoryAction(a, m[1], c.AllowedHazards))
		}
	}

	rec.OptionalActions = optionalActions(inst.Text, c.AllowedHazards)
	return rec, true
}

func mandatoryAction(a device.Action, args string, allowed hazard.Set) manifest.MandatoryAction {
	supplied := hazard.FromText(args)
	return manifest.MandatoryAction{
		Name:              a.Name,
		Hazards:           supplied,
		MandatoryHazards:  a.RequiredHazards,
		MissingHazards:    a.RequiredHazards.Difference(supplied),
		NotAllowedHazards: supplied.Difference(allowed),
	}
}

// optionalActions reads every add_action call. The action name is the second
// argument of the first inner call, e.g. "toggle" in
// add_action(DeviceAction::no_hazards(toggle_config, toggle)).
func optionalActions(text string, allowed hazard.Set) []manifest.OptionalAction {
	var out []manifest.OptionalAction
	for _, m := range optionalRe.FindAllStringSubmatch(text, -1) {
		args := m[1]
		inner := argsRe.FindStringSubmatch(args)
		if inner == nil {
			continue
		}
		parts := strings.Split(inner[1], ",")
		if len(parts) < 2 {
			continue
		}
		supplied := hazard.FromText(args)
		out = append(out, manifest.OptionalAction{
			Name:              strings.TrimSpace(parts[1]),
			Hazards:           supplied,
			NotAllowedHazards: supplied.Difference(allowed),
		})
	}
	return out
}

// ---------------------------------------------------------------------------
// Scanner
// ---------------------------------------------------------------------------

// Scanner checks firmware sources against a frozen set of contracts.
type Scanner struct {
	// Contracts is shared read-only by every worker.
	Contracts []device.Contract
	// Workers is the number of scanning goroutines; < 1 means one.
	Workers int
}

// Run scans every source and returns the sorted manifest. Files without
// device instantiations do not appear in it.
func (s Scanner) Run(ctx context.Context, sources []Source) (manifest.Manifest, error) {
	log := ctxlog.FromContext(ctx).With("phase", "scan")
	log.Debug("scanning firmware", "files", len(sources), "workers", s.Workers)

	scan := func(ctx context.Context, src Source) (manifest.FileReport, bool, error) {
		return ScanFile(ctx, src, s.Contracts)
	}
	reports, err := pipeline.Run(ctx, sources, s.Workers, scan, pipeline.Collect[manifest.FileReport])
	if err != nil {
		return nil, err
	}

	m := manifest.Manifest(reports)
	if m == nil {
		m = manifest.Manifest{}
	}
	m.Sort()
	log.Info("firmware scanned", "files", len(m), "devices", m.Summary().Devices)
	return m, nil
}
