// Package report renders a compliance manifest for people: a colored
// terminal listing and a markdown summary with YAML frontmatter.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/SoftengPoliTo/hazard-analyzer/internal/hazard"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/manifest"
)

// Palette.
var (
	red    = lipgloss.Color("#E84855")
	yellow = lipgloss.Color("#F9DC5C")
	green  = lipgloss.Color("#93FF96")
	blue   = lipgloss.Color("#0D1F2D")
	grey   = lipgloss.Color("#F7F7F9")
	cyan   = lipgloss.Color("#546A7B")
	white  = lipgloss.Color("15")
)

// printer writes one styled line at a time. Styles come from a renderer bound
// to the destination, so a pipe or file gets plain text.
type printer struct {
	w   io.Writer
	r   *lipgloss.Renderer
	err error
}

func (p *printer) line(indent int, color lipgloss.Color, text string) {
	if p.err != nil {
		return
	}
	styled := p.r.NewStyle().Foreground(color).Render(text)
	_, p.err = fmt.Fprintf(p.w, "%s%s\n", strings.Repeat(" ", indent), styled)
}

func (p *printer) labelled(indent int, label string, color lipgloss.Color, value string) {
	if p.err != nil {
		return
	}
	styled := p.r.NewStyle().Foreground(color).Render(value)
	_, p.err = fmt.Fprintf(p.w, "%s%s%s\n", strings.Repeat(" ", indent), label, styled)
}

func (p *printer) blank() {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, "\n")
	}
}

func (p *printer) device(name string, pos manifest.Position) {
	if p.err != nil {
		return
	}
	styled := p.r.NewStyle().Foreground(cyan).Render(name)
	_, p.err = fmt.Fprintf(p.w, "    %s %s\n", styled, pos)
}

func (p *printer) hazards(color lipgloss.Color, s hazard.Set) {
	if s.Len() > 0 {
		p.labelled(16, "hazards: ", color, strings.Join(s.Sorted(), ", "))
	}
}

func (p *printer) findings(label string, items []string) {
	if len(items) > 0 {
		p.line(16, red, label+": "+strings.Join(items, ", "))
	}
}

// Print writes the manifest to w: every file, then each device with its
// defined mandatory actions, findings and optional actions.
func Print(w io.Writer, m manifest.Manifest) error {
	p := &printer{w: w, r: lipgloss.NewRenderer(w)}

	for _, f := range m {
		if len(f.Devices) == 0 {
			continue
		}
		p.blank()
		p.line(0, blue, f.File)

		for _, d := range f.Devices {
			p.device(d.Name, d.Position)
			p.line(8, white, "defined mandatory actions:")
			for _, a := range d.MandatoryActions {
				p.line(12, grey, a.Name)
				p.hazards(green, a.Hazards)
				p.findings("not allowed hazards", a.NotAllowedHazards.Sorted())
				p.findings("missing hazards", a.MissingHazards.Sorted())
			}
			if len(d.MissingMandatoryActions) > 0 {
				p.line(12, red, "missing mandatory actions: "+strings.Join(d.MissingMandatoryActions, ", "))
			}

			p.line(8, white, "optional actions:")
			for _, a := range d.OptionalActions {
				p.line(12, grey, a.Name)
				p.hazards(yellow, a.Hazards)
				p.findings("not allowed hazards", a.NotAllowedHazards.Sorted())
			}
		}
	}
	if p.err != nil {
		return fmt.Errorf("report: print: %w", p.err)
	}
	return nil
}
