package report

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/SoftengPoliTo/hazard-analyzer/internal/manifest"
)

const delim = "---\n"

// Markdown renders a summary note: YAML frontmatter with the manifest's
// headline counts, then one table row per device instance.
func Markdown(m manifest.Manifest) ([]byte, error) {
	fm, err := yaml.Marshal(m.Summary())
	if err != nil {
		return nil, fmt.Errorf("report: marshal frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(delim)
	buf.Write(fm)
	buf.WriteString(delim)
	buf.WriteString("\n# Hazard compliance\n\n")

	if len(m) == 0 {
		buf.WriteString("No device instantiations found.\n")
		return buf.Bytes(), nil
	}

	buf.WriteString("| File | Device | Position | Status | Findings |\n")
	buf.WriteString("|------|--------|----------|--------|----------|\n")
	for _, f := range m {
		for _, d := range f.Devices {
			status := "compliant"
			if !d.Compliant() {
				status = "**non-compliant**"
			}
			fmt.Fprintf(&buf, "| `%s` | %s | %s | %s | %s |\n",
				f.File, d.Name, d.Position, status, findings(d))
		}
	}
	return buf.Bytes(), nil
}

// findings condenses a device's problems into one table cell.
func findings(d manifest.Device) string {
	var parts []string
	if len(d.MissingMandatoryActions) > 0 {
		parts = append(parts, "missing actions: "+strings.Join(d.MissingMandatoryActions, ", "))
	}
	for _, a := range d.MandatoryActions {
		if a.MissingHazards.Len() > 0 {
			parts = append(parts, fmt.Sprintf("%s missing %s", a.Name, strings.Join(a.MissingHazards.Sorted(), ", ")))
		}
		if a.NotAllowedHazards.Len() > 0 {
			parts = append(parts, fmt.Sprintf("%s not allowed %s", a.Name, strings.Join(a.NotAllowedHazards.Sorted(), ", ")))
		}
	}
	for _, a := range d.OptionalActions {
		if a.NotAllowedHazards.Len() > 0 {
			parts = append(parts, fmt.Sprintf("%s (optional) not allowed %s", a.Name, strings.Join(a.NotAllowedHazards.Sorted(), ", ")))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "; ")
}

// ParseSummary reads the frontmatter of a note written by Markdown. The note
// must begin with "---\n" and close the block with a "---" line.
func ParseSummary(data []byte) (manifest.Summary, error) {
	var s manifest.Summary
	if !bytes.HasPrefix(data, []byte(delim)) {
		return s, fmt.Errorf("report: missing opening --- delimiter")
	}
	rest := data[len(delim):]
	idx := bytes.Index(rest, []byte("\n---"))
	if idx < 0 {
		return s, fmt.Errorf("report: missing closing --- delimiter")
	}
	if err := yaml.Unmarshal(rest[:idx], &s); err != nil {
		return s, fmt.Errorf("report: parse frontmatter: %w", err)
	}
	return s, nil
}
