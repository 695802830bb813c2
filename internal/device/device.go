// Package device extracts hazard contracts from the framework's device
// sources.
//
// A device source is one Rust file per device type. Its contract lists the
// mandatory actions firmware must provide, the hazards each of those actions
// must declare, and the hazards the device accepts at all. Two declaration
// styles exist:
//
//   - Named: a top-level "enum Actions { ... }" enumerates the actions; each
//     is attached in firmware through a builder method of the same name.
//   - Positional: the actions are the parameters of the device's new()
//     constructor, in order.
//
// Required hazards come from the constant named after the action in upper
// snake case (FIRST_ACTION for first_action); allowed hazards come from
// ALLOWED_HAZARDS.
package device

import (
	"strings"
	"unicode"

	"github.com/SoftengPoliTo/hazard-analyzer/internal/hazard"
)

// ---------------------------------------------------------------------------
// Contract model
// ---------------------------------------------------------------------------

// Style tells how a device's mandatory actions are supplied by firmware.
type Style string

const (
	// Positional actions are constructor arguments, matched by index.
	Positional Style = "positional"
	// Named actions are builder method calls, matched by name.
	Named Style = "named"
)

// Action is one mandatory action and the hazards it must declare.
type Action struct {
	Name            string     `json:"name" yaml:"name"`
	RequiredHazards hazard.Set `json:"requiredHazards" yaml:"requiredHazards"`
}

// Mandatory lists a device's mandatory actions. For Positional devices the
// slice index is the constructor argument position; for Named devices the
// order is the enum declaration order.
type Mandatory struct {
	Style   Style    `json:"style" yaml:"style"`
	Actions []Action `json:"actions" yaml:"actions"`
}

// Contract is the hazard contract of one device type. Contracts are built
// once per run and must be treated as read-only afterwards.
type Contract struct {
	Name           string     `json:"name" yaml:"name"`
	Mandatory      Mandatory  `json:"mandatory" yaml:"mandatory"`
	AllowedHazards hazard.Set `json:"allowedHazards" yaml:"allowedHazards"`
}

// Source is a device file: its device name and Rust source.
type Source struct {
	Name string
	Code []byte
}

// ---------------------------------------------------------------------------
// Naming
// ---------------------------------------------------------------------------

// CamelCase turns a snake_case file stem into a device type name:
// "new_device" → "NewDevice".
func CamelCase(stem string) string {
	var b strings.Builder
	upper := true
	for _, r := range stem {
		switch {
		case r == '_':
			upper = true
		case upper:
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SnakeCase turns an enum variant into an action name:
// "IncreaseTemperature" → "increase_temperature".
func SnakeCase(variant string) string {
	var b strings.Builder
	for i, r := range variant {
		if unicode.IsUpper(r) {
			if i != 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ConstKey is the name of the constant holding an action's hazards.
func ConstKey(action string) string {
	return strings.ToUpper(action)
}
