// Package plugin defines the contract between container projects and the
// certifiers that run over them.
package plugin

import "context"

// ConfigQuestion describes a single configuration prompt for a certifier.
type ConfigQuestion struct {
	Key    string
	Prompt string
	Type   string // "text"
	// Optional questions may be answered with an empty string.
	Optional bool
}

// Certifier is the interface every ccertifier plugin must implement.
type Certifier interface {
	// Name returns the certifier's canonical short identifier (e.g. "hazard").
	Name() string

	// Configure returns the questions the certifier needs answered before it can run.
	Configure() ([]ConfigQuestion, error)

	// Analyze runs the certifier using the provided config key/value pairs,
	// writing its results into outputDir.
	Analyze(ctx context.Context, config map[string]string, outputDir string) error
}

// Missing returns the keys of required questions that config leaves empty.
func Missing(questions []ConfigQuestion, config map[string]string) []string {
	var keys []string
	for _, q := range questions {
		if !q.Optional && config[q.Key] == "" {
			keys = append(keys, q.Key)
		}
	}
	return keys
}
