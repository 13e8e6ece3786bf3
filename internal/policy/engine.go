package policy

import (
	"context"
	"path/filepath"
)

// Engine is the interface for policy evaluation backends.
type Engine interface {
	// Evaluate checks an event against loaded policies and returns a verdict.
	Evaluate(ctx context.Context, input *EvalInput) (*EvalResult, error)

	// Reload reloads policies from their source.
	Reload(ctx context.Context) error
}

// NewEngine selects the backend for pf: the Rego policy named by
// Settings.OPAPolicy when set, the YAML rules otherwise. A relative Rego
// path is resolved against baseDir.
func NewEngine(pf *PolicyFile, baseDir string) (Engine, error) {
	if path := pf.Settings.OPAPolicy; path != "" {
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		return NewOPAEngine(path)
	}
	return NewYAMLEngineFromPolicy(pf)
}
