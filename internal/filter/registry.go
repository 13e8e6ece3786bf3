package filter

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tkingovr/iochain/api"
	"github.com/tkingovr/iochain/internal/audit"
	"github.com/tkingovr/iochain/internal/policy"
)

// Spec describes one configured chain entry.
type Spec struct {
	Name   string         `yaml:"name" json:"name"`
	Type   string         `yaml:"type" json:"type"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// Decode copies the entry's free-form config into v, rejecting unknown keys.
func (s Spec) Decode(v any) error {
	if len(s.Config) == 0 {
		return nil
	}
	data, err := yaml.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("filter %q: encoding config: %w", s.Name, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("filter %q: decoding config: %w", s.Name, err)
	}
	return nil
}

// Factory builds a filter from its configured entry.
type Factory func(spec Spec) (Filter, error)

// Registry maps filter type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for typ.
func (r *Registry) Register(typ string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[typ]; ok {
		return fmt.Errorf("filter type %q already registered", typ)
	}
	r.factories[typ] = f
	return nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// New builds the filter described by spec.
func (r *Registry) New(spec Spec) (Filter, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("filter %q: unknown type %q", spec.Name, spec.Type)
	}
	return f(spec)
}

// Build turns specs into entries ready for Builder.Set. It fails on the
// first bad spec and on repeated names.
func (r *Registry) Build(specs []Spec) ([]Entry, error) {
	entries := make([]Entry, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("%w: chain entry of type %q has no name", ErrInvalidArgument, spec.Type)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, spec.Name)
		}
		seen[spec.Name] = true

		f, err := r.New(spec)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Name: spec.Name, Filter: f})
	}
	return entries, nil
}

// Deps are the collaborators the built-in filters need.
type Deps struct {
	Engine policy.Engine
	Store  audit.Store
	Logger *slog.Logger
}

// RegisterBuiltins registers the filters of this package: rate_limit,
// policy, audit, secret_scanner and log.
func RegisterBuiltins(r *Registry, deps Deps) error {
	builtins := map[string]Factory{
		"rate_limit":     newRateLimitFromSpec,
		"secret_scanner": newSecretScannerFromSpec,
		"policy": func(spec Spec) (Filter, error) {
			if deps.Engine == nil {
				return nil, fmt.Errorf("filter %q: no policy engine configured", spec.Name)
			}
			return NewPolicyFilter(deps.Engine), nil
		},
		"audit": func(spec Spec) (Filter, error) {
			if deps.Store == nil {
				return nil, fmt.Errorf("filter %q: no audit store configured", spec.Name)
			}
			var cfg struct {
				Events []api.EventKind `yaml:"events"`
			}
			if err := spec.Decode(&cfg); err != nil {
				return nil, err
			}
			return NewAuditFilter(deps.Store, cfg.Events...), nil
		},
		"log": func(spec Spec) (Filter, error) {
			var cfg struct {
				Level string `yaml:"level"`
			}
			if err := spec.Decode(&cfg); err != nil {
				return nil, err
			}
			level := slog.LevelInfo
			if cfg.Level != "" {
				if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
					return nil, fmt.Errorf("filter %q: %w", spec.Name, err)
				}
			}
			return NewLoggingFilter(deps.Logger, level), nil
		},
	}
	for typ, f := range builtins {
		if err := r.Register(typ, f); err != nil {
			return err
		}
	}
	return nil
}

type rateLimitSpec struct {
	Max      int             `yaml:"max"`
	Window   string          `yaml:"window"`
	Scope    string          `yaml:"scope"`     // session (default) or global
	OnExceed string          `yaml:"on_exceed"` // drop (default) or error
	Events   []api.EventKind `yaml:"events"`
}

func newRateLimitFromSpec(spec Spec) (Filter, error) {
	var cfg rateLimitSpec
	if err := spec.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Max <= 0 {
		return nil, fmt.Errorf("filter %q: max must be positive", spec.Name)
	}
	window := time.Second
	if cfg.Window != "" {
		d, err := time.ParseDuration(cfg.Window)
		if err != nil {
			return nil, fmt.Errorf("filter %q: invalid window %q: %w", spec.Name, cfg.Window, err)
		}
		window = d
	}

	limit := &RateLimit{Max: cfg.Max, Window: window}
	rc := RateLimitConfig{Kinds: cfg.Events}
	switch strings.ToLower(cfg.Scope) {
	case "", "session":
		rc.PerSession = limit
	case "global":
		rc.Global = limit
	default:
		return nil, fmt.Errorf("filter %q: invalid scope %q", spec.Name, cfg.Scope)
	}
	switch strings.ToLower(cfg.OnExceed) {
	case "", "drop":
	case "error":
		rc.Fail = true
	default:
		return nil, fmt.Errorf("filter %q: invalid on_exceed %q", spec.Name, cfg.OnExceed)
	}
	return NewRateLimitFilter(rc), nil
}

type secretScannerSpec struct {
	Mode             string          `yaml:"mode"` // deny (default) or redact
	EntropyThreshold float64         `yaml:"entropy_threshold"`
	Directions       []api.Direction `yaml:"directions"`
}

func newSecretScannerFromSpec(spec Spec) (Filter, error) {
	var cfg secretScannerSpec
	if err := spec.Decode(&cfg); err != nil {
		return nil, err
	}
	var opts []SecretScannerOption
	if cfg.EntropyThreshold > 0 {
		opts = append(opts, WithEntropyThreshold(cfg.EntropyThreshold))
	}
	switch cfg.Mode {
	case "", "deny":
	case "redact":
		opts = append(opts, WithRedaction())
	default:
		return nil, fmt.Errorf("filter %q: invalid mode %q", spec.Name, cfg.Mode)
	}
	if len(cfg.Directions) > 0 {
		for _, d := range cfg.Directions {
			if !d.Valid() {
				return nil, fmt.Errorf("filter %q: invalid direction %q", spec.Name, d)
			}
		}
		opts = append(opts, WithDirections(cfg.Directions...))
	}
	return NewSecretScannerFilter(opts...), nil
}
