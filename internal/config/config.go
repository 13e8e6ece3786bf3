package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tkingovr/iochain/api"
	"github.com/tkingovr/iochain/internal/filter"
	"github.com/tkingovr/iochain/internal/policy"
)

// File is the on-disk layout of an iochain configuration file.
type File struct {
	Version   int            `yaml:"version"`
	Settings  Settings       `yaml:"settings"`
	Listeners Listeners      `yaml:"listeners"`
	Chain     []filter.Spec  `yaml:"chain"`
	Policy    *PolicySection `yaml:"policy,omitempty"`
}

// Settings holds process-wide settings.
type Settings struct {
	LogDir      string `yaml:"log_dir,omitempty"`
	AdminAddr   string `yaml:"admin_addr,omitempty"`
	IdleTimeout string `yaml:"idle_timeout,omitempty"`
	ReadBuffer  int    `yaml:"read_buffer,omitempty"`
	Application string `yaml:"application,omitempty"`
}

// Listeners names the addresses sessions are accepted on. Empty disables.
type Listeners struct {
	TCP       string `yaml:"tcp,omitempty"`
	WebSocket string `yaml:"websocket,omitempty"`
}

// PolicySection is the inline policy used by policy filters.
type PolicySection struct {
	DefaultAction api.Verdict   `yaml:"default_action,omitempty"`
	OPAPolicy     string        `yaml:"opa_policy,omitempty"`
	Rules         []policy.Rule `yaml:"rules,omitempty"`
}

// Config is the runtime configuration for iochain.
type Config struct {
	Path          string
	LogDir        string
	AdminAddr     string
	IdleTimeout   time.Duration
	ReadBuffer    int
	Application   string
	TCPAddr       string
	WebSocketAddr string

	// Chain is the template every new session's chain is built from.
	Chain []filter.Spec

	// Policy is nil when the file has no policy section.
	Policy *policy.PolicyFile
}

// Load reads a YAML configuration file and produces a runtime Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is given on the command line
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg, err := LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// LoadBytes parses YAML data and produces a runtime Config.
func LoadBytes(data []byte) (*Config, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return fromFile(&f)
}

func fromFile(f *File) (*Config, error) {
	if f.Version != 1 {
		return nil, fmt.Errorf("unsupported config version: %d (expected 1)", f.Version)
	}

	cfg := DefaultConfig()

	if f.Settings.LogDir != "" {
		cfg.LogDir = expandHome(f.Settings.LogDir)
	}
	if f.Settings.AdminAddr != "" {
		cfg.AdminAddr = f.Settings.AdminAddr
	}
	if f.Settings.IdleTimeout != "" {
		d, err := time.ParseDuration(f.Settings.IdleTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid idle_timeout %q: %w", f.Settings.IdleTimeout, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("invalid idle_timeout %q: must not be negative", f.Settings.IdleTimeout)
		}
		cfg.IdleTimeout = d
	}
	if f.Settings.ReadBuffer < 0 {
		return nil, fmt.Errorf("invalid read_buffer %d", f.Settings.ReadBuffer)
	}
	if f.Settings.ReadBuffer > 0 {
		cfg.ReadBuffer = f.Settings.ReadBuffer
	}
	if f.Settings.Application != "" {
		switch f.Settings.Application {
		case ApplicationEcho, ApplicationDiscard:
			cfg.Application = f.Settings.Application
		default:
			return nil, fmt.Errorf("invalid application %q (expected %s or %s)",
				f.Settings.Application, ApplicationEcho, ApplicationDiscard)
		}
	}

	cfg.TCPAddr = f.Listeners.TCP
	cfg.WebSocketAddr = f.Listeners.WebSocket
	if cfg.TCPAddr == "" && cfg.WebSocketAddr == "" {
		cfg.TCPAddr = DefaultTCPAddr
	}

	if f.Chain != nil {
		cfg.Chain = f.Chain
	}
	seen := make(map[string]bool, len(cfg.Chain))
	for i, spec := range cfg.Chain {
		if spec.Name == "" {
			return nil, fmt.Errorf("chain entry %d: name is required", i)
		}
		if spec.Type == "" {
			return nil, fmt.Errorf("chain entry %q: type is required", spec.Name)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("chain entry %q: duplicate name", spec.Name)
		}
		seen[spec.Name] = true
	}

	if f.Policy != nil {
		pf := &policy.PolicyFile{
			Version: 1,
			Settings: policy.Settings{
				DefaultAction: f.Policy.DefaultAction,
				OPAPolicy:     f.Policy.OPAPolicy,
			},
			Rules: f.Policy.Rules,
		}
		if err := policy.Validate(pf); err != nil {
			return nil, fmt.Errorf("policy: %w", err)
		}
		cfg.Policy = pf
	}

	return cfg, nil
}

// Dir returns the directory relative paths in the file are resolved
// against.
func (c *Config) Dir() string {
	if c.Path == "" {
		return ""
	}
	return filepath.Dir(c.Path)
}

// MarshalChain serializes the chain template for display/export.
func (c *Config) MarshalChain() ([]byte, error) {
	return yaml.Marshal(struct {
		Chain []filter.Spec `yaml:"chain"`
	}{c.Chain})
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfig returns a config with defaults for when no config file is given.
func DefaultConfig() *Config {
	return &Config{
		LogDir:      expandHome(DefaultLogDir()),
		AdminAddr:   DefaultAdminAddr,
		IdleTimeout: DefaultIdleTimeout,
		ReadBuffer:  DefaultReadBuffer,
		Application: ApplicationEcho,
		TCPAddr:     DefaultTCPAddr,
		Chain: []filter.Spec{
			{Name: "framer", Type: "line"},
		},
	}
}
