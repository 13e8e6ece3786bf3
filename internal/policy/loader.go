package policy

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/tkingovr/iochain/api"
)

// LoadFile reads and validates a YAML policy file.
func LoadFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes parses and validates YAML policy data.
func LoadBytes(data []byte) (*PolicyFile, error) {
	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing policy YAML: %w", err)
	}
	if err := Validate(&pf); err != nil {
		return nil, err
	}
	return &pf, nil
}

// Validate checks pf and fills in defaults.
func Validate(pf *PolicyFile) error {
	if pf.Version != 1 {
		return fmt.Errorf("unsupported policy version: %d (expected 1)", pf.Version)
	}

	if pf.Settings.DefaultAction == "" {
		pf.Settings.DefaultAction = api.VerdictAllow
	}
	if !validAction(string(pf.Settings.DefaultAction)) {
		return fmt.Errorf("invalid default action %q", pf.Settings.DefaultAction)
	}

	for i, rule := range pf.Rules {
		if rule.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if !validAction(rule.Action) {
			return fmt.Errorf("rule %q: invalid action %q", rule.Name, rule.Action)
		}
		if d := rule.Match.Direction; d != "" && !d.Valid() {
			return fmt.Errorf("rule %q: invalid direction %q", rule.Name, d)
		}
		if rule.Match.MaxSize > 0 && rule.Match.MinSize > rule.Match.MaxSize {
			return fmt.Errorf("rule %q: min_size %d exceeds max_size %d", rule.Name, rule.Match.MinSize, rule.Match.MaxSize)
		}
		for field, expr := range map[string]string{"remote": rule.Match.Remote, "payload": rule.Match.Payload} {
			if expr == "" {
				continue
			}
			if _, err := regexp.Compile(expr); err != nil {
				return fmt.Errorf("rule %q: %s regex invalid: %w", rule.Name, field, err)
			}
		}
	}

	return nil
}

func validAction(a string) bool {
	switch api.Verdict(a) {
	case api.VerdictAllow, api.VerdictDeny, api.VerdictDrop, api.VerdictLog:
		return true
	}
	return false
}
