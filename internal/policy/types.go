package policy

import "github.com/tkingovr/iochain/api"

// PolicyFile represents the top-level YAML policy configuration.
type PolicyFile struct {
	Version  int      `yaml:"version" json:"version"`
	Settings Settings `yaml:"settings" json:"settings"`
	Rules    []Rule   `yaml:"rules" json:"rules"`
}

// Settings contains global policy settings.
type Settings struct {
	DefaultAction api.Verdict `yaml:"default_action" json:"default_action"`
	OPAPolicy     string      `yaml:"opa_policy,omitempty" json:"opa_policy,omitempty"`
}

// Rule represents a single policy rule.
type Rule struct {
	Name    string    `yaml:"name" json:"name"`
	Match   RuleMatch `yaml:"match" json:"match"`
	Action  string    `yaml:"action" json:"action"`
	Message string    `yaml:"message,omitempty" json:"message,omitempty"`
}

// RuleMatch specifies conditions for matching an event. Empty fields match
// anything.
type RuleMatch struct {
	Direction api.Direction `yaml:"direction,omitempty" json:"direction,omitempty"`
	Event     api.EventKind `yaml:"event,omitempty" json:"event,omitempty"`
	Remote    string        `yaml:"remote,omitempty" json:"remote,omitempty"`   // regex on the peer address
	Payload   string        `yaml:"payload,omitempty" json:"payload,omitempty"` // regex on text payloads
	MinSize   int           `yaml:"min_size,omitempty" json:"min_size,omitempty"`
	MaxSize   int           `yaml:"max_size,omitempty" json:"max_size,omitempty"`
}

// EvalInput is the input to a policy engine evaluation.
type EvalInput struct {
	Direction  api.Direction `json:"direction"`
	Kind       api.EventKind `json:"event"`
	SessionID  string        `json:"session_id,omitempty"`
	RemoteAddr string        `json:"remote_addr,omitempty"`
	Size       int           `json:"size"`
	Payload    string        `json:"payload,omitempty"`
}

// EvalResult is the output of a policy engine evaluation.
type EvalResult struct {
	Verdict api.Verdict `json:"verdict"`
	Rule    string      `json:"rule,omitempty"`
	Message string      `json:"message,omitempty"`
}
