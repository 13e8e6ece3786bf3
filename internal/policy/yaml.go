package policy

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/tkingovr/iochain/api"
)

// YAMLEngine implements first-match-wins policy evaluation using YAML rules.
type YAMLEngine struct {
	mu   sync.RWMutex
	file *PolicyFile
	path string

	// compiled regex cache, keyed by rule name and field
	regexCache map[string]*regexp.Regexp
}

// NewYAMLEngine creates a new YAML policy engine from a file path.
func NewYAMLEngine(path string) (*YAMLEngine, error) {
	e := &YAMLEngine{path: path}
	if err := e.Reload(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// NewYAMLEngineFromPolicy creates a new YAML policy engine from an already-loaded policy.
func NewYAMLEngineFromPolicy(pf *PolicyFile) (*YAMLEngine, error) {
	cache, err := compileRegexes(pf)
	if err != nil {
		return nil, err
	}
	return &YAMLEngine{file: pf, regexCache: cache}, nil
}

// Evaluate checks the input against rules in order, returning the first match.
func (e *YAMLEngine) Evaluate(_ context.Context, input *EvalInput) (*EvalResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for i := range e.file.Rules {
		rule := &e.file.Rules[i]
		if e.matches(rule, input) {
			return &EvalResult{
				Verdict: api.Verdict(rule.Action),
				Rule:    rule.Name,
				Message: rule.Message,
			}, nil
		}
	}

	return &EvalResult{
		Verdict: e.file.Settings.DefaultAction,
		Rule:    "_default",
		Message: "no matching rule; default action applied",
	}, nil
}

// Reload re-reads the policy file from disk.
func (e *YAMLEngine) Reload(_ context.Context) error {
	if e.path == "" {
		return nil
	}
	pf, err := LoadFile(e.path)
	if err != nil {
		return err
	}
	cache, err := compileRegexes(pf)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.file = pf
	e.regexCache = cache
	return nil
}

// Policy returns the current loaded policy.
func (e *YAMLEngine) Policy() *PolicyFile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.file
}

func compileRegexes(pf *PolicyFile) (map[string]*regexp.Regexp, error) {
	cache := make(map[string]*regexp.Regexp)
	for _, rule := range pf.Rules {
		for field, expr := range map[string]string{"remote": rule.Match.Remote, "payload": rule.Match.Payload} {
			if expr == "" {
				continue
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("rule %q %s: %w", rule.Name, field, err)
			}
			cache[rule.Name+":"+field] = re
		}
	}
	return cache, nil
}

func (e *YAMLEngine) matches(rule *Rule, input *EvalInput) bool {
	m := rule.Match
	if m.Direction != "" && m.Direction != input.Direction {
		return false
	}
	if m.Event != "" && m.Event != input.Kind {
		return false
	}
	if m.MinSize > 0 && input.Size < m.MinSize {
		return false
	}
	if m.MaxSize > 0 && input.Size > m.MaxSize {
		return false
	}
	if m.Remote != "" && !e.matchRegex(rule.Name, "remote", input.RemoteAddr) {
		return false
	}
	if m.Payload != "" && !e.matchRegex(rule.Name, "payload", input.Payload) {
		return false
	}
	return true
}

func (e *YAMLEngine) matchRegex(ruleName, field, val string) bool {
	re, ok := e.regexCache[ruleName+":"+field]
	if !ok {
		return false
	}
	return re.MatchString(val)
}
