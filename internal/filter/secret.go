package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/tkingovr/iochain/api"
)

// SecretPattern defines a named regex pattern for detecting secrets.
type SecretPattern struct {
	Name  string
	Regex *regexp.Regexp
}

// DefaultSecretPatterns returns the built-in set of secret detection patterns.
func DefaultSecretPatterns() []SecretPattern {
	return []SecretPattern{
		{Name: "aws_access_key", Regex: regexp.MustCompile(`(?i)AKIA[0-9A-Z]{16}`)},
		{Name: "aws_secret_key", Regex: regexp.MustCompile(`(?i)(?:aws)?_?(?:secret)?_?(?:access)?_?key['":\s]*[=:]\s*['"]?([A-Za-z0-9/+=]{40})`)},
		{Name: "github_token", Regex: regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,255}`)},
		{Name: "github_pat_fine", Regex: regexp.MustCompile(`github_pat_[A-Za-z0-9_]{22,255}`)},
		{Name: "generic_api_key", Regex: regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|api_secret)['":\s]*[=:]\s*['"]?([A-Za-z0-9\-_]{20,60})['"]?`)},
		{Name: "generic_secret", Regex: regexp.MustCompile(`(?i)(?:secret|password|passwd|pwd|token|auth_token|access_token|bearer)['":\s]*[=:]\s*['"]?([A-Za-z0-9\-_!@#$%^&*]{8,100})['"]?`)},
		{Name: "private_key", Regex: regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`)},
		{Name: "slack_token", Regex: regexp.MustCompile(`xox[baprs]-[0-9]{10,13}-[0-9]{10,13}[a-zA-Z0-9-]*`)},
		{Name: "stripe_key", Regex: regexp.MustCompile(`(?:sk|pk)_(?:live|test)_[A-Za-z0-9]{20,100}`)},
		{Name: "google_api_key", Regex: regexp.MustCompile(`AIza[A-Za-z0-9\-_]{35}`)},
		{Name: "jwt_token", Regex: regexp.MustCompile(`eyJ[A-Za-z0-9-_]+\.eyJ[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+`)},
		{Name: "ssh_private_key_path", Regex: regexp.MustCompile(`(?i)(?:\.ssh/id_(?:rsa|ed25519|ecdsa|dsa)|\.pem)`)},
	}
}

// ErrSecretDetected is the cause of a failure raised when a payload carries
// what looks like a credential.
var ErrSecretDetected = errors.New("potential secret detected")

// SecretScannerFilter scans text payloads for secrets using regex patterns
// and entropy analysis. It either fails the event or redacts the secret.
type SecretScannerFilter struct {
	patterns         []SecretPattern
	entropyThreshold float64
	minTokenLength   int
	redact           bool
	directions       []api.Direction
}

// SecretScannerOption configures the SecretScannerFilter.
type SecretScannerOption func(*SecretScannerFilter)

// WithPatterns sets custom secret patterns (replaces defaults).
func WithPatterns(patterns []SecretPattern) SecretScannerOption {
	return func(f *SecretScannerFilter) {
		f.patterns = patterns
	}
}

// WithEntropyThreshold sets the Shannon entropy threshold for high-entropy string detection.
// Default is 4.5 (a random 32-char hex string has ~4.0 entropy).
func WithEntropyThreshold(threshold float64) SecretScannerOption {
	return func(f *SecretScannerFilter) {
		f.entropyThreshold = threshold
	}
}

// WithRedaction replaces detected secrets in the payload instead of failing the event.
func WithRedaction() SecretScannerOption {
	return func(f *SecretScannerFilter) {
		f.redact = true
	}
}

// WithDirections limits scanning to the given directions (default: both).
func WithDirections(dirs ...api.Direction) SecretScannerOption {
	return func(f *SecretScannerFilter) {
		f.directions = dirs
	}
}

// NewSecretScannerFilter creates a new secret scanner filter.
func NewSecretScannerFilter(opts ...SecretScannerOption) *SecretScannerFilter {
	f := &SecretScannerFilter{
		patterns:         DefaultSecretPatterns(),
		entropyThreshold: 4.5,
		minTokenLength:   20,
		directions:       []api.Direction{api.DirectionIngress, api.DirectionEgress},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *SecretScannerFilter) String() string { return "secret_scanner" }

func (f *SecretScannerFilter) Process(_ context.Context, ev *Event) (Outcome, error) {
	if ev.Kind != api.EventRead && ev.Kind != api.EventWrite {
		return Forward, nil
	}
	if !slices.Contains(f.directions, ev.Direction) {
		return Forward, nil
	}
	text, ok := ev.Text()
	if !ok {
		return Forward, nil
	}

	if f.redact {
		if redacted, changed := f.redactText(text); changed {
			ev.Rule = "secret_scanner:redacted"
			ev.Payload = retype(ev.Payload, redacted)
		}
		return Forward, nil
	}

	for _, p := range f.patterns {
		if p.Regex.MatchString(text) {
			ev.Verdict = api.VerdictDeny
			ev.Rule = "secret_scanner:" + p.Name
			ev.Message = fmt.Sprintf("%s pattern matched", p.Name)
			return Forward, fmt.Errorf("%w: %s", ErrSecretDetected, ev.Message)
		}
	}

	if token, found := f.findHighEntropyToken(text); found {
		ev.Verdict = api.VerdictDeny
		ev.Rule = "secret_scanner:high_entropy"
		ev.Message = fmt.Sprintf("high-entropy string (%.1f bits) starting with %q",
			shannonEntropy(token), truncateStr(token, 8))
		return Forward, fmt.Errorf("%w: %s", ErrSecretDetected, ev.Message)
	}

	return Forward, nil
}

func (f *SecretScannerFilter) redactText(text string) (string, bool) {
	out := text
	for _, p := range f.patterns {
		out = p.Regex.ReplaceAllString(out, "[REDACTED:"+p.Name+"]")
	}
	for _, token := range f.highEntropyTokens(out) {
		out = strings.ReplaceAll(out, token, "[REDACTED:high_entropy]")
	}
	return out, out != text
}

// retype returns s in the same representation as the original payload.
func retype(orig any, s string) any {
	switch orig.(type) {
	case []byte:
		return []byte(s)
	case json.RawMessage:
		return json.RawMessage(s)
	default:
		return s
	}
}

// findHighEntropyToken splits text into tokens and checks each for high entropy.
func (f *SecretScannerFilter) findHighEntropyToken(text string) (string, bool) {
	tokens := f.highEntropyTokens(text)
	if len(tokens) == 0 {
		return "", false
	}
	return tokens[0], true
}

func (f *SecretScannerFilter) highEntropyTokens(text string) []string {
	var found []string
	candidates := append(extractStringTokens(text), strings.Fields(text)...)
	for _, token := range candidates {
		if len(token) >= f.minTokenLength && shannonEntropy(token) >= f.entropyThreshold {
			found = append(found, token)
		}
	}
	return found
}

// extractStringTokens extracts quoted string values from text.
func extractStringTokens(text string) []string {
	var tokens []string
	// Simple extraction: find quoted strings
	inQuote := false
	var current strings.Builder
	for i := 0; i < len(text); i++ {
		if text[i] == '"' {
			if inQuote {
				t := current.String()
				if t != "" {
					tokens = append(tokens, t)
				}
				current.Reset()
			}
			inQuote = !inQuote
			continue
		}
		if text[i] == '\\' && i+1 < len(text) {
			i++ // skip escaped char
			if inQuote {
				current.WriteByte(text[i])
			}
			continue
		}
		if inQuote {
			current.WriteByte(text[i])
		}
	}
	return tokens
}

// shannonEntropy calculates Shannon entropy of a string in bits per character.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]float64)
	for _, c := range s {
		freq[c]++
	}

	length := float64(len([]rune(s)))
	entropy := 0.0
	for _, count := range freq {
		p := count / length
		if p > 0 {
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

func truncateStr(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
