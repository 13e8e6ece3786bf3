package policy

import (
	"context"
	"testing"

	"github.com/tkingovr/iochain/api"
)

const testRegoPolicy = `package iochain

default verdict := "allow"
default rule_name := "_default"
default message := "default allow"

shutdown if {
	input.direction == "ingress"
	input.event == "read"
	startswith(lower(input.payload), "shutdown")
}

verdict := "deny" if shutdown
rule_name := "block-shutdown" if shutdown
message := "remote shutdown is not allowed" if shutdown

verdict := "drop" if input.event == "idle"
rule_name := "drop-idle" if input.event == "idle"

verdict := "log" if {
	input.direction == "egress"
	input.size >= 1024
}
rule_name := "log-large-writes" if {
	input.direction == "egress"
	input.size >= 1024
}
`

func TestOPAEngine_Evaluate(t *testing.T) {
	engine, err := NewOPAEngineFromSource(testRegoPolicy)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		input   EvalInput
		verdict api.Verdict
		rule    string
	}{
		{
			name:    "plain read allowed",
			input:   EvalInput{Direction: api.DirectionIngress, Kind: api.EventRead, Payload: "hello", Size: 5},
			verdict: api.VerdictAllow,
			rule:    "_default",
		},
		{
			name:    "shutdown denied",
			input:   EvalInput{Direction: api.DirectionIngress, Kind: api.EventRead, Payload: "Shutdown please", Size: 15},
			verdict: api.VerdictDeny,
			rule:    "block-shutdown",
		},
		{
			name:    "idle dropped",
			input:   EvalInput{Direction: api.DirectionIngress, Kind: api.EventIdle},
			verdict: api.VerdictDrop,
			rule:    "drop-idle",
		},
		{
			name:    "large egress logged",
			input:   EvalInput{Direction: api.DirectionEgress, Kind: api.EventWrite, Size: 4096},
			verdict: api.VerdictLog,
			rule:    "log-large-writes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Evaluate(context.Background(), &tt.input)
			if err != nil {
				t.Fatal(err)
			}
			if result.Verdict != tt.verdict {
				t.Errorf("expected %s, got %s (rule: %s, msg: %s)", tt.verdict, result.Verdict, result.Rule, result.Message)
			}
			if result.Rule != tt.rule {
				t.Errorf("expected rule %s, got %s", tt.rule, result.Rule)
			}
		})
	}
}

func TestOPAEngine_ConflictIsDeny(t *testing.T) {
	// Two complete definitions of verdict disagree for an idle egress
	// event larger than 1KiB: OPA reports a conflict, which fails closed.
	engine, err := NewOPAEngineFromSource(testRegoPolicy)
	if err != nil {
		t.Fatal(err)
	}

	result, err := engine.Evaluate(context.Background(), &EvalInput{
		Direction: api.DirectionEgress,
		Kind:      api.EventIdle,
		Size:      2048,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Verdict != api.VerdictDeny {
		t.Errorf("expected deny, got %s", result.Verdict)
	}
	if result.Rule != "_opa_error" {
		t.Errorf("expected rule _opa_error, got %s", result.Rule)
	}
}

func TestOPAEngine_InvalidRego(t *testing.T) {
	_, err := NewOPAEngineFromSource("this is not valid rego {{{")
	if err == nil {
		t.Fatal("expected error for invalid Rego")
	}
}

func TestOPAEngine_FromFile(t *testing.T) {
	engine, err := NewOPAEngine("../../testdata/policies/example.rego")
	if err != nil {
		t.Fatal(err)
	}

	result, err := engine.Evaluate(context.Background(), &EvalInput{
		Direction: api.DirectionIngress,
		Kind:      api.EventIdle,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Verdict != api.VerdictDrop {
		t.Errorf("expected drop, got %s", result.Verdict)
	}

	result, err = engine.Evaluate(context.Background(), &EvalInput{
		Direction: api.DirectionIngress,
		Kind:      api.EventRead,
		Size:      2 << 20,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Verdict != api.VerdictDeny || result.Rule != "max-payload" {
		t.Errorf("expected deny by max-payload, got %s by %s", result.Verdict, result.Rule)
	}
}
