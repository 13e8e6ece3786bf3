package filter

import (
	"context"
	"errors"
	"fmt"

	"github.com/tkingovr/iochain/api"
	"github.com/tkingovr/iochain/internal/policy"
)

// ErrDenied is the cause of a failure raised by a deny verdict.
var ErrDenied = errors.New("denied by policy")

// PolicyFilter evaluates each event against a policy engine and acts on the
// verdict: allow forwards, log forwards after logging, drop swallows the
// event, deny fails it.
type PolicyFilter struct {
	engine policy.Engine
}

func NewPolicyFilter(engine policy.Engine) *PolicyFilter {
	return &PolicyFilter{engine: engine}
}

func (f *PolicyFilter) String() string { return "policy" }

func (f *PolicyFilter) Process(ctx context.Context, ev *Event) (Outcome, error) {
	text, _ := ev.Text()
	input := &policy.EvalInput{
		Direction:  ev.Direction,
		Kind:       ev.Kind,
		SessionID:  ev.SessionID(),
		RemoteAddr: ev.RemoteAddr(),
		Size:       ev.Size(),
		Payload:    text,
	}

	result, err := f.engine.Evaluate(ctx, input)
	if err != nil {
		return Forward, err
	}

	ev.Verdict = result.Verdict
	ev.Rule = result.Rule
	ev.Message = result.Message

	switch result.Verdict {
	case api.VerdictDeny:
		return Forward, fmt.Errorf("%w: rule %q: %s", ErrDenied, result.Rule, result.Message)
	case api.VerdictDrop:
		return Swallow, nil
	case api.VerdictLog:
		ev.Chain().Logger().Info("policy match",
			"chain", ev.Chain().ID(),
			"session", ev.SessionID(),
			"direction", ev.Direction,
			"event", ev.Kind,
			"rule", result.Rule,
			"message", result.Message,
		)
	}
	return Forward, nil
}
