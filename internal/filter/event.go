package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tkingovr/iochain/api"
)

// Event is one I/O event travelling through a chain.
type Event struct {
	Kind      api.EventKind
	Direction api.Direction

	// Payload is whatever the previous step produced: raw bytes from the
	// transport, a decoded line, a message value, an error. Filters may
	// replace it before forwarding.
	Payload any

	// Time records when the event entered the chain.
	Time time.Time

	// Verdict, Rule and Message are set by policy filters.
	Verdict api.Verdict
	Rule    string
	Message string

	chain    *Chain
	origin   string
	terminal bool

	// snap and pos locate the event in the entry sequence it is walking.
	snap *version
	pos  int
}

// Chain returns the chain carrying the event.
func (ev *Event) Chain() *Chain { return ev.chain }

// Filter returns the name of the entry currently handling the event, or ""
// once it has run past the last entry.
func (ev *Event) Filter() string { return ev.origin }

// SessionID returns the ID of the session owning the chain, if any.
func (ev *Event) SessionID() string {
	if ev.chain == nil || ev.chain.session == nil {
		return ""
	}
	return ev.chain.session.ID()
}

// Size returns the payload length for byte and string payloads, 0 otherwise.
func (ev *Event) Size() int {
	switch p := ev.Payload.(type) {
	case []byte:
		return len(p)
	case json.RawMessage:
		return len(p)
	case string:
		return len(p)
	default:
		return 0
	}
}

// Text returns the payload as text for byte, string and Stringer payloads.
func (ev *Event) Text() (string, bool) {
	switch p := ev.Payload.(type) {
	case []byte:
		return string(p), true
	case json.RawMessage:
		return string(p), true
	case string:
		return p, true
	case fmt.Stringer:
		return p.String(), true
	default:
		return "", false
	}
}

// RemoteAddr returns the peer address of the owning session, if any.
func (ev *Event) RemoteAddr() string {
	if ev.chain == nil || ev.chain.session == nil {
		return ""
	}
	return ev.chain.session.RemoteAddr()
}

// Emit fires a new event in the same direction, starting at the entry after
// the one handling ev. It returns once the new event has finished its
// traversal. The new event walks the same entries ev is walking, so a
// filter that removed itself can still hand data on.
func (ev *Event) Emit(ctx context.Context, kind api.EventKind, payload any) error {
	if ev.terminal {
		return fmt.Errorf("%w: %s event already left the chain", ErrInvalidArgument, ev.Direction)
	}
	if ev.snap == nil {
		return ev.chain.fire(ctx, ev.Direction, ev.origin, kind, payload)
	}
	return ev.chain.fireAt(ctx, ev.Direction, ev.snap, ev.pos+stride(ev.Direction), kind, payload)
}

// Reply fires a new event in the opposite direction, starting next to the
// entry handling ev. Called from an endpoint it starts at the chain's edge.
func (ev *Event) Reply(ctx context.Context, kind api.EventKind, payload any) error {
	dir := ev.Direction.Reverse()
	if ev.snap == nil || ev.terminal {
		return ev.chain.fire(ctx, dir, ev.origin, kind, payload)
	}
	return ev.chain.fireAt(ctx, dir, ev.snap, ev.pos+stride(dir), kind, payload)
}

// ToRecord converts the event into an audit record.
func (ev *Event) ToRecord() *api.EventRecord {
	r := &api.EventRecord{
		Timestamp: ev.Time,
		SessionID: ev.SessionID(),
		Filter:    ev.origin,
		Direction: ev.Direction,
		Kind:      ev.Kind,
		Verdict:   ev.Verdict,
		Rule:      ev.Rule,
		Message:   ev.Message,
		Size:      ev.Size(),
		Duration:  time.Since(ev.Time),
	}
	if ev.chain != nil {
		r.ChainID = ev.chain.id
	}
	if err, ok := ev.Payload.(error); ok {
		r.Error = err.Error()
	}
	return r
}
