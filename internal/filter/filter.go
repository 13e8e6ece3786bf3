package filter

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// Outcome is what a filter decided to do with the event it was handed.
type Outcome int

const (
	// Forward passes the event to the next entry in the direction of travel.
	Forward Outcome = iota
	// Swallow consumes the event. Propagation stops without an error.
	Swallow
)

func (o Outcome) String() string {
	switch o {
	case Forward:
		return "forward"
	case Swallow:
		return "swallow"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Filter is a single step of a filter chain.
//
// Process is called once per event reaching the filter. It may replace
// ev.Payload before forwarding, emit further events through ev.Emit and
// ev.Reply, swallow the event, or return an error. A non-nil error aborts
// propagation of the event and is delivered to the chain's error handler.
//
// The same Filter value may be linked into many chains at once, so any
// per-session state belongs in chain attributes (see Chain.Attr).
type Filter interface {
	Process(ctx context.Context, ev *Event) (Outcome, error)
}

// Lifecycle is implemented by filters that want to know when they are linked
// into or unlinked from a live chain. Builders never call these hooks.
type Lifecycle interface {
	// OnAdded runs after the filter has been linked under name. Returning an
	// error unlinks it again and fails the operation that added it.
	OnAdded(c *Chain, name string) error

	// OnRemoved runs after the filter has been unlinked, including when the
	// chain is torn down on close.
	OnRemoved(c *Chain, name string)
}

type funcFilter struct {
	fn func(ctx context.Context, ev *Event) (Outcome, error)
}

// Func adapts an ordinary function to a Filter. Each call returns a distinct
// filter, so two results compare unequal even for the same function.
func Func(fn func(ctx context.Context, ev *Event) (Outcome, error)) Filter {
	return &funcFilter{fn: fn}
}

func (f *funcFilter) Process(ctx context.Context, ev *Event) (Outcome, error) {
	return f.fn(ctx, ev)
}

func (f *funcFilter) String() string { return "func" }

// Describe returns a short human readable label for f: its String method
// when it has one, its type name otherwise.
func Describe(f Filter) string {
	if f == nil {
		return "<nil>"
	}
	if s, ok := f.(fmt.Stringer); ok {
		return s.String()
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", f), "*")
}

// sameFilter reports whether a and b are the same filter. Values whose
// dynamic type cannot be compared never match.
func sameFilter(a, b Filter) (same bool) {
	if a == nil || b == nil {
		return false
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	// a struct holding an uncomparable interface value still panics on ==
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
