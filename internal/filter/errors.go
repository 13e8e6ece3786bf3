package filter

import (
	"errors"
	"fmt"

	"github.com/tkingovr/iochain/api"
)

// Structural errors returned by the ordered entry operations of builders and chains.
var (
	ErrDuplicateName   = errors.New("duplicate filter name")
	ErrNotFound        = errors.New("filter not found")
	ErrBaseNotFound    = errors.New("base filter not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrChainClosed     = errors.New("filter chain closed")
)

// ErrFilterPanic is the cause recorded when a filter panics during dispatch.
var ErrFilterPanic = errors.New("filter panicked")

// FilterError reports a failure raised while an event travelled through a chain.
// Err is the cause returned by the filter (or endpoint) named by Filter.
type FilterError struct {
	Filter    string
	Direction api.Direction
	Kind      api.EventKind
	Err       error

	chain *Chain
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %q (%s %s): %v", e.Filter, e.Direction, e.Kind, e.Err)
}

func (e *FilterError) Unwrap() error { return e.Err }

// Chain returns the chain that raised the error.
func (e *FilterError) Chain() *Chain { return e.chain }
