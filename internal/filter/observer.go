package filter

import "time"

// Result summarises how one dispatch ended.
type Result string

const (
	ResultDelivered Result = "delivered" // ran past the last entry
	ResultSwallowed Result = "swallowed"
	ResultFailed    Result = "failed"
)

// Observer receives chain activity, typically to export metrics.
// Implementations must be safe for concurrent use.
type Observer interface {
	StateChanged(c *Chain, from, to State)
	Dispatched(c *Chain, ev *Event, result Result, elapsed time.Duration)
	FilterFailed(c *Chain, err *FilterError)
}

type nopObserver struct{}

func (nopObserver) StateChanged(*Chain, State, State)                 {}
func (nopObserver) Dispatched(*Chain, *Event, Result, time.Duration) {}
func (nopObserver) FilterFailed(*Chain, *FilterError)                {}
