package filter

import (
	"context"
	"slices"

	"github.com/tkingovr/iochain/api"
	"github.com/tkingovr/iochain/internal/audit"
)

// AuditFilter writes an event record for every event reaching it.
type AuditFilter struct {
	store audit.Store
	kinds []api.EventKind
}

// NewAuditFilter creates an audit filter. With kinds set only those event
// kinds are recorded.
func NewAuditFilter(store audit.Store, kinds ...api.EventKind) *AuditFilter {
	return &AuditFilter{store: store, kinds: kinds}
}

func (f *AuditFilter) String() string { return "audit" }

func (f *AuditFilter) Process(ctx context.Context, ev *Event) (Outcome, error) {
	if len(f.kinds) > 0 && !slices.Contains(f.kinds, ev.Kind) {
		return Forward, nil
	}
	if err := f.store.Write(ctx, ev.ToRecord()); err != nil {
		return Forward, err
	}
	return Forward, nil
}
