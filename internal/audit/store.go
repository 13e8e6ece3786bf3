package audit

import (
	"context"

	"github.com/tkingovr/iochain/api"
)

// Store defines the interface for event record persistence and retrieval.
type Store interface {
	// Write appends an event record.
	Write(ctx context.Context, record *api.EventRecord) error

	// Query retrieves event records matching the filter.
	Query(ctx context.Context, filter api.QueryFilter) ([]*api.EventRecord, error)

	// Stats returns aggregate statistics.
	Stats(ctx context.Context) (*api.AuditStats, error)

	// Subscribe returns a channel that receives new records in real time.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context) (<-chan *api.EventRecord, func())

	// Close shuts down the store and flushes any buffers.
	Close() error
}
