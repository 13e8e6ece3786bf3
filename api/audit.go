package api

import "time"

// EventRecord is the audit trail entry for one event observed by a chain.
type EventRecord struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	SessionID string        `json:"session_id,omitempty"`
	ChainID   string        `json:"chain_id,omitempty"`
	Filter    string        `json:"filter,omitempty"`
	Direction Direction     `json:"direction"`
	Kind      EventKind     `json:"kind"`
	Verdict   Verdict       `json:"verdict,omitempty"`
	Rule      string        `json:"rule,omitempty"`
	Message   string        `json:"message,omitempty"`
	Size      int           `json:"size,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// QueryFilter defines criteria for querying event records.
type QueryFilter struct {
	Since     time.Time `json:"since,omitempty"`
	Until     time.Time `json:"until,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	Kind      EventKind `json:"kind,omitempty"`
	Verdict   Verdict   `json:"verdict,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}

// AuditStats summarises the records held by an audit store.
type AuditStats struct {
	TotalEvents int               `json:"total_events"`
	Errors      int               `json:"errors"`
	Bytes       int64             `json:"bytes"`
	Sessions    int               `json:"sessions"`
	ByKind      map[EventKind]int `json:"by_kind"`
	ByDirection map[Direction]int `json:"by_direction"`
	ByVerdict   map[Verdict]int   `json:"by_verdict"`
}
