package api

import "time"

// Direction is the way an event travels through a filter chain.
type Direction string

const (
	DirectionIngress Direction = "ingress" // transport → application, head to tail
	DirectionEgress  Direction = "egress"  // application → transport, tail to head
)

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	if d == DirectionIngress {
		return DirectionEgress
	}
	return DirectionIngress
}

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == DirectionIngress || d == DirectionEgress
}

// EventKind identifies a session I/O event.
type EventKind string

const (
	EventOpen  EventKind = "open"
	EventRead  EventKind = "read"
	EventWrite EventKind = "write"
	EventIdle  EventKind = "idle"
	EventError EventKind = "error"
	EventClose EventKind = "close"
)

// Verdict represents the outcome of a policy evaluation.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
	VerdictDrop  Verdict = "drop"
	VerdictLog   Verdict = "log"
)

// EntryInfo describes one named entry of a chain or template.
type EntryInfo struct {
	Position int    `json:"position"`
	Name     string `json:"name"`
	Type     string `json:"type"`
}

// EntryRequest is the body of an admin request that adds a filter to the template.
type EntryRequest struct {
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Position string         `json:"position,omitempty"` // first, last, before, after
	Base     string         `json:"base,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// SessionInfo describes a live session.
type SessionInfo struct {
	ID         string      `json:"id"`
	ChainID    string      `json:"chain_id"`
	Transport  string      `json:"transport"`
	RemoteAddr string      `json:"remote_addr"`
	State      string      `json:"state"`
	OpenedAt   time.Time   `json:"opened_at"`
	Filters    []EntryInfo `json:"filters"`
}
