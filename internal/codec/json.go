package codec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tkingovr/iochain/api"
	"github.com/tkingovr/iochain/internal/filter"
)

// ErrInvalidJSON is returned for ingress reads that are not a JSON document.
var ErrInvalidJSON = errors.New("invalid JSON message")

// JSONCodec decodes ingress reads into json.RawMessage values and encodes
// egress writes with encoding/json. It expects framed input, typically from
// a LineFramer placed before it.
type JSONCodec struct {
	skipBlank bool
}

// NewJSONCodec creates a JSON codec. With skipBlank set, blank ingress lines
// are swallowed instead of failing.
func NewJSONCodec(skipBlank bool) *JSONCodec {
	return &JSONCodec{skipBlank: skipBlank}
}

func (c *JSONCodec) String() string { return "json" }

func (c *JSONCodec) Process(_ context.Context, ev *filter.Event) (filter.Outcome, error) {
	switch {
	case ev.Direction == api.DirectionIngress && ev.Kind == api.EventRead:
		var data []byte
		switch p := ev.Payload.(type) {
		case json.RawMessage:
			return filter.Forward, nil
		case []byte:
			data = p
		case string:
			data = []byte(p)
		default:
			return filter.Forward, nil
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 && c.skipBlank {
			return filter.Swallow, nil
		}
		if !json.Valid(data) {
			return filter.Forward, fmt.Errorf("%w: %q", ErrInvalidJSON, truncate(data, 32))
		}
		ev.Payload = json.RawMessage(data)

	case ev.Direction == api.DirectionEgress && ev.Kind == api.EventWrite:
		switch ev.Payload.(type) {
		case []byte, string:
			return filter.Forward, nil
		}
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return filter.Forward, fmt.Errorf("encoding %T: %w", ev.Payload, err)
		}
		ev.Payload = data
	}
	return filter.Forward, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
