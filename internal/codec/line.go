// Package codec provides framing and encoding filters that turn raw transport
// reads into messages on ingress and messages back into bytes on egress.
package codec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tkingovr/iochain/api"
	"github.com/tkingovr/iochain/internal/filter"
)

// DefaultMaxLine bounds a buffered line when no limit is configured.
const DefaultMaxLine = 64 * 1024

// ErrLineTooLong is returned when the bytes buffered without a newline exceed
// the configured maximum. The partial line is discarded.
var ErrLineTooLong = errors.New("line too long")

// LineFramer splits ingress reads into newline-terminated lines and terminates
// egress writes with a newline.
//
// Each ingress read is swallowed and every complete line it finishes is
// emitted downstream as its own read event. Bytes after the last newline are
// kept per chain until the next read, or emitted as a final line when the
// close event passes.
type LineFramer struct {
	maxLine int
}

type lineBuffer struct {
	mu   sync.Mutex
	data []byte
}

type bufferKey struct{ f *LineFramer }

// NewLineFramer creates a line framer. A maxLine of 0 or less selects
// DefaultMaxLine.
func NewLineFramer(maxLine int) *LineFramer {
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	return &LineFramer{maxLine: maxLine}
}

func (f *LineFramer) String() string { return "line" }

func (f *LineFramer) Process(ctx context.Context, ev *filter.Event) (filter.Outcome, error) {
	switch {
	case ev.Direction == api.DirectionIngress && ev.Kind == api.EventRead:
		raw, ok := ev.Payload.([]byte)
		if !ok {
			return filter.Forward, nil
		}
		lines, err := f.split(ev.Chain(), raw)
		if err != nil {
			return filter.Swallow, err
		}
		for _, line := range lines {
			if err := ev.Emit(ctx, api.EventRead, line); err != nil {
				return filter.Swallow, err
			}
		}
		return filter.Swallow, nil

	case ev.Direction == api.DirectionIngress && ev.Kind == api.EventClose:
		if rest := f.drain(ev.Chain()); len(rest) > 0 {
			if err := ev.Emit(ctx, api.EventRead, rest); err != nil {
				return filter.Forward, err
			}
		}
		return filter.Forward, nil

	case ev.Direction == api.DirectionEgress && ev.Kind == api.EventWrite:
		switch p := ev.Payload.(type) {
		case []byte:
			ev.Payload = terminate(p)
		case json.RawMessage:
			ev.Payload = terminate(p)
		case string:
			ev.Payload = terminate([]byte(p))
		default:
			return filter.Forward, fmt.Errorf("line framer: cannot frame %T payload", ev.Payload)
		}
	}
	return filter.Forward, nil
}

// OnAdded is a no-op; buffers are created on the first read.
func (f *LineFramer) OnAdded(*filter.Chain, string) error { return nil }

// OnRemoved drops the chain's partial line.
func (f *LineFramer) OnRemoved(c *filter.Chain, _ string) {
	c.DeleteAttr(bufferKey{f})
}

func (f *LineFramer) buffer(c *filter.Chain) *lineBuffer {
	return c.AttrOrStore(bufferKey{f}, &lineBuffer{}).(*lineBuffer)
}

// split appends raw to the chain's buffer and returns the lines it
// completed, without their terminators.
func (f *LineFramer) split(c *filter.Chain, raw []byte) ([][]byte, error) {
	buf := f.buffer(c)
	buf.mu.Lock()
	defer buf.mu.Unlock()

	buf.data = append(buf.data, raw...)
	var lines [][]byte
	for {
		i := bytes.IndexByte(buf.data, '\n')
		if i < 0 {
			break
		}
		if i > f.maxLine {
			buf.data = nil
			return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrLineTooLong, i, f.maxLine)
		}
		line := bytes.TrimSuffix(buf.data[:i], []byte("\r"))
		lines = append(lines, bytes.Clone(line))
		buf.data = buf.data[i+1:]
	}
	if len(buf.data) > f.maxLine {
		n := len(buf.data)
		buf.data = nil
		return nil, fmt.Errorf("%w: %d bytes buffered (max %d)", ErrLineTooLong, n, f.maxLine)
	}
	if len(buf.data) == 0 {
		buf.data = nil
	}
	return lines, nil
}

func (f *LineFramer) drain(c *filter.Chain) []byte {
	v, ok := c.Attr(bufferKey{f})
	if !ok {
		return nil
	}
	buf := v.(*lineBuffer)
	buf.mu.Lock()
	defer buf.mu.Unlock()
	rest := bytes.TrimSuffix(buf.data, []byte("\r"))
	buf.data = nil
	return rest
}

func terminate(p []byte) []byte {
	out := make([]byte, len(p)+1)
	copy(out, p)
	out[len(p)] = '\n'
	return out
}
