package transport

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/tkingovr/iochain/api"
	"github.com/tkingovr/iochain/internal/filter"
)

// Echo replies to every read that reaches the application with the same
// payload, sent back through the whole chain.
func Echo(ctx context.Context, ev *filter.Event) error {
	if ev.Kind != api.EventRead {
		return nil
	}
	return ev.Reply(ctx, api.EventWrite, ev.Payload)
}

// Discard drops everything that reaches the application.
func Discard(context.Context, *filter.Event) error { return nil }

// Writer copies each read reaching the application to w as one line.
func Writer(w io.Writer) filter.Endpoint {
	var mu sync.Mutex
	return func(_ context.Context, ev *filter.Event) error {
		if ev.Kind != api.EventRead {
			return nil
		}
		p, err := payloadBytes(ev.Payload)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		if _, err := w.Write(p); err != nil {
			return err
		}
		if !bytes.HasSuffix(p, []byte("\n")) {
			_, err = w.Write([]byte("\n"))
		}
		return err
	}
}
