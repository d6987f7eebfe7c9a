package gateway

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/F-Prime-Capital/mcp-server/internal/logctx"
)

// Bridge is an implementation of slog.Handler that works
// with the stdlib testing pkg.
type Bridge struct {
	slog.Handler
	t   testing.TB
	buf *bytes.Buffer
	mu  *sync.Mutex
}

// Handle implements slog.Handler.
func (b *Bridge) Handle(ctx context.Context, rec slog.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.Handler.Handle(ctx, rec); err != nil {
		return err
	}
	output, err := io.ReadAll(b.buf)
	if err != nil {
		return err
	}
	b.t.Helper()
	b.t.Log(string(bytes.TrimSuffix(output, []byte("\n"))))
	return nil
}

// WithAttrs implements slog.Handler.
func (b *Bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Bridge{t: b.t, buf: b.buf, mu: b.mu, Handler: b.Handler.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (b *Bridge) WithGroup(name string) slog.Handler {
	return &Bridge{t: b.t, buf: b.buf, mu: b.mu, Handler: b.Handler.WithGroup(name)}
}

// testLogHandler routes gateway logs, enriched with request and session
// context, to t.Log.
func testLogHandler(t *testing.T) slog.Handler {
	b := &Bridge{
		t:   t,
		buf: &bytes.Buffer{},
		mu:  &sync.Mutex{},
	}
	b.Handler = slog.NewTextHandler(b.buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return logctx.Handler{Handler: b}
}
