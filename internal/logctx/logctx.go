// Package logctx carries request-scoped log attributes on a context and
// appends them to every record emitted with that context.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler. Handle appends one group per value
// found on the record's context: req, sess, rpc and tool, in that order.
type Handler struct {
	slog.Handler
}

type ctxKey int

const (
	requestKey ctxKey = iota
	sessionKey
	rpcKey
	toolKey
)

var groups = [...]struct {
	key  ctxKey
	name string
}{
	{requestKey, "req"},
	{sessionKey, "sess"},
	{rpcKey, "rpc"},
	{toolKey, "tool"},
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	for _, g := range groups {
		if v, ok := ctx.Value(g.key).(slog.LogValuer); ok {
			r.AddAttrs(slog.Any(g.name, v))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

// ShortID truncates an opaque identifier to a prefix safe for logs.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RequestData identifies the inbound HTTP request.
type RequestData struct {
	RequestID  string
	Method     string
	Path       string
	UserAgent  string
	RemoteAddr string
}

func (d *RequestData) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", d.RequestID),
		slog.String("method", d.Method),
		slog.String("path", d.Path),
		slog.String("user_agent", d.UserAgent),
		slog.String("remote_addr", d.RemoteAddr),
	)
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestKey, data)
}

// SessionData describes how the current request's session was resolved.
// Only a prefix of SessionID is logged.
type SessionData struct {
	SessionID string
	UserID    string
	State     string
}

func (d *SessionData) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("id", ShortID(d.SessionID))}
	if d.UserID != "" {
		attrs = append(attrs, slog.String("user_id", d.UserID))
	}
	if d.State != "" {
		attrs = append(attrs, slog.String("state", d.State))
	}
	return slog.GroupValue(attrs...)
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionKey, data)
}

// RPCData identifies a JSON-RPC message being handled.
type RPCData struct {
	Method string
	ID     string
}

func (d *RPCData) LogValue() slog.Value {
	return slog.GroupValue(slog.String("method", d.Method), slog.String("id", d.ID))
}

func WithRPCData(ctx context.Context, data *RPCData) context.Context {
	return context.WithValue(ctx, rpcKey, data)
}

type ToolCallData struct {
	ToolName string
}

func (d *ToolCallData) LogValue() slog.Value {
	return slog.GroupValue(slog.String("name", d.ToolName))
}

func WithToolCallData(ctx context.Context, data *ToolCallData) context.Context {
	return context.WithValue(ctx, toolKey, data)
}
