package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandler_AppendsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)})

	ctx := WithRequestData(context.Background(), &RequestData{RequestID: "r-1", Method: "POST", Path: "/mcp"})
	ctx = WithSessionData(ctx, &SessionData{SessionID: "0123456789abcdef", State: "cookie_session_valid"})
	ctx = WithRPCData(ctx, &RPCData{Method: "tools/call", ID: "7"})
	ctx = WithToolCallData(ctx, &ToolCallData{ToolName: "fprime_search_projects"})
	log.InfoContext(ctx, "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	group := func(name string) map[string]any {
		g, ok := rec[name].(map[string]any)
		if !ok {
			t.Fatalf("missing %s group in %v", name, rec)
		}
		return g
	}
	if got := group("req")["id"]; got != "r-1" {
		t.Fatalf("want req.id r-1, got %v", got)
	}
	sess := group("sess")
	if got := sess["id"]; got != "01234567" {
		t.Fatalf("session id should be truncated, got %v", got)
	}
	if _, ok := sess["user_id"]; ok {
		t.Fatalf("empty user_id should be omitted: %v", sess)
	}
	if got := group("rpc")["method"]; got != "tools/call" {
		t.Fatalf("want rpc.method tools/call, got %v", got)
	}
	if got := group("tool")["name"]; got != "fprime_search_projects" {
		t.Fatalf("want tool.name, got %v", got)
	}
}

func TestHandler_NoContext(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)}).With("svc", "gw")
	log.InfoContext(context.Background(), "bare")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, name := range []string{"req", "sess", "rpc", "tool"} {
		if _, ok := rec[name]; ok {
			t.Fatalf("unexpected %s group in %v", name, rec)
		}
	}
	if rec["svc"] != "gw" {
		t.Fatalf("WithAttrs lost: %v", rec)
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("abc"); got != "abc" {
		t.Fatalf("want abc, got %s", got)
	}
	if got := ShortID("abcdefghijk"); got != "abcdefgh" {
		t.Fatalf("want abcdefgh, got %s", got)
	}
}
