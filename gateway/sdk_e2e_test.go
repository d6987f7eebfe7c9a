package gateway

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// cookieRT attaches the gateway session cookie to every outbound request.
type cookieRT struct {
	base   http.RoundTripper
	cookie *http.Cookie
}

func (t cookieRT) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.AddCookie(t.cookie)
	return t.base.RoundTrip(r)
}

// TestSDKClient_E2E drives initialize, tools/list and tools/call through the
// reference MCP client against a live gateway listener.
func TestSDKClient_E2E(t *testing.T) {
	f := newFixture(t)
	cookie := f.loginCookie(t, f.memberClaims("user-1"))

	srv := httptest.NewServer(f.h)
	defer srv.Close()

	ctx := t.Context()
	client := sdk.NewClient(&sdk.Implementation{Name: "e2e", Version: "0.0.0"}, &sdk.ClientOptions{})
	transport := &sdk.StreamableClientTransport{
		Endpoint:   srv.URL + "/mcp",
		HTTPClient: &http.Client{Transport: cookieRT{base: http.DefaultTransport, cookie: cookie}},
	}
	cs, err := client.Connect(ctx, transport, &sdk.ClientSessionOptions{})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer cs.Close()

	if err := cs.Ping(ctx, &sdk.PingParams{}); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	lt, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	names := make([]string, 0, len(lt.Tools))
	for _, tl := range lt.Tools {
		names = append(names, tl.Name)
	}
	if !slices.Contains(names, "fprime_search_projects") || slices.Contains(names, "fprime_admin_stats") {
		t.Fatalf("unexpected tools for member: %v", names)
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "fprime_search_projects",
		Arguments: map[string]any{"query": "alpha"},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if res.IsError || len(res.Content) == 0 {
		t.Fatalf("unexpected call result: %+v", res)
	}

	res, err = cs.CallTool(ctx, &sdk.CallToolParams{Name: "fprime_admin_stats"})
	if err != nil {
		t.Fatalf("CallTool admin failed: %v", err)
	}
	if !res.IsError {
		t.Fatalf("admin tool should be denied for member: %+v", res)
	}
}
