package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/F-Prime-Capital/mcp-server/auth"
	"github.com/F-Prime-Capital/mcp-server/mcp"
	"github.com/F-Prime-Capital/mcp-server/tools"
)

type noArgs struct{}

func ok(text string) func(context.Context, *auth.UserSession, noArgs) (*mcp.CallToolResult, error) {
	return func(context.Context, *auth.UserSession, noArgs) (*mcp.CallToolResult, error) {
		return tools.TextResult(text), nil
	}
}

func newRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	err := reg.Register(
		tools.NewTool("search", ok("search"), tools.WithDescription("Search")),
		tools.NewTool("audit", ok("audit"), tools.WithPermission(tools.PermissionAdmin), tools.WithRequiredRoles("Admin")),
		tools.NewTool("edit", ok("edit"), tools.WithPermission(tools.PermissionWrite), tools.WithRequiredRoles("Editor", "Admin")),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func names(list []mcp.Tool) []string {
	out := make([]string, len(list))
	for i, tl := range list {
		out[i] = tl.Name
	}
	return out
}

func TestCheckPermission_RequiredRoles(t *testing.T) {
	reg := newRegistry(t)

	cases := []struct {
		name  string
		tool  string
		roles []string
		want  bool
	}{
		{"admin tool without admin role", "audit", []string{"Reader"}, false},
		{"admin tool with admin role", "audit", []string{"Reader", "Admin"}, true},
		{"admin tool with no roles", "audit", nil, false},
		{"open tool with no roles", "search", nil, true},
		{"any of several roles", "edit", []string{"Editor"}, true},
		{"unknown tool", "missing", []string{"Admin"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess := &auth.UserSession{Roles: tc.roles}
			if got := reg.CheckPermission(tc.tool, sess); got != tc.want {
				t.Fatalf("want %v, got %v", tc.want, got)
			}
		})
	}
}

func TestListTools_FiltersByRole(t *testing.T) {
	reg := newRegistry(t)

	got := names(reg.ListTools(&auth.UserSession{Roles: []string{"Reader"}}))
	if len(got) != 1 || got[0] != "search" {
		t.Fatalf("want [search], got %v", got)
	}
	got = names(reg.ListTools(&auth.UserSession{Roles: []string{"Admin"}}))
	if want := []string{"search", "audit", "edit"}; len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("want %v in registration order, got %v", want, got)
	}
	if got := reg.ListTools(nil); len(got) != 3 {
		t.Fatalf("nil session should skip role filtering, got %v", names(got))
	}
}

func TestListTools_Annotations(t *testing.T) {
	reg := newRegistry(t)
	list := reg.ListTools(nil)
	audit := list[1]
	if audit.Annotations == nil || audit.Annotations.Permission != "admin" || audit.Annotations.ReadOnlyHint {
		b, _ := json.Marshal(audit)
		t.Fatalf("unexpected annotations: %s", b)
	}
	if list[0].Annotations == nil || !list[0].Annotations.ReadOnlyHint {
		t.Fatalf("read tool should carry readOnlyHint")
	}
}

func TestSetEnabled(t *testing.T) {
	reg := newRegistry(t)
	admin := &auth.UserSession{Roles: []string{"Admin"}}

	if !reg.SetEnabled("search", false) {
		t.Fatalf("expected existing tool")
	}
	if reg.SetEnabled("missing", false) {
		t.Fatalf("did not expect unknown tool to toggle")
	}
	for _, tl := range reg.ListTools(admin) {
		if tl.Name == "search" {
			t.Fatalf("disabled tool listed")
		}
	}
	if reg.CheckPermission("search", admin) {
		t.Fatalf("disabled tool permitted")
	}
	if _, err := reg.ExecuteTool(context.Background(), "search", nil, admin); !errors.Is(err, tools.ErrToolNotFound) {
		t.Fatalf("want not found for disabled tool, got %v", err)
	}

	reg.SetEnabled("search", true)
	if !reg.CheckPermission("search", admin) {
		t.Fatalf("re-enabled tool not permitted")
	}
}

func TestExecuteTool_DistinctFailures(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()
	reader := &auth.UserSession{Roles: []string{"Reader"}}

	_, err := reg.ExecuteTool(ctx, "missing", nil, reader)
	var nf *tools.NotFoundError
	if !errors.As(err, &nf) || nf.Name != "missing" {
		t.Fatalf("want NotFoundError, got %v", err)
	}
	if errors.Is(err, tools.ErrPermissionDenied) {
		t.Fatalf("not found must not match permission denied")
	}

	_, err = reg.ExecuteTool(ctx, "audit", nil, reader)
	var pd *tools.PermissionDeniedError
	if !errors.As(err, &pd) || pd.Name != "audit" || len(pd.RequiredRoles) != 1 || pd.RequiredRoles[0] != "Admin" {
		t.Fatalf("want PermissionDeniedError, got %v", err)
	}
	if errors.Is(err, tools.ErrToolNotFound) {
		t.Fatalf("permission denied must not match not found")
	}

	res, err := reg.ExecuteTool(ctx, "search", nil, reader)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res.Content) != 1 || res.Content[0].Text != "search" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExecuteTool_HandlerError(t *testing.T) {
	reg := tools.NewRegistry()
	boom := errors.New("boom")
	err := reg.Register(tools.Tool{
		Definition: tools.Definition{Name: "fails", Enabled: true},
		Handler: func(context.Context, *auth.UserSession, json.RawMessage) (*mcp.CallToolResult, error) {
			return nil, boom
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = reg.ExecuteTool(context.Background(), "fails", nil, &auth.UserSession{})
	if !errors.Is(err, boom) {
		t.Fatalf("want wrapped handler error, got %v", err)
	}
}

func TestRegister_LastWriterWins(t *testing.T) {
	reg := newRegistry(t)
	if err := reg.Register(tools.NewTool("search", ok("replaced"), tools.WithDescription("v2"))); err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.Len() != 3 {
		t.Fatalf("want 3 tools after overwrite, got %d", reg.Len())
	}
	def, found := reg.Lookup("search")
	if !found || def.Description != "v2" {
		t.Fatalf("want replaced definition, got %+v", def)
	}
	// Position is kept from the first registration.
	if got := reg.ListTools(nil)[0].Name; got != "search" {
		t.Fatalf("want search first, got %s", got)
	}
	res, err := reg.ExecuteTool(context.Background(), "search", nil, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Content[0].Text != "replaced" {
		t.Fatalf("want replaced handler, got %q", res.Content[0].Text)
	}
}

func TestRegister_Invalid(t *testing.T) {
	reg := tools.NewRegistry()
	cases := map[string]tools.Tool{
		"no name":    tools.NewTool("", ok("x")),
		"no handler": {Definition: tools.Definition{Name: "x"}},
		"bad tier":   tools.NewTool("x", ok("x"), tools.WithPermission("superuser")),
	}
	for name, tl := range cases {
		t.Run(name, func(t *testing.T) {
			if err := reg.Register(tl); !errors.Is(err, tools.ErrInvalidDefinition) {
				t.Fatalf("want ErrInvalidDefinition, got %v", err)
			}
		})
	}
	if reg.Len() != 0 {
		t.Fatalf("invalid tools registered")
	}
}

func TestLookup_ReturnsCopy(t *testing.T) {
	reg := newRegistry(t)
	def, _ := reg.Lookup("audit")
	def.RequiredRoles[0] = "Nobody"
	if !reg.CheckPermission("audit", &auth.UserSession{Roles: []string{"Admin"}}) {
		t.Fatalf("lookup result aliased registry state")
	}
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	reg := newRegistry(t)
	admin := &auth.UserSession{Roles: []string{"Admin"}}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				reg.SetEnabled("edit", (i+j)%2 == 0)
				_ = reg.ListTools(admin)
				_, _ = reg.ExecuteTool(context.Background(), "search", nil, admin)
			}
		}(i)
	}
	wg.Wait()
}
