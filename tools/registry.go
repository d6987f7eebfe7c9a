// Package tools maps tool names to their schema, authorization requirements
// and handler, and authorizes listing and execution per session.
//
// Tools are registered explicitly at process start:
//
//	reg := tools.NewRegistry()
//	err := reg.Register(
//	    tools.NewTool("echo", echo, tools.WithDescription("Echo input")),
//	    tools.NewTool("audit", audit, tools.WithPermission(tools.PermissionAdmin), tools.WithRequiredRoles("Admin")),
//	)
//
// Registering a name that already exists replaces the earlier definition
// and handler in place (last writer wins) and logs a warning. Listing
// order is registration order of first appearance.
//
// A tool with no required roles is visible to, and executable by, every
// session. A tool with required roles needs at least one of them in the
// session's roles. The Permission tier is descriptive metadata; it is not
// compared or ordered.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/F-Prime-Capital/mcp-server/auth"
	"github.com/F-Prime-Capital/mcp-server/internal/logctx"
	"github.com/F-Prime-Capital/mcp-server/mcp"
)

// Permission is the declared access tier of a tool.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

// Valid reports whether p is one of the declared tiers.
func (p Permission) Valid() bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionAdmin:
		return true
	default:
		return false
	}
}

// Handler executes a tool call on behalf of session. Arguments are the raw
// JSON object sent by the caller, possibly empty.
type Handler func(ctx context.Context, session *auth.UserSession, args json.RawMessage) (*mcp.CallToolResult, error)

// Definition is the metadata of a registered tool. Only Enabled may change
// after registration.
type Definition struct {
	Name          string
	Description   string
	InputSchema   mcp.ToolInputSchema
	Permission    Permission
	RequiredRoles []string
	Enabled       bool
}

// Tool pairs a Definition with its handler for registration.
type Tool struct {
	Definition
	Handler Handler
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	defs     map[string]*Definition
	handlers map[string]Handler

	log *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogHandler sets the handler used for registration and dispatch logs.
func WithLogHandler(h slog.Handler) RegistryOption {
	return func(r *Registry) {
		if h != nil {
			r.log = slog.New(h)
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		defs:     make(map[string]*Definition),
		handlers: make(map[string]Handler),
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds each tool. It stops at the first invalid tool; tools before
// it remain registered.
func (r *Registry) Register(tools ...Tool) error {
	for _, t := range tools {
		if err := validate(t); err != nil {
			return err
		}
		def := t.Definition
		def.RequiredRoles = slices.Clone(def.RequiredRoles)
		if def.Permission == "" {
			def.Permission = PermissionRead
		}

		r.mu.Lock()
		if _, exists := r.defs[def.Name]; exists {
			r.log.Warn("tools.register.replaced", slog.String("name", def.Name))
		} else {
			r.order = append(r.order, def.Name)
		}
		r.defs[def.Name] = &def
		r.handlers[def.Name] = t.Handler
		r.mu.Unlock()
	}
	return nil
}

func validate(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidDefinition)
	}
	if t.Handler == nil {
		return fmt.Errorf("%w: tool %s has no handler", ErrInvalidDefinition, t.Name)
	}
	if t.Permission != "" && !t.Permission.Valid() {
		return fmt.Errorf("%w: tool %s has unknown permission %q", ErrInvalidDefinition, t.Name, t.Permission)
	}
	return nil
}

// Lookup returns a copy of the named definition.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return Definition{}, false
	}
	out := *def
	out.RequiredRoles = slices.Clone(def.RequiredRoles)
	return out, true
}

// SetEnabled toggles a tool. It reports whether the tool exists.
func (r *Registry) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[name]
	if !ok {
		return false
	}
	def.Enabled = enabled
	return true
}

// Len reports the number of registered tools, enabled or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ListTools returns the enabled tools visible to session. A nil session
// skips role filtering.
func (r *Registry) ListTools(session *auth.UserSession) []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		def := r.defs[name]
		if !def.Enabled {
			continue
		}
		if session != nil && !rolesPermit(def.RequiredRoles, session) {
			continue
		}
		out = append(out, descriptor(def))
	}
	return out
}

// CheckPermission reports whether session may execute the named tool. It
// is false for unknown and disabled tools.
func (r *Registry) CheckPermission(name string, session *auth.UserSession) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok || !def.Enabled {
		return false
	}
	return rolesPermit(def.RequiredRoles, session)
}

// ExecuteTool authorizes session against the named tool and invokes its
// handler. Unknown or disabled tools yield a *NotFoundError and missing
// roles a *PermissionDeniedError. Handler errors are returned wrapped.
func (r *Registry) ExecuteTool(ctx context.Context, name string, args json.RawMessage, session *auth.UserSession) (*mcp.CallToolResult, error) {
	r.mu.RLock()
	def, ok := r.defs[name]
	var (
		enabled  bool
		required []string
		h        Handler
	)
	if ok {
		enabled, required, h = def.Enabled, slices.Clone(def.RequiredRoles), r.handlers[name]
	}
	r.mu.RUnlock()

	if !ok || !enabled {
		return nil, &NotFoundError{Name: name}
	}
	if !rolesPermit(required, session) {
		r.log.WarnContext(ctx, "tools.execute.denied", slog.String("name", name))
		return nil, &PermissionDeniedError{Name: name, RequiredRoles: required}
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: name})
	r.log.InfoContext(ctx, "tools.execute")

	res, err := h(ctx, session, args)
	if err != nil {
		r.log.ErrorContext(ctx, "tools.execute.failed", slog.String("err", err.Error()))
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	if res == nil {
		res = &mcp.CallToolResult{}
	}
	return res, nil
}

func rolesPermit(required []string, session *auth.UserSession) bool {
	if len(required) == 0 {
		return true
	}
	if session == nil {
		return false
	}
	for _, role := range required {
		if session.HasRole(role) {
			return true
		}
	}
	return false
}

func descriptor(def *Definition) mcp.Tool {
	return mcp.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: def.InputSchema,
		Annotations: &mcp.ToolAnnotations{
			Permission:    string(def.Permission),
			RequiredRoles: slices.Clone(def.RequiredRoles),
			ReadOnlyHint:  def.Permission == PermissionRead,
		},
	}
}
