package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/F-Prime-Capital/mcp-server/auth"
	"github.com/F-Prime-Capital/mcp-server/mcp"
	"github.com/invopop/jsonschema"
)

// ToolOption configures NewTool.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	permission                Permission
	requiredRoles             []string
	disabled                  bool
	allowAdditionalProperties bool // default false (strict)
}

// WithDescription sets the tool description used in listings.
func WithDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithPermission sets the declared tier. The default is PermissionRead.
func WithPermission(p Permission) ToolOption {
	return func(c *toolConfig) { c.permission = p }
}

// WithRequiredRoles restricts the tool to sessions holding any of roles.
func WithRequiredRoles(roles ...string) ToolOption {
	return func(c *toolConfig) { c.requiredRoles = append(c.requiredRoles, roles...) }
}

// WithDisabled registers the tool switched off.
func WithDisabled() ToolOption {
	return func(c *toolConfig) { c.disabled = true }
}

// WithAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the generated schema sets additionalProperties=false and
// runtime decoding rejects unknown fields.
func WithAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool builds a Tool from a typed argument struct A. The input schema is
// reflected from A, and arguments that fail to decode into A produce an
// error result without reaching fn.
func NewTool[A any](name string, fn func(ctx context.Context, session *auth.UserSession, args A) (*mcp.CallToolResult, error), opts ...ToolOption) Tool {
	cfg := toolConfig{permission: PermissionRead}
	for _, opt := range opts {
		opt(&cfg)
	}

	handler := func(ctx context.Context, session *auth.UserSession, raw json.RawMessage) (*mcp.CallToolResult, error) {
		var a A
		if len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			dec := json.NewDecoder(bytes.NewReader(raw))
			if !cfg.allowAdditionalProperties {
				dec.DisallowUnknownFields()
			}
			if err := dec.Decode(&a); err != nil {
				return Errorf("invalid arguments: %v", err), nil
			}
		}
		return fn(ctx, session, a)
	}

	return Tool{
		Definition: Definition{
			Name:          name,
			Description:   cfg.description,
			InputSchema:   reflectInputSchema[A](cfg.allowAdditionalProperties),
			Permission:    cfg.permission,
			RequiredRoles: cfg.requiredRoles,
			Enabled:       !cfg.disabled,
		},
		Handler: handler,
	}
}

// reflectInputSchema reflects A into a jsonschema.Schema and converts it to
// the simplified mcp.ToolInputSchema.
func reflectInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	t := reflect.TypeFor[A]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch {
	case t.Kind() == reflect.Map:
		// Free-form arguments: any object is accepted.
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: true,
		}
	case t.Kind() != reflect.Struct:
		return emptyObjectSchema(allowAdditional)
	}

	r := &jsonschema.Reflector{
		DoNotReference: true, // inline defs
		// Only named structs have a root definition to expand.
		ExpandedStruct:            t.Name() != "",
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.ReflectFromType(t)
	if s == nil || s.Type != "object" {
		return emptyObjectSchema(allowAdditional)
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

func emptyObjectSchema(allowAdditional bool) mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           map[string]mcp.SchemaProperty{},
		AdditionalProperties: allowAdditional,
	}
}

// toProperty recursively maps a jsonschema.Schema to the simplified SchemaProperty.
func toProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// TextResult builds a CallToolResult with a single text block.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf returns an error CallToolResult with a single text block and IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: msg}}, IsError: true}
}

// JSONResult returns v both as indented JSON text and, when v encodes to an
// object, as structured content.
func JSONResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	res := TextResult(string(b))
	var m map[string]any
	if err := json.Unmarshal(b, &m); err == nil {
		res.StructuredContent = m
	}
	return res, nil
}
