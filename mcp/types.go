package mcp

import "encoding/json"

// ContentTypeText identifies a text content block.
const ContentTypeText = "text"

// ContentBlock is a typed content part of a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	// For TextContent
	Text string `json:"text,omitzero"`
	// For ImageContent and AudioContent
	Data     string `json:"data,omitzero"`
	MimeType string `json:"mimeType,omitzero"`
	// For ResourceLink
	URI         string `json:"uri,omitzero"`
	Name        string `json:"name,omitzero"`
	Description string `json:"description,omitzero"`
}

// BaseMetadata carries implementation-defined metadata under _meta.
type BaseMetadata struct {
	Meta map[string]any `json:"_meta,omitempty"`
}

// Tool describes an invocable tool and its input schema.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
	// Annotations carry gateway authorization metadata for clients.
	Annotations *ToolAnnotations `json:"annotations,omitempty"`
}

// ToolInputSchema is a JSON-schema-like description of tool input.
type ToolInputSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]SchemaProperty `json:"properties,omitempty"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties bool                      `json:"additionalProperties,omitzero"`
}

// SchemaProperty is a simplified schema node used in tool schemas.
type SchemaProperty struct {
	Type        string                    `json:"type,omitempty"`
	Description string                    `json:"description,omitzero"`
	Items       *SchemaProperty           `json:"items,omitempty"`
	Properties  map[string]SchemaProperty `json:"properties,omitempty"`
	Enum        []any                     `json:"enum,omitempty"`
}

// ToolAnnotations describe what a caller needs to invoke a tool.
type ToolAnnotations struct {
	Permission    string   `json:"permission,omitempty"`
	RequiredRoles []string `json:"requiredRoles,omitempty"`
	ReadOnlyHint  bool     `json:"readOnlyHint,omitzero"`
}

// CallToolRequestReceived is the server-received representation of a tool call.
type CallToolRequestReceived struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult returns tool output content.
type CallToolResult struct {
	Content []ContentBlock `json:"content,omitempty"`
	IsError bool           `json:"isError,omitzero"`
	// StructuredContent contains a typed object produced by the tool.
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	BaseMetadata
}

// ListToolsResult is the body of a tool listing.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
	BaseMetadata
}

// Method is an MCP method identifier used in JSON-RPC messages.
type Method string

// MCP methods served by the gateway.
const (
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"
	PingMethod                    Method = "ping"
	ToolsListMethod               Method = "tools/list"
	ToolsCallMethod               Method = "tools/call"
)

// LatestProtocolVersion is the latest version of the protocol.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists the versions the gateway can negotiate,
// newest first.
var SupportedProtocolVersions = []string{LatestProtocolVersion, "2025-03-26", "2024-11-05"}

// ImplementationInfo describes the implementation name and version.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitzero"`
}

// InitializeRequest opens an MCP conversation.
type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    map[string]any     `json:"capabilities,omitempty"`
	ClientInfo      ImplementationInfo `json:"clientInfo"`
}

// ServerCapabilities advertises server features.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability is present when the server offers tools.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// InitializeResult answers an InitializeRequest.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitzero"`
	BaseMetadata
}
