// Package wellknown holds the discovery documents the gateway publishes.
package wellknown

// ProtectedResourcePath is where OAuth 2.0 protected resource metadata
// (RFC 9728) is served.
const ProtectedResourcePath = "/.well-known/oauth-protected-resource"

// ProtectedResourceMetadata tells MCP clients which authorization server
// issues tokens for the resource and how to present them.
type ProtectedResourceMetadata struct {
	Resource                          string   `json:"resource"`
	AuthorizationServers              []string `json:"authorization_servers,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported            []string `json:"bearer_methods_supported,omitempty"`
	ResourceSigningAlgValuesSupported []string `json:"resource_signing_alg_values_supported,omitempty"`
	ResourceName                      string   `json:"resource_name,omitempty"`
	ResourceDocumentation             string   `json:"resource_documentation,omitempty"`
}
