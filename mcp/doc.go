// Package mcp contains the Model Context Protocol data types exchanged on
// the gateway's tool surface: tool descriptors, call results and the
// initialize handshake served over JSON-RPC. Types are exported structs
// with json tags matching the wire representation.
//
// The package is free of transport and authorization logic. The gateway
// marshals these types directly; the tools package builds them.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "hello"}},
//	}
package mcp
