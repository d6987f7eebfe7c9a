// Package jsonrpc implements the JSON-RPC 2.0 envelope used by the MCP
// endpoint: single requests and notifications in, single responses out.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the only accepted "jsonrpc" member value.
const ProtocolVersion = "2.0"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	ErrorCodeParseError     ErrorCode = -32700
	ErrorCodeInvalidRequest ErrorCode = -32600
	ErrorCodeMethodNotFound ErrorCode = -32601
	ErrorCodeInvalidParams  ErrorCode = -32602
	ErrorCodeInternalError  ErrorCode = -32603
)

var (
	// ErrBatch is returned by Decode for batch arrays, which are not
	// accepted.
	ErrBatch = errors.New("jsonrpc: batch requests are not supported")
	// ErrInvalidRequest is matched by every envelope validation failure.
	ErrInvalidRequest = errors.New("jsonrpc: invalid request")
)

// ID is a request id kept in its original JSON form so that numbers and
// strings round-trip exactly. A nil ID encodes as null.
type ID json.RawMessage

func (id ID) MarshalJSON() ([]byte, error) {
	if len(id) == 0 {
		return []byte("null"), nil
	}
	return []byte(id), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = nil
		return nil
	case len(data) > 0 && (data[0] == '"' || data[0] == '-' || (data[0] >= '0' && data[0] <= '9')):
		*id = append((*id)[:0], data...)
		return nil
	default:
		return fmt.Errorf("%w: id must be a string or number, got %s", ErrInvalidRequest, data)
	}
}

// String renders the id for logs.
func (id ID) String() string {
	var s string
	if json.Unmarshal(id, &s) == nil {
		return s
	}
	return string(id)
}

// Request is a request or, when it carries no id member, a notification.
// An explicit "id": null is a request whose response carries a null id.
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             ID              `json:"id,omitempty"`

	hasID bool
}

// IsNotification reports whether the sender expects no response.
func (r *Request) IsNotification() bool { return !r.hasID }

// Response carries exactly one of Result or Error.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             ID              `json:"id"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Decode parses a single request. Malformed JSON yields a parse error;
// a well-formed body that is not a valid request yields ErrInvalidRequest.
func Decode(body []byte) (*Request, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		return nil, ErrBatch
	}
	if !json.Valid(body) {
		return nil, &Error{Code: ErrorCodeParseError, Message: "parse error"}
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(body, &members); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	_, req.hasID = members["id"]
	if req.JSONRPCVersion != ProtocolVersion {
		return nil, fmt.Errorf("%w: jsonrpc must be %q", ErrInvalidRequest, ProtocolVersion)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("%w: missing method", ErrInvalidRequest)
	}
	return &req, nil
}

// NewResult builds a successful response.
func NewResult(id ID, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{JSONRPCVersion: ProtocolVersion, Result: b, ID: id}, nil
}

// NewError builds an error response.
func NewError(id ID, code ErrorCode, message string) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error:          &Error{Code: code, Message: message},
		ID:             id,
	}
}
