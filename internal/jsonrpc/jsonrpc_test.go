package jsonrpc

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr error
		notify  bool
		id      string
	}{
		{name: "numeric id", body: `{"jsonrpc":"2.0","id":7,"method":"ping"}`, id: "7"},
		{name: "string id", body: `{"jsonrpc":"2.0","id":"abc","method":"ping"}`, id: `"abc"`},
		{name: "notification", body: `{"jsonrpc":"2.0","method":"notifications/initialized"}`, notify: true},
		{name: "null id is a request", body: `{"jsonrpc":"2.0","id":null,"method":"ping"}`, id: ""},
		{name: "batch", body: ` [{"jsonrpc":"2.0","id":1,"method":"ping"}]`, wantErr: ErrBatch},
		{name: "wrong version", body: `{"jsonrpc":"1.0","id":1,"method":"ping"}`, wantErr: ErrInvalidRequest},
		{name: "missing method", body: `{"jsonrpc":"2.0","id":1}`, wantErr: ErrInvalidRequest},
		{name: "object id", body: `{"jsonrpc":"2.0","id":{},"method":"ping"}`, wantErr: ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := Decode([]byte(tc.body))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("want %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if req.IsNotification() != tc.notify {
				t.Fatalf("want notification=%v", tc.notify)
			}
			if !tc.notify && string(req.ID) != tc.id {
				t.Fatalf("want id %s, got %s", tc.id, req.ID)
			}
		})
	}
}

func TestDecode_ParseError(t *testing.T) {
	_, err := Decode([]byte(`{"jsonrpc":`))
	var rpcErr *Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != ErrorCodeParseError {
		t.Fatalf("want parse error, got %v", err)
	}
}

func TestResponseIDRoundTrip(t *testing.T) {
	req, err := Decode([]byte(`{"jsonrpc":"2.0","id":12345678901234567890,"method":"ping"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	res, err := NewResult(req.ID, map[string]any{})
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if want := `{"jsonrpc":"2.0","result":{},"id":12345678901234567890}`; string(b) != want {
		t.Fatalf("want %s, got %s", want, b)
	}

	b, _ = json.Marshal(NewError(nil, ErrorCodeInvalidRequest, "invalid request"))
	if want := `{"jsonrpc":"2.0","error":{"code":-32600,"message":"invalid request"},"id":null}`; string(b) != want {
		t.Fatalf("want %s, got %s", want, b)
	}
}
