package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/F-Prime-Capital/mcp-server/internal/jsonrpc"
	"github.com/F-Prime-Capital/mcp-server/internal/logctx"
	"github.com/F-Prime-Capital/mcp-server/mcp"
	"github.com/F-Prime-Capital/mcp-server/tools"
	"github.com/elnormous/contenttype"
)

const serverInstructions = "Tools for searching F-Prime projects, documents and the team directory."

// handleRPC serves single JSON-RPC messages posted to /mcp. Notifications are
// acknowledged with 202 and no body.
func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		h.log.WarnContext(ctx, "content_type.unsupported")
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "content-type must be application/json")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "request body too large")
		return
	}

	req, err := jsonrpc.Decode(body)
	var rpcErr *jsonrpc.Error
	switch {
	case errors.Is(err, jsonrpc.ErrBatch):
		writeError(w, http.StatusBadRequest, "invalid_request", "batch requests are not supported")
		return
	case errors.As(err, &rpcErr):
		writeJSON(w, http.StatusBadRequest, jsonrpc.NewError(nil, rpcErr.Code, rpcErr.Message))
		return
	case err != nil:
		h.log.WarnContext(ctx, "jsonrpc.decode.fail", slog.String("err", err.Error()))
		writeJSON(w, http.StatusBadRequest, jsonrpc.NewError(nil, jsonrpc.ErrorCodeInvalidRequest, "invalid request"))
		return
	}

	if req.IsNotification() {
		h.log.DebugContext(ctx, "jsonrpc.notification", slog.String("method", req.Method))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	ctx = logctx.WithRPCData(ctx, &logctx.RPCData{Method: req.Method, ID: req.ID.String()})
	r = r.WithContext(ctx)

	start := time.Now()
	res := h.dispatch(r, req)
	h.log.InfoContext(ctx, "jsonrpc.handle",
		slog.Bool("error", res.Error != nil),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) dispatch(r *http.Request, req *jsonrpc.Request) *jsonrpc.Response {
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return h.rpcInitialize(req)
	case mcp.PingMethod:
		return h.rpcResult(r, req, struct{}{})
	case mcp.ToolsListMethod:
		sess, _ := SessionFrom(r.Context())
		list := h.tools.ListTools(sess)
		if list == nil {
			list = []mcp.Tool{}
		}
		return h.rpcResult(r, req, mcp.ListToolsResult{Tools: list})
	case mcp.ToolsCallMethod:
		return h.rpcCallTool(r, req)
	}
	return jsonrpc.NewError(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method)
}

func (h *Handler) rpcInitialize(req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewError(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params")
		}
	}
	version := mcp.LatestProtocolVersion
	if slices.Contains(mcp.SupportedProtocolVersions, params.ProtocolVersion) {
		version = params.ProtocolVersion
	}
	res, err := jsonrpc.NewResult(req.ID, mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    mcp.ServerCapabilities{Tools: &mcp.ToolsCapability{}},
		ServerInfo:      mcp.ImplementationInfo{Name: ServiceName, Version: h.version},
		Instructions:    serverInstructions,
	})
	if err != nil {
		return jsonrpc.NewError(req.ID, jsonrpc.ErrorCodeInternalError, "internal error")
	}
	return res
}

func (h *Handler) rpcCallTool(r *http.Request, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return jsonrpc.NewError(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params")
	}

	ctx := logctx.WithToolCallData(r.Context(), &logctx.ToolCallData{ToolName: params.Name})
	sess, _ := SessionFrom(ctx)
	res, err := h.tools.ExecuteTool(ctx, params.Name, params.Arguments, sess)
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		return jsonrpc.NewError(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error())
	case errors.Is(err, tools.ErrPermissionDenied):
		h.log.InfoContext(ctx, "tools.call.denied")
		res = tools.Errorf("%s", err.Error())
	case err != nil:
		h.log.ErrorContext(ctx, "tools.call.fail", slog.String("err", err.Error()))
		res = tools.Errorf("tool execution failed")
	}
	return h.rpcResult(r, req, res)
}

func (h *Handler) rpcResult(r *http.Request, req *jsonrpc.Request, v any) *jsonrpc.Response {
	res, err := jsonrpc.NewResult(req.ID, v)
	if err != nil {
		h.log.ErrorContext(r.Context(), "jsonrpc.result.fail", slog.String("err", err.Error()))
		return jsonrpc.NewError(req.ID, jsonrpc.ErrorCodeInternalError, "internal error")
	}
	return res
}
