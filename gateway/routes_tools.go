package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/F-Prime-Capital/mcp-server/internal/logctx"
	"github.com/F-Prime-Capital/mcp-server/mcp"
	"github.com/F-Prime-Capital/mcp-server/tools"
	"github.com/elnormous/contenttype"
)

type listToolsResponse struct {
	User  string     `json:"user"`
	Tools []mcp.Tool `json:"tools"`
}

func (h *Handler) handleListTools(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())
	list := h.tools.ListTools(sess)
	if list == nil {
		list = []mcp.Tool{}
	}
	writeJSON(w, http.StatusOK, listToolsResponse{User: sess.Email, Tools: list})
}

func (h *Handler) handleCallTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		h.log.WarnContext(ctx, "content_type.unsupported")
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "content-type must be application/json")
		return
	}

	var req mcp.CallToolRequestReceived
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "tool name is required")
		return
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: req.Name})
	sess, _ := SessionFrom(ctx)
	res, err := h.tools.ExecuteTool(ctx, req.Name, req.Arguments, sess)
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		writeError(w, http.StatusNotFound, "tool_not_found", err.Error())
		return
	case errors.Is(err, tools.ErrPermissionDenied):
		h.log.InfoContext(ctx, "tools.call.denied")
		writeError(w, http.StatusForbidden, "permission_denied", err.Error())
		return
	case err != nil:
		h.log.ErrorContext(ctx, "tools.call.fail", slog.String("err", err.Error()))
		res = &mcp.CallToolResult{
			Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "tool execution failed"}},
			IsError: true,
		}
	}
	writeJSON(w, http.StatusOK, res)
}
