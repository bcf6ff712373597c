package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shibaleo/mcpist/internal/authz"
	"github.com/shibaleo/mcpist/internal/prompts"
	"github.com/shibaleo/mcpist/internal/registry"
	"github.com/shibaleo/mcpist/internal/usage"
	"github.com/shibaleo/mcpist/pkg/models"
)

// Server dispatches JSON-RPC 2.0 requests against the Module Registry,
// under the authorization already resolved by the Authorizer middleware.
type Server struct {
	registry *registry.Registry
	authz    *authz.Authorizer
	recorder *usage.Recorder
	prompts  *prompts.Service
	version  string
}

// New builds an MCP Server.
func New(reg *registry.Registry, az *authz.Authorizer, recorder *usage.Recorder, pr *prompts.Service, version string) *Server {
	return &Server{registry: reg, authz: az, recorder: recorder, prompts: pr, version: version}
}

// Handle dispatches a single JSON-RPC request. Returns nil for
// notifications (no response expected).
func (s *Server) Handle(ctx context.Context, uc *models.UserContext, raw []byte) *Response {
	// Module handlers pull the user id back out of ctx to fetch tokens
	// from the broker, so the UserContext rides the context too.
	ctx = authz.WithUser(ctx, uc)

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, ErrParseError, "parse error")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, ErrInvalidRequest, "invalid request")
	}

	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, s.handleInitialize())
	case "initialized", "notifications/initialized":
		return nil
	case "tools/list":
		return resultResponse(req.ID, s.handleToolsList(uc))
	case "tools/call":
		return s.handleToolsCall(ctx, uc, req.ID, req.Params)
	case "prompts/list":
		return s.handlePromptsList(ctx, uc, req.ID)
	case "prompts/get":
		return s.handlePromptsGet(ctx, uc, req.ID, req.Params)
	default:
		return errorResponse(req.ID, ErrMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}
}

func (s *Server) handleInitialize() map[string]interface{} {
	return map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]interface{}{
			"tools":   map[string]interface{}{},
			"prompts": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    "mcpist",
			"version": s.version,
		},
	}
}

func (s *Server) handleToolsList(uc *models.UserContext) map[string]interface{} {
	return map[string]interface{}{
		"tools": registry.MetaToolDescriptors(uc.EnabledModules),
	}
}

func (s *Server) handleToolsCall(ctx context.Context, uc *models.UserContext, id json.RawMessage, params json.RawMessage) *Response {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return errorResponse(id, ErrInvalidParams, "invalid tools/call params")
	}

	switch call.Name {
	case registry.MetaGetModuleSchema:
		return s.dispatchGetModuleSchema(uc, id, call.Arguments)
	case registry.MetaRun:
		return s.dispatchRun(ctx, uc, id, call.Arguments)
	case registry.MetaBatch:
		return s.dispatchBatch(ctx, uc, id, call.Arguments)
	default:
		return errorResponse(id, ErrInvalidParams, fmt.Sprintf("unknown tool %q", call.Name))
	}
}

func (s *Server) dispatchGetModuleSchema(uc *models.UserContext, id json.RawMessage, args json.RawMessage) *Response {
	var params struct {
		Module json.RawMessage `json:"module"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return errorResponse(id, ErrInvalidParams, "invalid get_module_schema params")
	}

	var modules []string
	var single string
	if err := json.Unmarshal(params.Module, &single); err == nil {
		modules = []string{single}
	} else if err := json.Unmarshal(params.Module, &modules); err != nil {
		return errorResponse(id, ErrInvalidParams, "module must be a string or array of strings")
	}

	schema, err := s.registry.GetModuleSchema(uc, modules, uc.ModuleDescriptions)
	if err != nil {
		return errorResponse(id, ErrInternal, "internal error")
	}
	out, err := json.Marshal(schema)
	if err != nil {
		return errorResponse(id, ErrInternal, "internal error")
	}
	return resultResponse(id, textResult(string(out)))
}

func (s *Server) dispatchRun(ctx context.Context, uc *models.UserContext, id json.RawMessage, args json.RawMessage) *Response {
	var params struct {
		Module string          `json:"module"`
		Tool   string          `json:"tool"`
		Params json.RawMessage `json:"params"`
		Format string          `json:"format"`
	}
	if err := json.Unmarshal(args, &params); err != nil || params.Module == "" || params.Tool == "" {
		return errorResponse(id, ErrInvalidParams, "invalid run params")
	}

	toolID := params.Module + ":" + params.Tool
	if err := s.authz.CanAccessTool(uc, params.Module, toolID, 1); err != nil {
		return permissionErrorResponse(id, err)
	}

	resultJSON, err := s.registry.Run(ctx, params.Module, params.Tool, params.Params)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownModule) || errors.Is(err, registry.ErrUnknownTool) {
			return errorResponse(id, ErrInvalidParams, err.Error())
		}
		return resultResponse(id, errorResult(err.Error()))
	}

	go s.recorder.Record(context.Background(), uc.UserID, models.MetaToolRun, uc.RequestID,
		[]models.UsageDetail{{Module: params.Module, Tool: params.Tool}})

	if params.Format == "json" {
		return resultResponse(id, textResult(string(resultJSON)))
	}
	compact, err := s.registry.Compact(params.Module, params.Tool, resultJSON)
	if err != nil {
		return resultResponse(id, textResult(string(resultJSON)))
	}
	return resultResponse(id, textResult(compact))
}

// permissionErrorResponse maps an *authz.Error to the JSON-RPC error codes
// the spec's §4.6 error mapping table names.
func permissionErrorResponse(id json.RawMessage, err error) *Response {
	var azErr *authz.Error
	if !errors.As(err, &azErr) {
		return errorResponse(id, ErrInternal, "internal error")
	}
	switch azErr.Code {
	case authz.CodeUsageLimitExceeded:
		return errorResponse(id, ErrUsageLimitExceeded, azErr.Message)
	case authz.CodeModuleNotEnabled, authz.CodeToolDisabled:
		return errorResponse(id, ErrPermissionDenied, azErr.Message)
	default:
		return errorResponse(id, ErrInternal, "internal error")
	}
}

func (s *Server) handlePromptsList(ctx context.Context, uc *models.UserContext, id json.RawMessage) *Response {
	list, err := s.prompts.Enabled(ctx, uc.UserID)
	if err != nil {
		return errorResponse(id, ErrInternal, "internal error")
	}
	type promptSummary struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	out := make([]promptSummary, 0, len(list))
	for _, p := range list {
		out = append(out, promptSummary{Name: p.Name, Description: p.Description})
	}
	return resultResponse(id, map[string]interface{}{"prompts": out})
}

func (s *Server) handlePromptsGet(ctx context.Context, uc *models.UserContext, id json.RawMessage, args json.RawMessage) *Response {
	var params struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments"`
	}
	if err := json.Unmarshal(args, &params); err != nil || params.Name == "" {
		return errorResponse(id, ErrInvalidParams, "invalid prompts/get params")
	}
	p, err := s.prompts.Get(ctx, uc.UserID, params.Name)
	if err != nil || !p.Enabled {
		return errorResponse(id, ErrInvalidParams, fmt.Sprintf("unknown prompt %q", params.Name))
	}
	return resultResponse(id, prompts.RenderMessage(p, params.Arguments))
}
