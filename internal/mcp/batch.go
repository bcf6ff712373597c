package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/shibaleo/mcpist/internal/authz"
	"github.com/shibaleo/mcpist/pkg/models"
)

// logSecurityEvent emits a structured, server-side-only security log line
// for batch pre-flight denials — mirrors internal/authz's own helper since
// it isn't exported across the package boundary.
func logSecurityEvent(event string, fields map[string]interface{}) {
	ev := log.Warn().Str("security_event", event)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg("security event")
}

const maxBatchCommands = 10

// batchCommand is one parsed line of a batch request.
type batchCommand struct {
	Module string          `json:"module"`
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params"`
	TaskID string          `json:"task_id,omitempty"`
}

// batchTaskResult is one line of the batch response, keyed by TaskID when
// the caller supplied one.
type batchTaskResult struct {
	TaskID  string `json:"task_id,omitempty"`
	Module  string `json:"module"`
	Tool    string `json:"tool"`
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"isError,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) dispatchBatch(ctx context.Context, uc *models.UserContext, id json.RawMessage, args json.RawMessage) *Response {
	var params struct {
		Commands string `json:"commands"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return errorResponse(id, ErrInvalidParams, "invalid batch params")
	}

	commands := parseBatchCommands(params.Commands)
	if len(commands) > maxBatchCommands {
		return errorResponse(id, ErrInvalidParams, fmt.Sprintf("batch too large: %d commands (max %d)", len(commands), maxBatchCommands))
	}
	if len(commands) == 0 {
		return resultResponse(id, map[string]interface{}{"results": []batchTaskResult{}})
	}

	// Pre-flight permission check is all-or-nothing: every command's
	// (module, tool) must be permitted before any executes.
	var denied []string
	for _, cmd := range commands {
		toolID := cmd.Module + ":" + cmd.Tool
		if err := s.authz.CanAccessTool(uc, cmd.Module, toolID, 0); err != nil {
			var azErr *authz.Error
			if errors.As(err, &azErr) {
				denied = append(denied, fmt.Sprintf("%s(%s)", toolID, azErr.Code))
			} else {
				denied = append(denied, toolID)
			}
		}
	}
	if len(denied) > 0 {
		logSecurityEvent("batch_permission_denied", map[string]interface{}{
			"user_id":      uc.UserID,
			"request_id":   uc.RequestID,
			"denied_tools": denied,
		})
		return errorResponse(id, ErrPermissionDenied, "batch rejected: one or more tools are not permitted")
	}

	if uc.DailyUsed+len(commands) > uc.DailyLimit {
		return errorResponse(id, ErrUsageLimitExceeded, "daily usage limit exceeded")
	}

	results := make([]batchTaskResult, 0, len(commands))
	var successDetails []models.UsageDetail
	for _, cmd := range commands {
		res := batchTaskResult{TaskID: cmd.TaskID, Module: cmd.Module, Tool: cmd.Tool}
		resultJSON, err := s.registry.Run(ctx, cmd.Module, cmd.Tool, cmd.Params)
		if err != nil {
			res.IsError = true
			res.Error = err.Error()
		} else {
			compact, cerr := s.registry.Compact(cmd.Module, cmd.Tool, resultJSON)
			if cerr != nil {
				res.Result = string(resultJSON)
			} else {
				res.Result = compact
			}
			successDetails = append(successDetails, models.UsageDetail{Module: cmd.Module, Tool: cmd.Tool, TaskID: cmd.TaskID})
		}
		results = append(results, res)
	}

	// One record per successful sub-task, all sharing the request id, so
	// daily_used accounting matches the pre-flight's per-command count.
	if len(successDetails) > 0 {
		go func() {
			for _, d := range successDetails {
				s.recorder.Record(context.Background(), uc.UserID, models.MetaToolBatch, uc.RequestID, []models.UsageDetail{d})
			}
		}()
	}

	return resultResponse(id, map[string]interface{}{"results": results})
}

// parseBatchCommands splits on newlines and skips blank lines. Per the
// spec's §9 open question, a malformed or incomplete line is also
// skipped rather than treated as an error — the size limit in dispatchBatch is
// checked against what survives parsing, not the raw line count, which
// means a typo and an intentionally-omitted line are indistinguishable
// to the caller. That ambiguity is accepted, not a bug.
func parseBatchCommands(raw string) []batchCommand {
	lines := strings.Split(raw, "\n")
	var out []batchCommand
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var cmd batchCommand
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			continue
		}
		if cmd.Module == "" || cmd.Tool == "" {
			continue
		}
		out = append(out, cmd)
	}
	return out
}
