package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shibaleo/mcpist/internal/authz"
	"github.com/shibaleo/mcpist/internal/mcp"
	"github.com/shibaleo/mcpist/internal/prompts"
	"github.com/shibaleo/mcpist/internal/registry"
	"github.com/shibaleo/mcpist/internal/store"
	"github.com/shibaleo/mcpist/internal/usage"
	"github.com/shibaleo/mcpist/pkg/models"
)

func boolPtr(b bool) *bool { return &b }

// fakeNotion is a test module with one read-only and one destructive tool.
func fakeNotion() registry.ModuleImpl {
	return registry.ModuleImpl{
		Module: models.Module{
			Name:   "notion",
			Status: models.ModuleActive,
			Descriptions: map[string]string{"en": "Fake Notion"},
			Tools: []models.ToolDescriptor{
				{
					ID: "notion:search", Name: "search",
					Annotations: models.ToolAnnotations{ReadOnlyHint: boolPtr(true)},
					InputSchema: map[string]interface{}{"type": "object"},
				},
				{
					ID: "notion:delete_page", Name: "delete_page",
					InputSchema: map[string]interface{}{"type": "object"},
				},
			},
		},
		Run: func(ctx context.Context, tool string, params []byte) ([]byte, error) {
			if tool == "fail" {
				return nil, fmt.Errorf("provider returned 503")
			}
			return []byte(`{"results":[{"id":"p1","title":"todo list"}]}`), nil
		},
		Compact: func(tool string, resultJSON []byte) (string, error) {
			return "id,title\np1,todo list", nil
		},
	}
}

type testEnv struct {
	server *mcp.Server
	db     *store.Memory
	uc     *models.UserContext
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := store.NewMemory()
	reg := registry.New(fakeNotion())
	recorder := usage.New(db)
	az := authz.New(nil, db, recorder, "")
	promptSvc := prompts.New(db)
	server := mcp.New(reg, az, recorder, promptSvc, "test")

	uc := &models.UserContext{
		UserID:       "u1",
		PlanID:       "free",
		DailyUsed:    5,
		DailyLimit:   50,
		EnabledTools: map[string][]string{"notion": {"notion:search"}},
		RequestID:    "req-1",
	}
	return &testEnv{server: server, db: db, uc: uc}
}

func (e *testEnv) call(t *testing.T, body string) *mcp.Response {
	t.Helper()
	return e.server.Handle(context.Background(), e.uc, []byte(body))
}

func (e *testEnv) usageCount(t *testing.T) int {
	t.Helper()
	n, err := e.db.CountUsageSince(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	return n
}

func TestInitialize(t *testing.T) {
	e := newTestEnv(t)
	resp := e.call(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]interface{})
	assert.Equal(t, mcp.ProtocolVersion, result["protocolVersion"])
	assert.Contains(t, result, "capabilities")
	assert.Contains(t, result, "serverInfo")
}

func TestInitializedNotificationHasNoResponse(t *testing.T) {
	e := newTestEnv(t)
	resp := e.call(t, `{"jsonrpc":"2.0","method":"initialized"}`)
	assert.Nil(t, resp)
}

func TestToolsListExposesOnlyMetaTools(t *testing.T) {
	e := newTestEnv(t)
	e.uc.EnabledModules = []string{"notion"}
	resp := e.call(t, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]interface{})
	tools := result["tools"].([]models.ToolDescriptor)
	require.Len(t, tools, 3)
	names := []string{tools[0].Name, tools[1].Name, tools[2].Name}
	assert.ElementsMatch(t, []string{"get_module_schema", "run", "batch"}, names)
}

func TestUnknownMethod(t *testing.T) {
	e := newTestEnv(t)
	resp := e.call(t, `{"jsonrpc":"2.0","id":3,"method":"bogus/method"}`)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrMethodNotFound, resp.Error.Code)
}

func TestParseError(t *testing.T) {
	e := newTestEnv(t)
	resp := e.call(t, `{not json`)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrParseError, resp.Error.Code)
}

func TestRunSuccessRecordsUsageAndCompacts(t *testing.T) {
	e := newTestEnv(t)
	resp := e.call(t, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"run","arguments":{"module":"notion","tool":"search","params":{"q":"todo"}}}}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result := resp.Result.(*mcp.ToolCallResult)
	require.NotEmpty(t, result.Content)
	assert.False(t, result.IsError)
	assert.Equal(t, "id,title\np1,todo list", result.Content[0].Text)

	// Usage lands asynchronously off the response path.
	require.Eventually(t, func() bool { return e.usageCount(t) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRunJSONFormatSkipsCompacter(t *testing.T) {
	e := newTestEnv(t)
	resp := e.call(t, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"run","arguments":{"module":"notion","tool":"search","params":{},"format":"json"}}}`)
	require.Nil(t, resp.Error)
	result := resp.Result.(*mcp.ToolCallResult)
	assert.JSONEq(t, `{"results":[{"id":"p1","title":"todo list"}]}`, result.Content[0].Text)
}

func TestRunDisabledTool(t *testing.T) {
	e := newTestEnv(t)
	resp := e.call(t, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"run","arguments":{"module":"notion","tool":"delete_page","params":{}}}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrPermissionDenied, resp.Error.Code)
	assert.Equal(t, "Tool 'notion:delete_page' is not enabled for your account", resp.Error.Message)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, e.usageCount(t), "denied call must not write usage")
}

func TestRunModuleNotEnabled(t *testing.T) {
	e := newTestEnv(t)
	resp := e.call(t, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"run","arguments":{"module":"github","tool":"search_issues","params":{}}}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrPermissionDenied, resp.Error.Code)
}

func TestRunQuotaExceeded(t *testing.T) {
	e := newTestEnv(t)
	e.uc.DailyUsed = 50
	resp := e.call(t, `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"run","arguments":{"module":"notion","tool":"search","params":{}}}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrUsageLimitExceeded, resp.Error.Code)
}

func TestGetModuleSchemaFiltersDisabledTools(t *testing.T) {
	e := newTestEnv(t)
	resp := e.call(t, `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"get_module_schema","arguments":{"module":"notion"}}}`)
	require.Nil(t, resp.Error)

	result := resp.Result.(*mcp.ToolCallResult)
	var schema map[string]struct {
		Description string                  `json:"description"`
		Tools       []models.ToolDescriptor `json:"tools"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &schema))
	require.Contains(t, schema, "notion")
	require.Len(t, schema["notion"].Tools, 1)
	assert.Equal(t, "notion:search", schema["notion"].Tools[0].ID)
}

func TestPromptsListAndGet(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.db.UpsertPrompt(context.Background(), &models.Prompt{
		ID: "pr1", UserID: "u1", Name: "standup", Content: "Summarize {{topic}}", Enabled: true,
	}))
	require.NoError(t, e.db.UpsertPrompt(context.Background(), &models.Prompt{
		ID: "pr2", UserID: "u1", Name: "hidden", Content: "x", Enabled: false,
	}))

	resp := e.call(t, `{"jsonrpc":"2.0","id":10,"method":"prompts/list"}`)
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "standup")
	assert.NotContains(t, string(raw), "hidden")

	resp = e.call(t, `{"jsonrpc":"2.0","id":11,"method":"prompts/get","params":{"name":"standup","arguments":{"topic":"the sprint"}}}`)
	require.Nil(t, resp.Error)
	raw, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Summarize the sprint")

	resp = e.call(t, `{"jsonrpc":"2.0","id":12,"method":"prompts/get","params":{"name":"hidden"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrInvalidParams, resp.Error.Code)
}
