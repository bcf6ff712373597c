package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/shibaleo/mcpist/internal/authz"
	"github.com/shibaleo/mcpist/internal/registry"
	"github.com/shibaleo/mcpist/pkg/models"
)

// Jira Cloud routes through the Atlassian API gateway; the cloud id is
// part of the user's credential (Extra["cloud_id"]), not the module
// config, so the base here is the gateway origin.
const jiraAPIBase = "https://api.atlassian.com"

type jira struct {
	deps Deps
	base string
}

// NewJira builds the jira module: JQL search, issue read, and issue
// creation over the Jira Cloud REST API.
func NewJira(deps Deps) registry.ModuleImpl {
	j := &jira{deps: deps, base: jiraAPIBase}
	if deps.BaseURL != "" {
		j.base = deps.BaseURL
	}
	return registry.ModuleImpl{
		Module:  jiraModule(),
		Run:     j.run,
		Compact: j.compact,
	}
}

func jiraModule() models.Module {
	const m = "jira"
	return models.Module{
		Name:   m,
		Status: models.ModuleBeta,
		Descriptions: map[string]string{
			"en": "Search and manage Jira issues with JQL.",
		},
		Tools: []models.ToolDescriptor{
			{
				ID:          toolID(m, "search"),
				Name:        "search",
				Descriptions: map[string]string{"en": "Search issues with a JQL query."},
				Annotations: models.ToolAnnotations{ReadOnlyHint: boolPtr(true)},
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"jql": map[string]interface{}{"type": "string"},
					},
					"required": []interface{}{"jql"},
				},
			},
			{
				ID:          toolID(m, "get_issue"),
				Name:        "get_issue",
				Descriptions: map[string]string{"en": "Fetch one issue by key."},
				Annotations: models.ToolAnnotations{ReadOnlyHint: boolPtr(true)},
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"key": map[string]interface{}{"type": "string"},
					},
					"required": []interface{}{"key"},
				},
			},
			{
				ID:          toolID(m, "create_issue"),
				Name:        "create_issue",
				Descriptions: map[string]string{"en": "Create an issue in a project."},
				Annotations: models.ToolAnnotations{DestructiveHint: boolPtr(false)},
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"project": map[string]interface{}{"type": "string"},
						"summary": map[string]interface{}{"type": "string"},
						"type":    map[string]interface{}{"type": "string", "default": "Task"},
					},
					"required": []interface{}{"project", "summary"},
				},
			},
		},
	}
}

// apiRoot resolves the per-user Jira Cloud REST root. The OAuth consent
// stores the granted site's cloud id alongside the token.
func (j *jira) apiRoot(ctx context.Context) (string, string, error) {
	uc, ok := authz.UserFrom(ctx)
	if !ok {
		return "", "", fmt.Errorf("jira: no authenticated user in context")
	}
	cred, err := j.deps.Tokens.GetModuleToken(ctx, uc.UserID, "jira")
	if err != nil {
		return "", "", err
	}
	cloudID, _ := cred.Extra["cloud_id"].(string)
	if cloudID == "" {
		return "", "", fmt.Errorf("jira: credential is missing cloud_id; re-link the jira module")
	}
	return fmt.Sprintf("%s/ex/jira/%s/rest/api/3", j.base, url.PathEscape(cloudID)), cred.AccessToken, nil
}

func (j *jira) run(ctx context.Context, tool string, paramsJSON []byte) ([]byte, error) {
	root, bearer, err := j.apiRoot(ctx)
	if err != nil {
		return nil, err
	}

	switch tool {
	case "search":
		var p struct {
			JQL string `json:"jql"`
		}
		if err := unmarshalParams(paramsJSON, &p); err != nil || p.JQL == "" {
			return nil, fmt.Errorf("jira: jql is required")
		}
		body := map[string]interface{}{"jql": p.JQL, "maxResults": 25, "fields": []string{"summary", "status", "assignee"}}
		return doJSON(ctx, j.deps.client(), "POST", root+"/search", bearer, body, nil)

	case "get_issue":
		var p struct {
			Key string `json:"key"`
		}
		if err := unmarshalParams(paramsJSON, &p); err != nil || p.Key == "" {
			return nil, fmt.Errorf("jira: key is required")
		}
		return doJSON(ctx, j.deps.client(), "GET", root+"/issue/"+url.PathEscape(p.Key), bearer, nil, nil)

	case "create_issue":
		var p struct {
			Project string `json:"project"`
			Summary string `json:"summary"`
			Type    string `json:"type"`
		}
		if err := unmarshalParams(paramsJSON, &p); err != nil || p.Project == "" || p.Summary == "" {
			return nil, fmt.Errorf("jira: project and summary are required")
		}
		if p.Type == "" {
			p.Type = "Task"
		}
		body := map[string]interface{}{
			"fields": map[string]interface{}{
				"project":   map[string]string{"key": p.Project},
				"summary":   p.Summary,
				"issuetype": map[string]string{"name": p.Type},
			},
		}
		return doJSON(ctx, j.deps.client(), "POST", root+"/issue", bearer, body, nil)

	default:
		return nil, fmt.Errorf("jira: unknown tool %q", tool)
	}
}

func (j *jira) compact(tool string, resultJSON []byte) (string, error) {
	var v interface{}
	if err := json.Unmarshal(resultJSON, &v); err != nil {
		return "", err
	}
	issueRow := func(item interface{}) []string {
		return []string{
			jsonStr(item, "key"),
			jsonStr(item, "fields", "status", "name"),
			jsonStr(item, "fields", "summary"),
		}
	}
	switch tool {
	case "search":
		rows := make([][]string, 0)
		for _, item := range jsonArr(v, "issues") {
			rows = append(rows, issueRow(item))
		}
		return compactRows([]string{"key", "status", "summary"}, rows), nil
	case "get_issue":
		return compactRows([]string{"key", "status", "summary"}, [][]string{issueRow(v)}), nil
	case "create_issue":
		return compactRows([]string{"key", "id"}, [][]string{{jsonStr(v, "key"), jsonStr(v, "id")}}), nil
	default:
		return string(resultJSON), nil
	}
}
