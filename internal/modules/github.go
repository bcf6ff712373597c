package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/shibaleo/mcpist/internal/registry"
	"github.com/shibaleo/mcpist/pkg/models"
)

const githubAPIBase = "https://api.github.com"

type github struct {
	deps Deps
	base string
}

// NewGitHub builds the github module: repo/issue search, issue read, and
// issue create/close over the GitHub REST API.
func NewGitHub(deps Deps) registry.ModuleImpl {
	g := &github{deps: deps, base: githubAPIBase}
	if deps.BaseURL != "" {
		g.base = deps.BaseURL
	}
	return registry.ModuleImpl{
		Module:  githubModule(),
		Run:     g.run,
		Compact: g.compact,
	}
}

func githubModule() models.Module {
	const m = "github"
	return models.Module{
		Name:   m,
		Status: models.ModuleActive,
		Descriptions: map[string]string{
			"en": "Search repositories, read and manage issues on GitHub.",
		},
		Tools: []models.ToolDescriptor{
			{
				ID:          toolID(m, "search_issues"),
				Name:        "search_issues",
				Descriptions: map[string]string{"en": "Search issues and pull requests with a GitHub search query."},
				Annotations: models.ToolAnnotations{ReadOnlyHint: boolPtr(true)},
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"q": map[string]interface{}{"type": "string"},
					},
					"required": []interface{}{"q"},
				},
			},
			{
				ID:          toolID(m, "get_issue"),
				Name:        "get_issue",
				Descriptions: map[string]string{"en": "Fetch one issue by owner/repo/number."},
				Annotations: models.ToolAnnotations{ReadOnlyHint: boolPtr(true)},
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"owner":  map[string]interface{}{"type": "string"},
						"repo":   map[string]interface{}{"type": "string"},
						"number": map[string]interface{}{"type": "integer"},
					},
					"required": []interface{}{"owner", "repo", "number"},
				},
			},
			{
				ID:          toolID(m, "create_issue"),
				Name:        "create_issue",
				Descriptions: map[string]string{"en": "Open a new issue in a repository."},
				Annotations: models.ToolAnnotations{DestructiveHint: boolPtr(false)},
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"owner": map[string]interface{}{"type": "string"},
						"repo":  map[string]interface{}{"type": "string"},
						"title": map[string]interface{}{"type": "string"},
						"body":  map[string]interface{}{"type": "string"},
					},
					"required": []interface{}{"owner", "repo", "title"},
				},
			},
			{
				ID:          toolID(m, "close_issue"),
				Name:        "close_issue",
				Descriptions: map[string]string{"en": "Close an issue by owner/repo/number."},
				Annotations: models.ToolAnnotations{IdempotentHint: boolPtr(true)},
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"owner":  map[string]interface{}{"type": "string"},
						"repo":   map[string]interface{}{"type": "string"},
						"number": map[string]interface{}{"type": "integer"},
					},
					"required": []interface{}{"owner", "repo", "number"},
				},
			},
		},
	}
}

type githubIssueRef struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

func (ref githubIssueRef) path() (string, error) {
	if ref.Owner == "" || ref.Repo == "" || ref.Number <= 0 {
		return "", fmt.Errorf("github: owner, repo, and number are required")
	}
	return fmt.Sprintf("/repos/%s/%s/issues/%d", url.PathEscape(ref.Owner), url.PathEscape(ref.Repo), ref.Number), nil
}

func (g *github) run(ctx context.Context, tool string, paramsJSON []byte) ([]byte, error) {
	bearer, err := bearerFor(ctx, g.deps.Tokens, "github")
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"Accept": "application/vnd.github+json"}

	switch tool {
	case "search_issues":
		var p struct {
			Q string `json:"q"`
		}
		if err := unmarshalParams(paramsJSON, &p); err != nil || p.Q == "" {
			return nil, fmt.Errorf("github: q is required")
		}
		u := g.base + "/search/issues?q=" + url.QueryEscape(p.Q) + "&per_page=25"
		return doJSON(ctx, g.deps.client(), "GET", u, bearer, nil, headers)

	case "get_issue":
		var ref githubIssueRef
		if err := unmarshalParams(paramsJSON, &ref); err != nil {
			return nil, fmt.Errorf("github: bad params: %w", err)
		}
		path, err := ref.path()
		if err != nil {
			return nil, err
		}
		return doJSON(ctx, g.deps.client(), "GET", g.base+path, bearer, nil, headers)

	case "create_issue":
		var p struct {
			Owner string `json:"owner"`
			Repo  string `json:"repo"`
			Title string `json:"title"`
			Body  string `json:"body"`
		}
		if err := unmarshalParams(paramsJSON, &p); err != nil || p.Owner == "" || p.Repo == "" || p.Title == "" {
			return nil, fmt.Errorf("github: owner, repo, and title are required")
		}
		u := fmt.Sprintf("%s/repos/%s/%s/issues", g.base, url.PathEscape(p.Owner), url.PathEscape(p.Repo))
		return doJSON(ctx, g.deps.client(), "POST", u, bearer, map[string]string{"title": p.Title, "body": p.Body}, headers)

	case "close_issue":
		var ref githubIssueRef
		if err := unmarshalParams(paramsJSON, &ref); err != nil {
			return nil, fmt.Errorf("github: bad params: %w", err)
		}
		path, err := ref.path()
		if err != nil {
			return nil, err
		}
		return doJSON(ctx, g.deps.client(), "PATCH", g.base+path, bearer, map[string]string{"state": "closed"}, headers)

	default:
		return nil, fmt.Errorf("github: unknown tool %q", tool)
	}
}

func (g *github) compact(tool string, resultJSON []byte) (string, error) {
	var v interface{}
	if err := json.Unmarshal(resultJSON, &v); err != nil {
		return "", err
	}
	issueRow := func(item interface{}) []string {
		return []string{
			jsonStr(item, "number"),
			jsonStr(item, "state"),
			jsonStr(item, "title"),
			jsonStr(item, "html_url"),
		}
	}
	switch tool {
	case "search_issues":
		rows := make([][]string, 0)
		for _, item := range jsonArr(v, "items") {
			rows = append(rows, issueRow(item))
		}
		return compactRows([]string{"number", "state", "title", "url"}, rows), nil
	case "get_issue", "create_issue", "close_issue":
		return compactRows([]string{"number", "state", "title", "url"}, [][]string{issueRow(v)}), nil
	default:
		return string(resultJSON), nil
	}
}
