package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/shibaleo/mcpist/internal/registry"
	"github.com/shibaleo/mcpist/pkg/models"
)

const notionAPIBase = "https://api.notion.com/v1"

// notionVersion pins the Notion-Version header every call must carry.
const notionVersion = "2022-06-28"

type notion struct {
	deps Deps
	base string
}

// NewNotion builds the notion module: workspace search, page read/write,
// and page archival over the Notion REST API.
func NewNotion(deps Deps) registry.ModuleImpl {
	n := &notion{deps: deps, base: notionAPIBase}
	if deps.BaseURL != "" {
		n.base = deps.BaseURL
	}
	return registry.ModuleImpl{
		Module:  notionModule(),
		Run:     n.run,
		Compact: n.compact,
	}
}

func notionModule() models.Module {
	const m = "notion"
	return models.Module{
		Name:   m,
		Status: models.ModuleActive,
		Descriptions: map[string]string{
			"en": "Search, read, create, and archive pages in a Notion workspace.",
		},
		Tools: []models.ToolDescriptor{
			{
				ID:   toolID(m, "search"),
				Name: "search",
				Descriptions: map[string]string{
					"en": "Search pages and databases by title text.",
				},
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
				ID:   toolID(m, "get_page"),
				Name: "get_page",
				Descriptions: map[string]string{
					"en": "Fetch one page's properties by id.",
				},
				Annotations: models.ToolAnnotations{ReadOnlyHint: boolPtr(true)},
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"page_id": map[string]interface{}{"type": "string"},
					},
					"required": []interface{}{"page_id"},
				},
			},
			{
				ID:   toolID(m, "create_page"),
				Name: "create_page",
				Descriptions: map[string]string{
					"en": "Create a page under a parent page or database.",
				},
				Annotations: models.ToolAnnotations{DestructiveHint: boolPtr(false)},
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"parent_id": map[string]interface{}{"type": "string"},
						"title":     map[string]interface{}{"type": "string"},
					},
					"required": []interface{}{"parent_id", "title"},
				},
			},
			{
				ID:   toolID(m, "delete_page"),
				Name: "delete_page",
				Descriptions: map[string]string{
					"en": "Archive (soft-delete) a page by id.",
				},
				Annotations: models.ToolAnnotations{DestructiveHint: boolPtr(true)},
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"page_id": map[string]interface{}{"type": "string"},
					},
					"required": []interface{}{"page_id"},
				},
			},
		},
	}
}

func (n *notion) run(ctx context.Context, tool string, paramsJSON []byte) ([]byte, error) {
	bearer, err := bearerFor(ctx, n.deps.Tokens, "notion")
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"Notion-Version": notionVersion}

	switch tool {
	case "search":
		var p struct {
			Q string `json:"q"`
		}
		if err := unmarshalParams(paramsJSON, &p); err != nil {
			return nil, fmt.Errorf("notion: bad search params: %w", err)
		}
		body := map[string]interface{}{"query": p.Q, "page_size": 25}
		return doJSON(ctx, n.deps.client(), "POST", n.base+"/search", bearer, body, headers)

	case "get_page":
		var p struct {
			PageID string `json:"page_id"`
		}
		if err := unmarshalParams(paramsJSON, &p); err != nil || p.PageID == "" {
			return nil, fmt.Errorf("notion: page_id is required")
		}
		return doJSON(ctx, n.deps.client(), "GET", n.base+"/pages/"+url.PathEscape(p.PageID), bearer, nil, headers)

	case "create_page":
		var p struct {
			ParentID string `json:"parent_id"`
			Title    string `json:"title"`
		}
		if err := unmarshalParams(paramsJSON, &p); err != nil || p.ParentID == "" {
			return nil, fmt.Errorf("notion: parent_id is required")
		}
		body := map[string]interface{}{
			"parent": map[string]interface{}{"page_id": p.ParentID},
			"properties": map[string]interface{}{
				"title": map[string]interface{}{
					"title": []interface{}{
						map[string]interface{}{"text": map[string]interface{}{"content": p.Title}},
					},
				},
			},
		}
		return doJSON(ctx, n.deps.client(), "POST", n.base+"/pages", bearer, body, headers)

	case "delete_page":
		var p struct {
			PageID string `json:"page_id"`
		}
		if err := unmarshalParams(paramsJSON, &p); err != nil || p.PageID == "" {
			return nil, fmt.Errorf("notion: page_id is required")
		}
		body := map[string]interface{}{"archived": true}
		return doJSON(ctx, n.deps.client(), "PATCH", n.base+"/pages/"+url.PathEscape(p.PageID), bearer, body, headers)

	default:
		return nil, fmt.Errorf("notion: unknown tool %q", tool)
	}
}

func (n *notion) compact(tool string, resultJSON []byte) (string, error) {
	var v interface{}
	if err := json.Unmarshal(resultJSON, &v); err != nil {
		return "", err
	}
	switch tool {
	case "search":
		rows := make([][]string, 0)
		for _, item := range jsonArr(v, "results") {
			rows = append(rows, []string{
				jsonStr(item, "id"),
				jsonStr(item, "object"),
				notionTitle(item),
				jsonStr(item, "url"),
			})
		}
		return compactRows([]string{"id", "object", "title", "url"}, rows), nil
	case "get_page", "create_page", "delete_page":
		row := []string{jsonStr(v, "id"), notionTitle(v), jsonStr(v, "url"), jsonStr(v, "archived")}
		return compactRows([]string{"id", "title", "url", "archived"}, [][]string{row}), nil
	default:
		return string(resultJSON), nil
	}
}

// notionTitle digs the first title fragment out of a page object's
// properties, which Notion nests differently for pages vs databases.
func notionTitle(page interface{}) string {
	for _, path := range [][]string{
		{"properties", "title", "title"},
		{"properties", "Name", "title"},
		{"title"},
	} {
		arr := jsonArr(page, path...)
		if len(arr) > 0 {
			if s := jsonStr(arr[0], "plain_text"); s != "" {
				return s
			}
			if s := jsonStr(arr[0], "text", "content"); s != "" {
				return s
			}
		}
	}
	return ""
}
