package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/shibaleo/mcpist/internal/registry"
	"github.com/shibaleo/mcpist/pkg/models"
)

const googleCalendarAPIBase = "https://www.googleapis.com/calendar/v3"

type googleCalendar struct {
	deps Deps
	base string
}

// NewGoogleCalendar builds the google_calendar module: event listing,
// creation, and deletion on the user's primary calendar.
func NewGoogleCalendar(deps Deps) registry.ModuleImpl {
	g := &googleCalendar{deps: deps, base: googleCalendarAPIBase}
	if deps.BaseURL != "" {
		g.base = deps.BaseURL
	}
	return registry.ModuleImpl{
		Module:  googleCalendarModule(),
		Run:     g.run,
		Compact: g.compact,
	}
}

func googleCalendarModule() models.Module {
	const m = "google_calendar"
	return models.Module{
		Name:   m,
		Status: models.ModuleActive,
		Descriptions: map[string]string{
			"en": "List, create, and delete events on Google Calendar.",
		},
		Tools: []models.ToolDescriptor{
			{
				ID:          toolID(m, "list_events"),
				Name:        "list_events",
				Descriptions: map[string]string{"en": "List upcoming events on a calendar."},
				Annotations: models.ToolAnnotations{ReadOnlyHint: boolPtr(true)},
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"calendar_id": map[string]interface{}{"type": "string", "default": "primary"},
						"time_min":    map[string]interface{}{"type": "string", "format": "date-time"},
						"max_results": map[string]interface{}{"type": "integer", "default": 25},
					},
				},
			},
			{
				ID:          toolID(m, "create_event"),
				Name:        "create_event",
				Descriptions: map[string]string{"en": "Create an event with a start and end time."},
				Annotations: models.ToolAnnotations{DestructiveHint: boolPtr(false)},
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"calendar_id": map[string]interface{}{"type": "string", "default": "primary"},
						"summary":     map[string]interface{}{"type": "string"},
						"start":       map[string]interface{}{"type": "string", "format": "date-time"},
						"end":         map[string]interface{}{"type": "string", "format": "date-time"},
					},
					"required": []interface{}{"summary", "start", "end"},
				},
			},
			{
				ID:          toolID(m, "delete_event"),
				Name:        "delete_event",
				Descriptions: map[string]string{"en": "Delete an event by id."},
				Annotations: models.ToolAnnotations{DestructiveHint: boolPtr(true), IdempotentHint: boolPtr(true)},
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"calendar_id": map[string]interface{}{"type": "string", "default": "primary"},
						"event_id":    map[string]interface{}{"type": "string"},
					},
					"required": []interface{}{"event_id"},
				},
			},
		},
	}
}

func orPrimary(calendarID string) string {
	if calendarID == "" {
		return "primary"
	}
	return calendarID
}

func (g *googleCalendar) run(ctx context.Context, tool string, paramsJSON []byte) ([]byte, error) {
	bearer, err := bearerFor(ctx, g.deps.Tokens, "google_calendar")
	if err != nil {
		return nil, err
	}

	switch tool {
	case "list_events":
		var p struct {
			CalendarID string `json:"calendar_id"`
			TimeMin    string `json:"time_min"`
			MaxResults int    `json:"max_results"`
		}
		if err := unmarshalParams(paramsJSON, &p); err != nil {
			return nil, fmt.Errorf("google_calendar: bad params: %w", err)
		}
		if p.MaxResults <= 0 {
			p.MaxResults = 25
		}
		q := url.Values{}
		q.Set("maxResults", fmt.Sprintf("%d", p.MaxResults))
		q.Set("singleEvents", "true")
		q.Set("orderBy", "startTime")
		if p.TimeMin != "" {
			q.Set("timeMin", p.TimeMin)
		}
		u := fmt.Sprintf("%s/calendars/%s/events?%s", g.base, url.PathEscape(orPrimary(p.CalendarID)), q.Encode())
		return doJSON(ctx, g.deps.client(), "GET", u, bearer, nil, nil)

	case "create_event":
		var p struct {
			CalendarID string `json:"calendar_id"`
			Summary    string `json:"summary"`
			Start      string `json:"start"`
			End        string `json:"end"`
		}
		if err := unmarshalParams(paramsJSON, &p); err != nil || p.Summary == "" || p.Start == "" || p.End == "" {
			return nil, fmt.Errorf("google_calendar: summary, start, and end are required")
		}
		body := map[string]interface{}{
			"summary": p.Summary,
			"start":   map[string]string{"dateTime": p.Start},
			"end":     map[string]string{"dateTime": p.End},
		}
		u := fmt.Sprintf("%s/calendars/%s/events", g.base, url.PathEscape(orPrimary(p.CalendarID)))
		return doJSON(ctx, g.deps.client(), "POST", u, bearer, body, nil)

	case "delete_event":
		var p struct {
			CalendarID string `json:"calendar_id"`
			EventID    string `json:"event_id"`
		}
		if err := unmarshalParams(paramsJSON, &p); err != nil || p.EventID == "" {
			return nil, fmt.Errorf("google_calendar: event_id is required")
		}
		u := fmt.Sprintf("%s/calendars/%s/events/%s", g.base, url.PathEscape(orPrimary(p.CalendarID)), url.PathEscape(p.EventID))
		return doJSON(ctx, g.deps.client(), "DELETE", u, bearer, nil, nil)

	default:
		return nil, fmt.Errorf("google_calendar: unknown tool %q", tool)
	}
}

func (g *googleCalendar) compact(tool string, resultJSON []byte) (string, error) {
	var v interface{}
	if err := json.Unmarshal(resultJSON, &v); err != nil {
		return "", err
	}
	eventRow := func(item interface{}) []string {
		start := jsonStr(item, "start", "dateTime")
		if start == "" {
			start = jsonStr(item, "start", "date")
		}
		return []string{jsonStr(item, "id"), start, jsonStr(item, "summary"), jsonStr(item, "status")}
	}
	switch tool {
	case "list_events":
		rows := make([][]string, 0)
		for _, item := range jsonArr(v, "items") {
			rows = append(rows, eventRow(item))
		}
		return compactRows([]string{"id", "start", "summary", "status"}, rows), nil
	case "create_event":
		return compactRows([]string{"id", "start", "summary", "status"}, [][]string{eventRow(v)}), nil
	case "delete_event":
		return "deleted", nil
	default:
		return string(resultJSON), nil
	}
}
