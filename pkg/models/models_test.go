package models_test

import (
	"testing"

	"github.com/shibaleo/mcpist/pkg/models"
)

func boolPtr(b bool) *bool { return &b }

func TestAnnotationDefaults(t *testing.T) {
	var a models.ToolAnnotations
	if a.ReadOnly() {
		t.Error("ReadOnly default should be false")
	}
	if !a.Destructive() {
		t.Error("Destructive default should be true")
	}
	if a.Idempotent() {
		t.Error("Idempotent default should be false")
	}
	if !a.OpenWorld() {
		t.Error("OpenWorld default should be true")
	}
}

func TestIsDangerous(t *testing.T) {
	tests := []struct {
		name string
		a    models.ToolAnnotations
		want bool
	}{
		{"all defaults", models.ToolAnnotations{}, true},
		{"read-only", models.ToolAnnotations{ReadOnlyHint: boolPtr(true)}, false},
		{"explicitly non-destructive", models.ToolAnnotations{DestructiveHint: boolPtr(false)}, false},
		{"explicitly destructive", models.ToolAnnotations{DestructiveHint: boolPtr(true)}, true},
		{"read-only overrides destructive", models.ToolAnnotations{ReadOnlyHint: boolPtr(true), DestructiveHint: boolPtr(true)}, false},
		{"read-only false, destructive default", models.ToolAnnotations{ReadOnlyHint: boolPtr(false)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := models.IsDangerous(tt.a); got != tt.want {
				t.Errorf("IsDangerous() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToolSettingsMapEmpty(t *testing.T) {
	got := models.ToolSettingsMap(nil)
	if len(got) != 0 {
		t.Errorf("ToolSettingsMap(nil) = %v, want empty", got)
	}
}

func TestToolSettingsMapLastOccurrenceWins(t *testing.T) {
	settings := []models.ToolSetting{
		{ModuleID: "notion", ToolID: "notion:search", Enabled: true},
		{ModuleID: "notion", ToolID: "notion:delete_page", Enabled: false},
		{ModuleID: "github", ToolID: "github:get_issue", Enabled: true},
		{ModuleID: "notion", ToolID: "notion:search", Enabled: false}, // duplicate, wins
	}
	got := models.ToolSettingsMap(settings)

	if got["notion"]["notion:search"] {
		t.Error("last occurrence of notion:search should win (disabled)")
	}
	if got["notion"]["notion:delete_page"] {
		t.Error("notion:delete_page should be disabled")
	}
	if !got["github"]["github:get_issue"] {
		t.Error("github:get_issue should be enabled")
	}
}

func TestDefaultToolSettings(t *testing.T) {
	m := models.Module{
		Name: "notion",
		Tools: []models.ToolDescriptor{
			{ID: "notion:search", Annotations: models.ToolAnnotations{ReadOnlyHint: boolPtr(true)}},
			{ID: "notion:delete_page"},
		},
	}
	seed := models.DefaultToolSettings(m)
	if len(seed) != 2 {
		t.Fatalf("len(seed) = %d, want 2", len(seed))
	}
	byID := map[string]bool{}
	for _, s := range seed {
		byID[s.ToolID] = s.Enabled
		if s.ModuleID != "notion" {
			t.Errorf("ModuleID = %q, want notion", s.ModuleID)
		}
	}
	if !byID["notion:search"] {
		t.Error("read-only tool should default enabled")
	}
	if byID["notion:delete_page"] {
		t.Error("destructive tool should default disabled")
	}
}

func TestUserContextMembership(t *testing.T) {
	uc := &models.UserContext{EnabledTools: map[string][]string{"notion": {"notion:search"}}}
	if !uc.HasModule("notion") || uc.HasModule("github") {
		t.Error("HasModule membership wrong")
	}
	if !uc.HasTool("notion", "notion:search") || uc.HasTool("notion", "notion:x") {
		t.Error("HasTool membership wrong")
	}
}
