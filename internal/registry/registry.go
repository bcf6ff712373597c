// Package registry implements the Module Registry: a process-wide,
// immutable table of modules and their tool descriptors, plus the three
// meta-tools (get_module_schema, run, batch) that are the only tools ever
// exposed through MCP tools/list.
//
// Grounded on the teacher's MCPToolStore/handlers pairing (tools are
// master data looked up by name) generalized into an in-process registry
// since mcpist's tool set is fixed at boot, not user-editable.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shibaleo/mcpist/pkg/models"
)

// Handler executes one tool call against a third-party API and returns its
// result as a raw JSON text blob. ctx carries cancellation from the
// client's disconnect and the Gateway→Server hard timeout.
type Handler func(ctx context.Context, tool string, paramsJSON []byte) (resultJSON []byte, err error)

// Compacter projects a tool's raw JSON result to stable, essential fields
// for the default (non-"json") run/batch response format.
type Compacter func(tool string, resultJSON []byte) (string, error)

// ModuleImpl is what a concrete module (notion, github, ...) provides.
type ModuleImpl struct {
	Module  models.Module
	Run     Handler
	Compact Compacter
}

// Registry is the immutable, process-wide module table.
type Registry struct {
	modules map[string]ModuleImpl
	order   []string
}

// New builds a Registry from a fixed set of module implementations.
// Registration order is preserved for deterministic listings.
func New(impls ...ModuleImpl) *Registry {
	r := &Registry{modules: make(map[string]ModuleImpl, len(impls))}
	for _, impl := range impls {
		r.modules[impl.Module.Name] = impl
		r.order = append(r.order, impl.Module.Name)
	}
	return r
}

// Modules returns every registered module's master data in
// registration order, for the boot-time catalog sync.
func (r *Registry) Modules() []models.Module {
	out := make([]models.Module, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.modules[name].Module)
	}
	return out
}

// Names returns registered module names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Module looks up one module's master data.
func (r *Registry) Module(name string) (models.Module, bool) {
	impl, ok := r.modules[name]
	return impl.Module, ok
}

// Tool looks up a single tool descriptor by module name and tool name
// (the bare name, not the "module:tool" id).
func (r *Registry) Tool(module, tool string) (models.ToolDescriptor, bool) {
	impl, ok := r.modules[module]
	if !ok {
		return models.ToolDescriptor{}, false
	}
	for _, td := range impl.Module.Tools {
		if td.Name == tool {
			return td, true
		}
	}
	return models.ToolDescriptor{}, false
}

// ErrUnknownModule and ErrUnknownTool are returned by Run/Compact when the
// caller names something the registry never registered — distinct from
// authorization failures, which the Authorizer handles before dispatch.
var (
	ErrUnknownModule = fmt.Errorf("registry: unknown module")
	ErrUnknownTool   = fmt.Errorf("registry: unknown tool")
)

// Run dispatches to the named module's handler.
func (r *Registry) Run(ctx context.Context, module, tool string, paramsJSON []byte) ([]byte, error) {
	impl, ok := r.modules[module]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	if _, ok := r.Tool(module, tool); !ok {
		return nil, fmt.Errorf("%w: %s:%s", ErrUnknownTool, module, tool)
	}
	return impl.Run(ctx, tool, paramsJSON)
}

// Compact formats a tool's raw result through the module's compacter.
func (r *Registry) Compact(module, tool string, resultJSON []byte) (string, error) {
	impl, ok := r.modules[module]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	return impl.Compact(tool, resultJSON)
}

// ── Meta-tool descriptors ────────────────────────────────────

const (
	MetaGetModuleSchema = "get_module_schema"
	MetaRun             = "run"
	MetaBatch           = "batch"
)

// MetaToolDescriptors returns the three meta-tool descriptors, with
// get_module_schema's module enum restricted to enabledModules so callers
// never see modules they can't reach.
func MetaToolDescriptors(enabledModules []string) []models.ToolDescriptor {
	sorted := append([]string(nil), enabledModules...)
	sort.Strings(sorted)

	moduleEnum := make([]interface{}, len(sorted))
	for i, m := range sorted {
		moduleEnum[i] = m
	}

	return []models.ToolDescriptor{
		{
			ID:   MetaGetModuleSchema,
			Name: MetaGetModuleSchema,
			Descriptions: map[string]string{
				"en": "Return the enabled tool schema for one or more modules.",
			},
			Annotations: models.ToolAnnotations{ReadOnlyHint: boolPtr(true)},
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"module": map[string]interface{}{
						"oneOf": []interface{}{
							map[string]interface{}{"type": "string", "enum": moduleEnum},
							map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string", "enum": moduleEnum}},
						},
					},
				},
				"required": []interface{}{"module"},
			},
		},
		{
			ID:   MetaRun,
			Name: MetaRun,
			Descriptions: map[string]string{
				"en": "Execute one enabled tool and return its result.",
			},
			Annotations: models.ToolAnnotations{},
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"module": map[string]interface{}{"type": "string", "enum": moduleEnum},
					"tool":   map[string]interface{}{"type": "string"},
					"params": map[string]interface{}{"type": "object"},
					"format": map[string]interface{}{"type": "string", "enum": []interface{}{"compact", "json"}},
				},
				"required": []interface{}{"module", "tool", "params"},
			},
		},
		{
			ID:   MetaBatch,
			Name: MetaBatch,
			Descriptions: map[string]string{
				"en": "Execute up to 10 tool calls from a newline-delimited JSON command stream.",
			},
			Annotations: models.ToolAnnotations{},
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"commands": map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"commands"},
			},
		},
	}
}

func boolPtr(b bool) *bool { return &b }

// GetModuleSchema implements the get_module_schema meta-tool: for each
// requested module the caller has access to, the filtered list of enabled
// tool descriptors plus its effective description.
func (r *Registry) GetModuleSchema(ctx *models.UserContext, wantModules []string, moduleDescriptions map[string]string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(wantModules))
	for _, name := range wantModules {
		if !ctx.HasModule(name) {
			continue
		}
		impl, ok := r.modules[name]
		if !ok {
			continue
		}
		enabled := ctx.EnabledTools[name]
		enabledSet := make(map[string]bool, len(enabled))
		for _, id := range enabled {
			enabledSet[id] = true
		}
		var tools []models.ToolDescriptor
		for _, td := range impl.Module.Tools {
			if enabledSet[td.ID] {
				tools = append(tools, td)
			}
		}
		desc := impl.Module.Descriptions["en"]
		if custom, ok := moduleDescriptions[name]; ok && custom != "" {
			desc = custom
		}
		out[name] = map[string]interface{}{
			"description": desc,
			"tools":       tools,
		}
	}
	return out, nil
}

// MarshalCatalog serializes (name, status, tools) for every registered
// module, for the startup upsert into the database the console reads from.
func (r *Registry) MarshalCatalog() ([]byte, error) {
	type entry struct {
		Name   string                  `json:"name"`
		Status models.ModuleStatus     `json:"status"`
		Tools  []models.ToolDescriptor `json:"tools"`
	}
	entries := make([]entry, 0, len(r.order))
	for _, name := range r.order {
		impl := r.modules[name]
		entries = append(entries, entry{Name: impl.Module.Name, Status: impl.Module.Status, Tools: impl.Module.Tools})
	}
	return json.Marshal(entries)
}
