package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/model/contract"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Tool represents an executable capability.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// HandlerFunc is the body of a tool registered with RegisterFunc.
type HandlerFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

type registered struct {
	tool   Tool
	schema *jsonschema.Schema
	meta   ToolMetadata
}

// Registry holds all available tools. Schemas are compiled on registration; once Freeze is
// called the registry only serves lookups and is safe to share between runs.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*registered
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*registered),
	}
}

func (r *Registry) Register(t Tool) error {
	name := NormalizeToolName(t.Name())
	if name == "" {
		return sitewiseErrors.InvalidInput("tool: empty tool name")
	}

	schema, err := compileSchema(name, t.Parameters())
	if err != nil {
		return sitewiseErrors.WrapWithCategory(err, fmt.Sprintf("tool %s: invalid parameter schema", name), sitewiseErrors.ErrInvalidInput)
	}

	meta := normalizeToolMetadata(ToolMetadata{})
	if provider, ok := t.(MetadataProvider); ok {
		meta = normalizeToolMetadata(provider.ToolMetadata())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return sitewiseErrors.Conflict(fmt.Sprintf("tool %s: registry is frozen", name))
	}
	if _, exists := r.tools[name]; exists {
		return sitewiseErrors.Conflict(fmt.Sprintf("tool %s: already registered", name))
	}

	r.tools[name] = &registered{tool: t, schema: schema, meta: meta}
	return nil
}

// RegisterFunc registers a handler with an inline definition.
func (r *Registry) RegisterFunc(name, description string, parameters map[string]interface{}, handler HandlerFunc) error {
	if handler == nil {
		return sitewiseErrors.InvalidInput(fmt.Sprintf("tool %s: nil handler", name))
	}
	return r.Register(&funcTool{name: name, description: description, parameters: parameters, handler: handler})
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Tool, bool) {
	entry, ok := r.lookup(name)
	if !ok {
		return nil, false
	}
	return entry.tool, true
}

func (r *Registry) lookup(name string) (*registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[NormalizeToolName(name)]
	return entry, ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the tool schemas advertised to models, sorted by name.
func (r *Registry) Definitions() []contract.ToolDef {
	descriptors := r.GetDescriptors()
	defs := make([]contract.ToolDef, 0, len(descriptors))
	for _, d := range descriptors {
		defs = append(defs, d.Definition)
	}
	return defs
}

func (r *Registry) GetDescriptors() []ToolDescriptor {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]ToolDescriptor, 0, len(names))
	for _, name := range names {
		entry := r.tools[name]
		descriptors = append(descriptors, ToolDescriptor{
			Definition: contract.ToolDef{
				Name:        name,
				Description: entry.tool.Description(),
				Parameters:  entry.tool.Parameters(),
			},
			Metadata: entry.meta,
		})
	}
	return descriptors
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

func NormalizeToolName(name string) string {
	return strings.TrimSpace(name)
}

type funcTool struct {
	name        string
	description string
	parameters  map[string]interface{}
	handler     HandlerFunc
}

func (t *funcTool) Name() string                       { return t.name }
func (t *funcTool) Description() string                { return t.description }
func (t *funcTool) Parameters() map[string]interface{} { return t.parameters }
func (t *funcTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	return t.handler(ctx, input)
}
