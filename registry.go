package aruna

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToolHandler executes one validated tool call. args has already passed
// schema validation; the handler returns a result payload or an error that
// the registry wraps as execution_failure.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

type registeredTool struct {
	def     ToolDefinition
	schema  *jsonschema.Schema
	handler ToolHandler
}

// ToolExecutor is the surface the workflow needs from a tool registry.
// *Registry is the standard implementation; the observer package wraps it
// with an instrumented one.
type ToolExecutor interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// Registry holds the set of invocable tools and validates calls against
// their JSON Schemas before dispatch. Safe for concurrent use; handler
// execution is isolated per call, so one tool's failure never aborts
// sibling calls requested in the same model turn.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registeredTool)}
}

// Register adds a tool. The parameters schema is compiled once here;
// registration fails on an invalid schema or a duplicate name.
func (r *Registry) Register(name, description string, parameters json.RawMessage, handler ToolHandler) error {
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if handler == nil {
		return fmt.Errorf("register tool %q: nil handler", name)
	}
	if len(parameters) == 0 {
		parameters = json.RawMessage(`{"type":"object"}`)
	}

	var schemaDoc any
	if err := json.Unmarshal(parameters, &schemaDoc); err != nil {
		return fmt.Errorf("register tool %q: parameters is not valid JSON: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name+".json", schemaDoc); err != nil {
		return fmt.Errorf("register tool %q: add schema resource: %w", name, err)
	}
	schema, err := c.Compile(name + ".json")
	if err != nil {
		return fmt.Errorf("register tool %q: compile schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("register tool %q: already registered", name)
	}
	r.tools[name] = &registeredTool{
		def:     ToolDefinition{Name: name, Description: description, Parameters: parameters},
		schema:  schema,
		handler: handler,
	}
	r.order = append(r.order, name)
	return nil
}

// Definitions returns descriptors for all registered tools in registration
// order, for inclusion in a model request.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Execute validates args against the registered schema and runs the
// handler. Schema mismatch fails with invalid_arguments without calling
// the handler; handler errors and panics become execution_failure.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ToolResult{}, &ToolError{Tool: name, Kind: ToolExecutionFailure, Detail: "unknown tool"}
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return ToolResult{}, &ToolError{Tool: name, Kind: ToolInvalidArguments, Detail: "arguments are not valid JSON: " + err.Error()}
	}
	if err := t.schema.Validate(decoded); err != nil {
		return ToolResult{}, &ToolError{Tool: name, Kind: ToolInvalidArguments, Detail: err.Error()}
	}

	argMap, ok := decoded.(map[string]any)
	if !ok {
		return ToolResult{}, &ToolError{Tool: name, Kind: ToolInvalidArguments, Detail: "arguments must be a JSON object"}
	}

	content, err := r.run(ctx, t, argMap)
	if err != nil {
		return ToolResult{}, err
	}
	return ToolResult{Content: content}, nil
}

// run invokes the handler with panic recovery, so a misbehaving tool
// becomes an execution_failure instead of crashing the turn.
func (r *Registry) run(ctx context.Context, t *registeredTool, args map[string]any) (content string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &ToolError{Tool: t.def.Name, Kind: ToolExecutionFailure, Detail: fmt.Sprintf("panic: %v", p)}
		}
	}()
	content, herr := t.handler(ctx, args)
	if herr != nil {
		return "", &ToolError{Tool: t.def.Name, Kind: ToolExecutionFailure, Detail: herr.Error()}
	}
	return content, nil
}
