// Package recall exposes the memory manager to the model as a set of
// tools. The acting owner is taken from the request context, never from
// model-supplied arguments, so one user can never touch another's records.
package recall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danarsa/aruna"
)

// Tools registers memory operations on a tool registry.
type Tools struct {
	memory *aruna.Manager
}

// New creates the memory toolset backed by a Manager.
func New(memory *aruna.Manager) *Tools {
	return &Tools{memory: memory}
}

// Register adds the memory tools to reg.
func (t *Tools) Register(reg *aruna.Registry) error {
	tools := []struct {
		name, description string
		parameters        string
		handler           aruna.ToolHandler
	}{
		{
			name:        "search_memories",
			description: "Search through stored memories to find relevant information from past conversations.",
			parameters:  `{"type":"object","properties":{"query":{"type":"string","description":"What to search for"},"limit":{"type":"integer","description":"Maximum results to return (default 5)"}},"required":["query"]}`,
			handler:     t.searchMemories,
		},
		{
			name:        "add_memory",
			description: "Store important information from the conversation for future reference.",
			parameters:  `{"type":"object","properties":{"content":{"type":"string","description":"The information to store"}},"required":["content"]}`,
			handler:     t.addMemory,
		},
		{
			name:        "get_all_memories",
			description: "Retrieve all stored memories for the current user.",
			parameters:  `{"type":"object","properties":{"limit":{"type":"integer","description":"Maximum results to return (default 10)"}}}`,
			handler:     t.getAllMemories,
		},
		{
			name:        "update_memory",
			description: "Update an existing memory with new content.",
			parameters:  `{"type":"object","properties":{"memory_id":{"type":"string","description":"ID of the memory to update"},"new_content":{"type":"string","description":"Replacement content"}},"required":["memory_id","new_content"]}`,
			handler:     t.updateMemory,
		},
		{
			name:        "delete_memory",
			description: "Delete a specific memory by its ID.",
			parameters:  `{"type":"object","properties":{"memory_id":{"type":"string","description":"ID of the memory to delete"}},"required":["memory_id"]}`,
			handler:     t.deleteMemory,
		},
	}
	for _, tool := range tools {
		if err := reg.Register(tool.name, tool.description, json.RawMessage(tool.parameters), tool.handler); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tools) searchMemories(ctx context.Context, args map[string]any) (string, error) {
	owner := aruna.OwnerFromContext(ctx)
	if owner == "" {
		return "", errors.New("no owner in context")
	}
	query, _ := args["query"].(string)
	limit := intArg(args, "limit", 5)

	records, err := t.memory.Search(ctx, owner, query, limit)
	if err != nil {
		return "", fmt.Errorf("search memories: %w", err)
	}
	if len(records) == 0 {
		return "No relevant memories found for your query.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant memories:\n", len(records))
	for i, rec := range records {
		fmt.Fprintf(&b, "%d. %s (ID: %s)\n", i+1, rec.Content, rec.ID)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (t *Tools) addMemory(ctx context.Context, args map[string]any) (string, error) {
	owner := aruna.OwnerFromContext(ctx)
	if owner == "" {
		return "", errors.New("no owner in context")
	}
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return "", errors.New("content is required and cannot be empty")
	}

	rec, err := t.memory.Add(ctx, owner, content, map[string]string{"source": "conversation"})
	if err != nil {
		return "", fmt.Errorf("add memory: %w", err)
	}
	return fmt.Sprintf("Stored the information with ID %s: %q", rec.ID, content), nil
}

func (t *Tools) getAllMemories(ctx context.Context, args map[string]any) (string, error) {
	owner := aruna.OwnerFromContext(ctx)
	if owner == "" {
		return "", errors.New("no owner in context")
	}
	limit := intArg(args, "limit", 10)

	records, err := t.memory.List(ctx, owner, limit)
	if err != nil {
		return "", fmt.Errorf("list memories: %w", err)
	}
	if len(records) == 0 {
		return "No memories found for this user.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d memories:\n", len(records))
	for i, rec := range records {
		fmt.Fprintf(&b, "%d. %s (ID: %s)\n", i+1, rec.Content, rec.ID)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (t *Tools) updateMemory(ctx context.Context, args map[string]any) (string, error) {
	owner := aruna.OwnerFromContext(ctx)
	if owner == "" {
		return "", errors.New("no owner in context")
	}
	id, _ := args["memory_id"].(string)
	content, _ := args["new_content"].(string)
	if strings.TrimSpace(content) == "" {
		return "", errors.New("new_content is required and cannot be empty")
	}

	if _, err := t.memory.Update(ctx, owner, id, content, nil); err != nil {
		var merr *aruna.MemoryError
		if errors.As(err, &merr) && merr.Kind == aruna.MemoryNotFound {
			return fmt.Sprintf("No memory found with ID: %s", id), nil
		}
		return "", fmt.Errorf("update memory: %w", err)
	}
	return fmt.Sprintf("Updated memory with ID: %s", id), nil
}

func (t *Tools) deleteMemory(ctx context.Context, args map[string]any) (string, error) {
	owner := aruna.OwnerFromContext(ctx)
	if owner == "" {
		return "", errors.New("no owner in context")
	}
	id, _ := args["memory_id"].(string)

	if err := t.memory.Delete(ctx, owner, id); err != nil {
		var merr *aruna.MemoryError
		if errors.As(err, &merr) && merr.Kind == aruna.MemoryNotFound {
			return fmt.Sprintf("No memory found with ID: %s", id), nil
		}
		return "", fmt.Errorf("delete memory: %w", err)
	}
	return fmt.Sprintf("Deleted memory with ID: %s", id), nil
}

// intArg reads an integer argument. JSON numbers decode as float64.
func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	f, ok := v.(float64)
	if !ok || f <= 0 {
		return def
	}
	return int(f)
}
