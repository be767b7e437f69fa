// Package tools provides the tool adapters the assistant can call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// Tool is an adapter over one external capability.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON schema of the tool arguments.
	Schema() json.RawMessage
	// Execute runs the tool. A nil credential or empty access token must
	// fail with domain.ErrCredentialMissing before any network call.
	Execute(ctx context.Context, args json.RawMessage, cred *domain.Credential) (json.RawMessage, error)
}

// CredentialedTool is implemented by tools that act on the user's account.
// The registry rejects calls without a credential before looking at the
// arguments.
type CredentialedTool interface {
	RequiresCredential() bool
}

type entry struct {
	tool      Tool
	validator *jsonschema.Schema
}

// Registry stores tools keyed by name.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]entry
	timeout time.Duration
}

// NewRegistry creates an empty registry. A positive timeout bounds each execution.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		tools:   make(map[string]entry),
		timeout: timeout,
	}
}

// Register adds a tool and compiles its argument schema.
func (r *Registry) Register(tool Tool) error {
	if tool == nil || tool.Name() == "" {
		return fmt.Errorf("tool name is required")
	}
	validator, err := jsonschema.CompileString(tool.Name()+".schema.json", string(tool.Schema()))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", tool.Name(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("tool already registered: %s", tool.Name())
	}
	r.tools[tool.Name()] = entry{tool: tool, validator: validator}
	return nil
}

// MustRegister adds a tool or panics.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// List returns the registered tools ordered by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Execute checks the credential and arguments and runs the named tool.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage, cred *domain.Credential) (json.RawMessage, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTool, name)
	}

	if ct, ok := e.tool.(CredentialedTool); ok && ct.RequiresCredential() {
		if err := requireCredential(cred); err != nil {
			return nil, err
		}
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return nil, &domain.ValidationError{Message: "arguments are not valid JSON: " + err.Error()}
	}
	if err := e.validator.Validate(decoded); err != nil {
		return nil, &domain.ValidationError{Message: err.Error()}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return e.tool.Execute(ctx, args, cred)
}
