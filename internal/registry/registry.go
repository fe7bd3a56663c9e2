// Package registry implements the Tool Registry & Dispatcher: a uniform
// execute(name, args) -> result surface over heterogeneous tools, each
// declaring a JSON schema, a capability level, and a canonical name.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Capability orders what a tool is allowed to touch. Read < Write < Execute < Network.
type Capability int

const (
	CapabilityRead Capability = iota
	CapabilityWrite
	CapabilityExecute
	CapabilityNetwork
)

func (c Capability) String() string {
	switch c {
	case CapabilityRead:
		return "read"
	case CapabilityWrite:
		return "write"
	case CapabilityExecute:
		return "execute"
	case CapabilityNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Handler performs a tool's side effect given validated JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// PolicyChecker is consulted before a tool invocation is allowed to run. It
// mirrors the Policy Gate's Evaluate contract without importing the policy
// package directly, keeping registry free of a dependency on command
// resolution internals.
type PolicyChecker interface {
	Allow(ctx context.Context, toolName string, args json.RawMessage) error
}

// Tool is one registered entry: its schema, capability level, and handler.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Capability  Capability
	Handler     Handler
}

// UnknownToolError means no tool matches the requested (canonicalized) name.
type UnknownToolError struct{ Name string }

func (e *UnknownToolError) Error() string { return fmt.Sprintf("registry: unknown tool %q", e.Name) }

// InvalidArgsError means schema validation rejected the call's arguments.
type InvalidArgsError struct {
	Name   string
	Detail string
}

func (e *InvalidArgsError) Error() string {
	return fmt.Sprintf("registry: invalid args for tool %q: %s", e.Name, e.Detail)
}

// PolicyDeniedError means the Policy Gate rejected the invocation.
type PolicyDeniedError struct {
	Name   string
	Reason string
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("registry: policy denied tool %q: %s", e.Name, e.Reason)
}

// ToolDefinition is the model-facing view of a registered tool.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Registry is an immutable-after-construction set of tools, resolved
// through a mutable alias table for historical-name compatibility.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	aliases map[string]string
	policy  PolicyChecker
	logger  *zap.Logger
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithPolicyChecker installs the Policy Gate consulted by Execute.
func WithPolicyChecker(checker PolicyChecker) Option {
	return func(r *Registry) { r.policy = checker }
}

// WithLogger installs a logger; nil defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// New builds an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		tools:   make(map[string]Tool),
		aliases: make(map[string]string),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Register adds tools to the registry, aggregating every failure (duplicate
// name, nil handler) into a single error rather than stopping at the first.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs *multierror.Error
	for _, tool := range tools {
		if tool.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("registry: tool has empty name"))
			continue
		}
		if _, exists := r.tools[tool.Name]; exists {
			errs = multierror.Append(errs, fmt.Errorf("registry: duplicate tool name %q", tool.Name))
			continue
		}
		if tool.Handler == nil {
			errs = multierror.Append(errs, fmt.Errorf("registry: tool %q has nil handler", tool.Name))
			continue
		}
		r.tools[tool.Name] = tool
		r.logger.Debug("registered tool", zap.String("name", tool.Name), zap.String("capability", tool.Capability.String()))
	}
	return errs.ErrorOrNil()
}

// Alias maps a historical or alternate name to a current canonical tool
// name. Registration of aliases is itself immutable once a name resolves.
func (r *Registry) Alias(from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.aliases[from]; exists {
		return fmt.Errorf("registry: alias %q already registered", from)
	}
	r.aliases[from] = to
	return nil
}

// canonicalize resolves an alias chain to its final name (bounded to avoid
// an accidental cycle hanging resolution).
func (r *Registry) canonicalize(name string) string {
	seen := make(map[string]bool)
	for {
		target, ok := r.aliases[name]
		if !ok || seen[name] {
			return name
		}
		seen[name] = true
		name = target
	}
}

// ValidateArgs runs schema validation for a tool's arguments without
// invoking its handler or consulting policy.
func (r *Registry) ValidateArgs(name string, args json.RawMessage) error {
	r.mu.RLock()
	canonical := r.canonicalize(name)
	tool, ok := r.tools[canonical]
	r.mu.RUnlock()
	if !ok {
		return &UnknownToolError{Name: name}
	}
	return validateAgainstSchema(tool.Name, tool.InputSchema, args)
}

// Execute resolves the canonical name, validates arguments, consults the
// Policy Gate, and invokes the tool's handler.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	canonical := r.canonicalize(name)
	tool, ok := r.tools[canonical]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}

	if err := validateAgainstSchema(tool.Name, tool.InputSchema, args); err != nil {
		return nil, err
	}

	if r.policy != nil {
		if err := r.policy.Allow(ctx, tool.Name, args); err != nil {
			return nil, &PolicyDeniedError{Name: tool.Name, Reason: err.Error()}
		}
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("registry: tool %q failed: %w", tool.Name, err)
	}
	return result, nil
}

// VisibleDefinitions returns the ToolDefinitions for tools at or below
// maxCapability, sorted by name for deterministic prompt construction.
func (r *Registry) VisibleDefinitions(maxCapability Capability) []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		if tool.Capability > maxCapability {
			continue
		}
		defs = append(defs, ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Lookup returns a copy of a tool's registered metadata by canonical or
// aliased name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[r.canonicalize(name)]
	return tool, ok
}

// Count returns the number of distinct registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
