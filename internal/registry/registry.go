// Package registry is the catalog of invocable tools and the MCP server
// integrations that contribute them. Destructive edits are gated by the
// dependency tracker so a delete never silently breaks a live agent.
package registry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/arcline-ai/toolgate/internal/approval"
	"github.com/arcline-ai/toolgate/internal/deps"
	"github.com/arcline-ai/toolgate/internal/fault"
	"github.com/arcline-ai/toolgate/internal/schema"
)

// ToolKind is the closed set of tool kinds.
type ToolKind string

const (
	KindWebhook       ToolKind = "webhook"
	KindMCPServerTool ToolKind = "mcp_server_tool"
	KindTransfer      ToolKind = "transfer"
)

func validKind(k ToolKind) bool {
	switch k {
	case KindWebhook, KindMCPServerTool, KindTransfer:
		return true
	}
	return false
}

// Tool is a registered invocable tool. Declared tools (webhook, transfer)
// carry a closed parameter schema; tools discovered from an MCP server may
// instead carry the server's raw JSON Schema, compiled once at
// registration so call-time validation stays cheap and I/O free.
type Tool struct {
	ID          string          `json:"tool_id"`
	Name        string          `json:"name"`
	Kind        ToolKind        `json:"kind"`
	Description string          `json:"description,omitempty"`
	Schema      schema.Schema   `json:"parameter_schema,omitempty"`
	RawSchema   json.RawMessage `json:"input_schema,omitempty"`
	SecretID    string          `json:"secret_id,omitempty"`
	ServerID    string          `json:"server_id,omitempty"`
	Idempotent  bool            `json:"idempotent,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	compiled *jsonschema.Schema
}

// Clone returns a copy safe to hand outside the registry lock.
func (t *Tool) Clone() *Tool {
	cp := *t
	cp.Schema = t.Schema.Clone()
	if t.RawSchema != nil {
		cp.RawSchema = append(json.RawMessage(nil), t.RawSchema...)
	}
	return &cp
}

// ToolPatch carries the fields an update may change. Nil fields are left
// unchanged; the whole patch applies atomically or not at all.
type ToolPatch struct {
	Name        *string
	Description *string
	Schema      *schema.Schema
	SecretID    *string
	Idempotent  *bool
}

// Registry holds tools and servers behind a single RWMutex. Catalog
// mutations are rare; the call-time paths (ValidateCall, RuleFor) only
// take the read lock.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Tool
	byName  map[string]string // tool name -> tool id
	servers map[string]*Server
	tracker *deps.Tracker
	logger  *zap.Logger
}

// New creates an empty Registry gated by the given dependency tracker.
func New(tracker *deps.Tracker, logger *zap.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]*Tool),
		byName:  make(map[string]string),
		servers: make(map[string]*Server),
		tracker: tracker,
		logger:  logger,
	}
}

func compileRawSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fault.Wrap(fault.KindValidation, err, "input_schema is not valid JSON")
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool.json", doc); err != nil {
		return nil, fault.Wrap(fault.KindValidation, err, "input_schema rejected")
	}
	compiled, err := c.Compile("tool.json")
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, err, "input_schema does not compile")
	}
	return compiled, nil
}

func (r *Registry) validateTool(t *Tool) error {
	if t.Name == "" {
		return fault.Validationf("tool name is required")
	}
	if !validKind(t.Kind) {
		return fault.Validationf("unknown tool kind %q", t.Kind)
	}
	if err := t.Schema.Validate(); err != nil {
		return err
	}
	if t.Kind == KindMCPServerTool {
		if t.ServerID == "" {
			return fault.Validationf("mcp_server_tool requires a server_id")
		}
		if _, ok := r.servers[t.ServerID]; !ok {
			return fault.NotFoundf("server %s not found", t.ServerID)
		}
	} else if t.ServerID != "" {
		return fault.Validationf("%s tool cannot reference a server", t.Kind)
	}
	if t.RawSchema != nil && len(t.Schema) > 0 {
		return fault.Validationf("tool declares both parameter_schema and input_schema")
	}
	return nil
}

// RegisterTool validates and stores a tool, returning its id.
func (r *Registry) RegisterTool(t *Tool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.validateTool(t); err != nil {
		return "", err
	}
	if _, dup := r.byName[t.Name]; dup {
		return "", fault.Duplicatef("tool %q already registered", t.Name)
	}

	stored := t.Clone()
	if stored.RawSchema != nil {
		compiled, err := compileRawSchema(stored.RawSchema)
		if err != nil {
			return "", err
		}
		stored.compiled = compiled
	}
	stored.ID = "tool_" + uuid.NewString()
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	r.tools[stored.ID] = stored
	r.byName[stored.Name] = stored.ID

	r.logger.Info("tool registered",
		zap.String("tool_id", stored.ID),
		zap.String("name", stored.Name),
		zap.String("kind", string(stored.Kind)),
	)
	return stored.ID, nil
}

// UpdateTool applies a patch all-or-nothing: the new definition is fully
// validated before anything is swapped, so a tool never exists with an
// inconsistent schema mid-update.
func (r *Registry) UpdateTool(id string, patch ToolPatch) (*Tool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.tools[id]
	if !ok {
		return nil, fault.NotFoundf("tool %s not found", id)
	}

	next := current.Clone()
	next.compiled = current.compiled
	if patch.Name != nil {
		next.Name = *patch.Name
	}
	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if patch.Schema != nil {
		next.Schema = patch.Schema.Clone()
		next.RawSchema = nil
		next.compiled = nil
	}
	if patch.SecretID != nil {
		next.SecretID = *patch.SecretID
	}
	if patch.Idempotent != nil {
		next.Idempotent = *patch.Idempotent
	}

	if err := r.validateTool(next); err != nil {
		return nil, err
	}
	if other, dup := r.byName[next.Name]; dup && other != id {
		return nil, fault.Duplicatef("tool %q already registered", next.Name)
	}
	next.UpdatedAt = time.Now().UTC()

	delete(r.byName, current.Name)
	r.byName[next.Name] = id
	r.tools[id] = next

	r.logger.Info("tool updated", zap.String("tool_id", id))
	return next.Clone(), nil
}

// GetTool returns a copy of the tool.
func (r *Registry) GetTool(id string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	if !ok {
		return nil, fault.NotFoundf("tool %s not found", id)
	}
	return t.Clone(), nil
}

// GetToolByName returns a copy of the tool by its unique name.
func (r *Registry) GetToolByName(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return nil, fault.NotFoundf("tool %q not found", name)
	}
	return r.tools[id].Clone(), nil
}

// ListTools returns tools, optionally filtered by kind. limit <= 0 means
// no limit.
func (r *Registry) ListTools(kind ToolKind, limit int) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if kind != "" && t.Kind != kind {
			continue
		}
		out = append(out, t.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// DeleteTool removes a tool. Refused with the blocking dependent set
// while any agent still references it.
func (r *Registry) DeleteTool(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tools[id]
	if !ok {
		return fault.NotFoundf("tool %s not found", id)
	}
	if dependents := r.tracker.DependentsOf(id); len(dependents) > 0 {
		return fault.InUse("tool is referenced by active agents", dependents)
	}

	delete(r.tools, id)
	delete(r.byName, t.Name)
	r.tracker.Forget(id)

	r.logger.Info("tool deleted", zap.String("tool_id", id), zap.String("name", t.Name))
	return nil
}

// ValidateCall checks call arguments against the tool's schema before any
// network attempt. Synchronous, in-memory, no I/O.
func (r *Registry) ValidateCall(toolID string, args map[string]any) (map[string]any, error) {
	r.mu.RLock()
	t, ok := r.tools[toolID]
	r.mu.RUnlock()
	if !ok {
		return nil, fault.NotFoundf("tool %s not found", toolID)
	}

	if t.compiled != nil {
		// Round-trip through JSON so numbers take the shape the compiled
		// schema expects.
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fault.Wrap(fault.KindValidation, err, "arguments are not serializable")
		}
		var inst any
		if err := json.Unmarshal(raw, &inst); err != nil {
			return nil, fault.Wrap(fault.KindValidation, err, "arguments are not valid JSON")
		}
		if err := t.compiled.Validate(inst); err != nil {
			return nil, fault.Wrap(fault.KindValidation, err, "arguments rejected by input_schema")
		}
		out := make(map[string]any, len(args))
		for k, v := range args {
			out[k] = v
		}
		return out, nil
	}
	return t.Schema.ValidateArgs(args)
}

// ToolsReferencingSecret returns ids of tools backed by the given secret.
// Installed as the secrets store's in-use lookup.
func (r *Registry) ToolsReferencingSecret(secretID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, t := range r.tools {
		if t.SecretID == secretID {
			out = append(out, id)
		}
	}
	return out
}

// AdoptTool inserts a tool without re-generating its id. Used when loading
// persisted state at boot.
func (r *Registry) AdoptTool(t *Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.validateTool(t); err != nil {
		return err
	}
	stored := t.Clone()
	if stored.RawSchema != nil {
		compiled, err := compileRawSchema(stored.RawSchema)
		if err != nil {
			return err
		}
		stored.compiled = compiled
	}
	r.tools[stored.ID] = stored
	r.byName[stored.Name] = stored.ID
	return nil
}

// RuleFor snapshots the approval inputs for a call: the tool, its server's
// policy, and the matching rule if any. A nil server pointer means the
// tool is serverless.
func (r *Registry) RuleFor(toolID string) (*Tool, *Server, *approval.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[toolID]
	if !ok {
		return nil, nil, nil, fault.NotFoundf("tool %s not found", toolID)
	}
	if t.ServerID == "" {
		return t.Clone(), nil, nil, nil
	}
	s, ok := r.servers[t.ServerID]
	if !ok {
		return nil, nil, nil, fault.NotFoundf("server %s not found", t.ServerID)
	}
	var rule *approval.Rule
	if got, ok := s.Rules[t.Name]; ok {
		cp := *got
		rule = &cp
	}
	return t.Clone(), s.Clone(), rule, nil
}
