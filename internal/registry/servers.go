package registry

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/arcline-ai/toolgate/internal/approval"
	"github.com/arcline-ai/toolgate/internal/fault"
)

// Transport names how an MCP server is reached.
type Transport string

const (
	TransportSSE        Transport = "sse"
	TransportStreamable Transport = "streamable"
)

func validTransport(t Transport) bool {
	return t == TransportSSE || t == TransportStreamable
}

// Server is a registered MCP server integration. Its ApprovalPolicy is the
// fallback for every tool it contributes; Rules hold at most one
// per-tool override keyed by tool name.
type Server struct {
	ID             string                    `json:"server_id"`
	Name           string                    `json:"name"`
	URL            string                    `json:"url"`
	Transport      Transport                 `json:"transport"`
	SecretID       string                    `json:"secret_id,omitempty"`
	ApprovalPolicy approval.Policy           `json:"approval_policy"`
	Rules          map[string]*approval.Rule `json:"tool_approval_rules,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// Clone returns a copy safe to hand outside the registry lock.
func (s *Server) Clone() *Server {
	cp := *s
	cp.Rules = make(map[string]*approval.Rule, len(s.Rules))
	for name, rule := range s.Rules {
		rc := *rule
		cp.Rules[name] = &rc
	}
	return &cp
}

func validateServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fault.Validationf("server url is not parseable: %v", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fault.Validationf("server url must be absolute")
	}
	switch u.Scheme {
	case "https", "wss":
		return nil
	}
	return fault.Validationf("server url scheme %q not allowed, use https or wss", u.Scheme)
}

// RegisterServer validates and stores a server. New servers start under
// always_ask until an operator relaxes the policy.
func (r *Registry) RegisterServer(s *Server) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Name == "" {
		return "", fault.Validationf("server name is required")
	}
	if err := validateServerURL(s.URL); err != nil {
		return "", err
	}
	if !validTransport(s.Transport) {
		return "", fault.Validationf("unknown transport %q", s.Transport)
	}
	for _, existing := range r.servers {
		if existing.Name == s.Name {
			return "", fault.Duplicatef("server %q already registered", s.Name)
		}
	}
	if s.ApprovalPolicy == "" {
		s.ApprovalPolicy = approval.PolicyAlwaysAsk
	}
	if !approval.ValidPolicy(s.ApprovalPolicy) {
		return "", fault.Validationf("unknown approval policy %q", s.ApprovalPolicy)
	}

	stored := s.Clone()
	stored.ID = "mcpsrv_" + uuid.NewString()
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.servers[stored.ID] = stored

	r.logger.Info("mcp server registered",
		zap.String("server_id", stored.ID),
		zap.String("name", stored.Name),
		zap.String("policy", string(stored.ApprovalPolicy)),
	)
	return stored.ID, nil
}

// GetServer returns a copy of the server.
func (r *Registry) GetServer(id string) (*Server, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[id]
	if !ok {
		return nil, fault.NotFoundf("server %s not found", id)
	}
	return s.Clone(), nil
}

// ListServers returns all registered servers.
func (r *Registry) ListServers() []*Server {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Server, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, s.Clone())
	}
	return out
}

// SetApprovalPolicy replaces the server-wide fallback policy. Per-tool
// rules are untouched and keep winning over the new policy.
func (r *Registry) SetApprovalPolicy(serverID string, p approval.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[serverID]
	if !ok {
		return fault.NotFoundf("server %s not found", serverID)
	}
	if !approval.ValidPolicy(p) {
		return fault.Validationf("unknown approval policy %q", p)
	}
	s.ApprovalPolicy = p
	s.UpdatedAt = time.Now().UTC()

	r.logger.Info("approval policy changed",
		zap.String("server_id", serverID),
		zap.String("policy", string(p)),
	)
	return nil
}

// SetApprovalRule installs or replaces the per-tool rule for the rule's
// tool name. At most one rule exists per (server, tool) pair.
func (r *Registry) SetApprovalRule(serverID string, rule *approval.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[serverID]
	if !ok {
		return fault.NotFoundf("server %s not found", serverID)
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	rc := *rule
	rc.CreatedAt = time.Now().UTC()
	s.Rules[rc.ToolName] = &rc
	s.UpdatedAt = rc.CreatedAt

	r.logger.Info("approval rule set",
		zap.String("server_id", serverID),
		zap.String("tool_name", rc.ToolName),
		zap.String("mode", string(rc.Mode)),
	)
	return nil
}

// DeleteApprovalRule removes the per-tool rule. The tool falls back to
// the server policy on the next call.
func (r *Registry) DeleteApprovalRule(serverID, toolName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[serverID]
	if !ok {
		return fault.NotFoundf("server %s not found", serverID)
	}
	if _, ok := s.Rules[toolName]; !ok {
		return fault.NotFoundf("no approval rule for tool %q", toolName)
	}
	delete(s.Rules, toolName)
	s.UpdatedAt = time.Now().UTC()

	r.logger.Info("approval rule removed",
		zap.String("server_id", serverID),
		zap.String("tool_name", toolName),
	)
	return nil
}

// DiscoveredTool is one tool reported by an MCP server's listing.
type DiscoveredTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// AdoptServerTools ingests a server's tool listing. Known names are
// refreshed in place, new names are registered as mcp_server_tool
// entries. Returns the ids of all tools the server now contributes.
func (r *Registry) AdoptServerTools(serverID string, discovered []DiscoveredTool) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[serverID]
	if !ok {
		return nil, fault.NotFoundf("server %s not found", serverID)
	}

	ids := make([]string, 0, len(discovered))
	now := time.Now().UTC()
	for _, d := range discovered {
		if d.Name == "" {
			return nil, fault.Validationf("discovered tool has no name")
		}
		var compiled *jsonschema.Schema
		if d.InputSchema != nil {
			var err error
			compiled, err = compileRawSchema(d.InputSchema)
			if err != nil {
				return nil, fault.Wrap(fault.KindValidation, err, "tool "+d.Name)
			}
		}

		if existingID, ok := r.byName[d.Name]; ok {
			existing := r.tools[existingID]
			if existing.ServerID != serverID {
				return nil, fault.Duplicatef("tool %q already registered outside server %s", d.Name, serverID)
			}
			existing.Description = d.Description
			existing.RawSchema = append(json.RawMessage(nil), d.InputSchema...)
			existing.compiled = compiled
			existing.UpdatedAt = now
			ids = append(ids, existingID)
			continue
		}

		t := &Tool{
			ID:          "tool_" + uuid.NewString(),
			Name:        d.Name,
			Kind:        KindMCPServerTool,
			Description: d.Description,
			ServerID:    serverID,
			CreatedAt:   now,
			UpdatedAt:   now,
			compiled:    compiled,
		}
		if d.InputSchema != nil {
			t.RawSchema = append(json.RawMessage(nil), d.InputSchema...)
		}
		r.tools[t.ID] = t
		r.byName[t.Name] = t.ID
		ids = append(ids, t.ID)
	}

	r.logger.Info("server tools adopted",
		zap.String("server_id", serverID),
		zap.String("server_name", s.Name),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

// DeleteServer removes a server and the tools it contributed. Refused
// while any contributed tool still has dependent agents.
func (r *Registry) DeleteServer(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[id]
	if !ok {
		return fault.NotFoundf("server %s not found", id)
	}

	var owned []string
	var blocking []string
	for toolID, t := range r.tools {
		if t.ServerID != id {
			continue
		}
		owned = append(owned, toolID)
		blocking = append(blocking, r.tracker.DependentsOf(toolID)...)
	}
	if len(blocking) > 0 {
		return fault.InUse("server tools are referenced by active agents", blocking)
	}

	for _, toolID := range owned {
		delete(r.byName, r.tools[toolID].Name)
		delete(r.tools, toolID)
		r.tracker.Forget(toolID)
	}
	delete(r.servers, id)

	r.logger.Info("mcp server deleted",
		zap.String("server_id", id),
		zap.String("name", s.Name),
		zap.Int("tools_removed", len(owned)),
	)
	return nil
}

// AdoptServer inserts a server without re-generating its id. Used when
// loading persisted state at boot.
func (r *Registry) AdoptServer(s *Server) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == "" || s.Name == "" {
		return fault.Validationf("adopted server missing id or name")
	}
	stored := s.Clone()
	if stored.Rules == nil {
		stored.Rules = make(map[string]*approval.Rule)
	}
	r.servers[stored.ID] = stored
	return nil
}
