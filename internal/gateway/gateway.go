// Package gateway is the facade the HTTP surface drives. It composes the
// registry, secrets store, dependency tracker, approval engine, and the
// upstream API client, and owns write-through persistence.
package gateway

import (
	"context"

	"go.uber.org/zap"

	"github.com/arcline-ai/toolgate/internal/apiclient"
	"github.com/arcline-ai/toolgate/internal/approval"
	"github.com/arcline-ai/toolgate/internal/deps"
	"github.com/arcline-ai/toolgate/internal/fault"
	"github.com/arcline-ai/toolgate/internal/registry"
	"github.com/arcline-ai/toolgate/internal/secrets"
	"github.com/arcline-ai/toolgate/internal/storage"
	"github.com/arcline-ai/toolgate/internal/store"
)

// Gateway wires the catalog, policy, and call-execution components
// together. The persistence store is optional; a nil store means the
// gateway runs purely in memory.
type Gateway struct {
	registry *registry.Registry
	secrets  *secrets.Store
	tracker  *deps.Tracker
	engine   *approval.Engine
	client   *apiclient.Client
	events   storage.EventWriter
	store    *store.Store
	logger   *zap.Logger
}

// Config collects the components a Gateway is built from. Registry,
// Secrets, Tracker, Engine, Client, and Events are required.
type Config struct {
	Registry *registry.Registry
	Secrets  *secrets.Store
	Tracker  *deps.Tracker
	Engine   *approval.Engine
	Client   *apiclient.Client
	Events   storage.EventWriter
	Store    *store.Store // optional
	Logger   *zap.Logger
}

// New builds a Gateway and installs the secrets in-use lookup so a
// secret referenced by a tool cannot be deleted out from under it.
func New(cfg Config) *Gateway {
	g := &Gateway{
		registry: cfg.Registry,
		secrets:  cfg.Secrets,
		tracker:  cfg.Tracker,
		engine:   cfg.Engine,
		client:   cfg.Client,
		events:   cfg.Events,
		store:    cfg.Store,
		logger:   cfg.Logger,
	}
	g.secrets.SetInUseLookup(g.registry.ToolsReferencingSecret)
	return g
}

// LoadState restores persisted tools, servers, secrets, and agent edges
// into the in-memory components. Called once at boot before the HTTP
// surface comes up.
func (g *Gateway) LoadState(ctx context.Context) error {
	if g.store == nil {
		return nil
	}

	servers, err := g.store.LoadServers(ctx)
	if err != nil {
		return err
	}
	for _, srv := range servers {
		if err := g.registry.AdoptServer(srv); err != nil {
			return err
		}
	}

	tools, err := g.store.LoadTools(ctx)
	if err != nil {
		return err
	}
	for _, t := range tools {
		if err := g.registry.AdoptTool(t); err != nil {
			return err
		}
	}

	sealedSecrets, err := g.store.LoadSecrets(ctx)
	if err != nil {
		return err
	}
	for _, sealed := range sealedSecrets {
		g.secrets.Adopt(sealed)
	}

	edges, err := g.store.LoadAgentTools(ctx)
	if err != nil {
		return err
	}
	for _, e := range edges {
		g.tracker.Attach(e.AgentID, e.ToolID)
	}

	g.logger.Info("state loaded",
		zap.Int("servers", len(servers)),
		zap.Int("tools", len(tools)),
		zap.Int("secrets", len(sealedSecrets)),
		zap.Int("agent_edges", len(edges)),
	)
	return nil
}

// RegisterTool validates any secret reference, registers the tool, and
// persists it.
func (g *Gateway) RegisterTool(ctx context.Context, t *registry.Tool) (*registry.Tool, error) {
	if t.SecretID != "" {
		if _, err := g.secrets.Metadata(t.SecretID); err != nil {
			return nil, err
		}
	}
	id, err := g.registry.RegisterTool(t)
	if err != nil {
		return nil, err
	}
	created, err := g.registry.GetTool(id)
	if err != nil {
		return nil, err
	}
	if g.store != nil {
		if err := g.store.SaveTool(ctx, created); err != nil {
			g.logger.Error("tool persist failed", zap.String("tool_id", id), zap.Error(err))
		}
	}
	return created, nil
}

// UpdateTool applies a partial update.
func (g *Gateway) UpdateTool(ctx context.Context, id string, patch registry.ToolPatch) (*registry.Tool, error) {
	if patch.SecretID != nil && *patch.SecretID != "" {
		if _, err := g.secrets.Metadata(*patch.SecretID); err != nil {
			return nil, err
		}
	}
	updated, err := g.registry.UpdateTool(id, patch)
	if err != nil {
		return nil, err
	}
	if g.store != nil {
		if err := g.store.SaveTool(ctx, updated); err != nil {
			g.logger.Error("tool persist failed", zap.String("tool_id", id), zap.Error(err))
		}
	}
	return updated, nil
}

// GetTool returns one tool.
func (g *Gateway) GetTool(id string) (*registry.Tool, error) {
	return g.registry.GetTool(id)
}

// ListTools lists tools, optionally filtered by kind.
func (g *Gateway) ListTools(kind registry.ToolKind, limit int) []*registry.Tool {
	return g.registry.ListTools(kind, limit)
}

// DeleteTool removes a tool unless agents still depend on it.
func (g *Gateway) DeleteTool(ctx context.Context, id string) error {
	if err := g.registry.DeleteTool(id); err != nil {
		return err
	}
	if g.store != nil {
		if err := g.store.DeleteTool(ctx, id); err != nil {
			g.logger.Error("tool delete persist failed", zap.String("tool_id", id), zap.Error(err))
		}
		if err := g.store.DeleteToolEdges(ctx, id); err != nil {
			g.logger.Error("tool edge cleanup failed", zap.String("tool_id", id), zap.Error(err))
		}
	}
	return nil
}

// DependentAgents lists the agents currently referencing a tool.
func (g *Gateway) DependentAgents(toolID string) ([]string, error) {
	if _, err := g.registry.GetTool(toolID); err != nil {
		return nil, err
	}
	return g.tracker.DependentsOf(toolID), nil
}

// AttachTool records an agent's dependency on a tool. Synchronous: once
// this returns, a delete of the tool is refused.
func (g *Gateway) AttachTool(ctx context.Context, agentID, toolID string) error {
	if agentID == "" {
		return fault.Validationf("agent_id is required")
	}
	if _, err := g.registry.GetTool(toolID); err != nil {
		return err
	}
	g.tracker.Attach(agentID, toolID)
	if g.store != nil {
		if err := g.store.AttachAgentTool(ctx, agentID, toolID); err != nil {
			g.logger.Error("edge persist failed",
				zap.String("agent_id", agentID), zap.String("tool_id", toolID), zap.Error(err))
		}
	}
	return nil
}

// DetachTool removes an agent's dependency on a tool.
func (g *Gateway) DetachTool(ctx context.Context, agentID, toolID string) error {
	if _, err := g.registry.GetTool(toolID); err != nil {
		return err
	}
	g.tracker.Detach(agentID, toolID)
	if g.store != nil {
		if err := g.store.DetachAgentTool(ctx, agentID, toolID); err != nil {
			g.logger.Error("edge delete persist failed",
				zap.String("agent_id", agentID), zap.String("tool_id", toolID), zap.Error(err))
		}
	}
	return nil
}

// RegisterServer registers an MCP server integration.
func (g *Gateway) RegisterServer(ctx context.Context, srv *registry.Server) (*registry.Server, error) {
	if srv.SecretID != "" {
		if _, err := g.secrets.Metadata(srv.SecretID); err != nil {
			return nil, err
		}
	}
	id, err := g.registry.RegisterServer(srv)
	if err != nil {
		return nil, err
	}
	created, err := g.registry.GetServer(id)
	if err != nil {
		return nil, err
	}
	g.persistServer(ctx, id)
	return created, nil
}

// GetServer returns one server.
func (g *Gateway) GetServer(id string) (*registry.Server, error) {
	return g.registry.GetServer(id)
}

// ListServers lists all servers.
func (g *Gateway) ListServers() []*registry.Server {
	return g.registry.ListServers()
}

// DeleteServer removes a server and its contributed tools.
func (g *Gateway) DeleteServer(ctx context.Context, id string) error {
	if err := g.registry.DeleteServer(id); err != nil {
		return err
	}
	if g.store != nil {
		if err := g.store.DeleteServerTools(ctx, id); err != nil {
			g.logger.Error("server tool cleanup failed", zap.String("server_id", id), zap.Error(err))
		}
		if err := g.store.DeleteServer(ctx, id); err != nil {
			g.logger.Error("server delete persist failed", zap.String("server_id", id), zap.Error(err))
		}
	}
	return nil
}

// SetApprovalPolicy changes a server's fallback approval policy.
func (g *Gateway) SetApprovalPolicy(ctx context.Context, serverID string, p approval.Policy) (*registry.Server, error) {
	if err := g.registry.SetApprovalPolicy(serverID, p); err != nil {
		return nil, err
	}
	g.persistServer(ctx, serverID)
	return g.registry.GetServer(serverID)
}

// SetApprovalRule installs or replaces a per-tool approval rule.
func (g *Gateway) SetApprovalRule(ctx context.Context, serverID string, rule *approval.Rule) (*registry.Server, error) {
	if err := g.registry.SetApprovalRule(serverID, rule); err != nil {
		return nil, err
	}
	g.persistServer(ctx, serverID)
	return g.registry.GetServer(serverID)
}

// DeleteApprovalRule removes a per-tool approval rule.
func (g *Gateway) DeleteApprovalRule(ctx context.Context, serverID, toolName string) error {
	if err := g.registry.DeleteApprovalRule(serverID, toolName); err != nil {
		return err
	}
	g.persistServer(ctx, serverID)
	return nil
}

// AdoptServerTools ingests a server's discovered tool listing.
func (g *Gateway) AdoptServerTools(ctx context.Context, serverID string, discovered []registry.DiscoveredTool) ([]*registry.Tool, error) {
	ids, err := g.registry.AdoptServerTools(serverID, discovered)
	if err != nil {
		return nil, err
	}
	tools := make([]*registry.Tool, 0, len(ids))
	for _, id := range ids {
		t, err := g.registry.GetTool(id)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
		if g.store != nil {
			if err := g.store.SaveTool(ctx, t); err != nil {
				g.logger.Error("tool persist failed", zap.String("tool_id", id), zap.Error(err))
			}
		}
	}
	return tools, nil
}

func (g *Gateway) persistServer(ctx context.Context, serverID string) {
	if g.store == nil {
		return
	}
	srv, err := g.registry.GetServer(serverID)
	if err != nil {
		return
	}
	if err := g.store.SaveServer(ctx, srv); err != nil {
		g.logger.Error("server persist failed", zap.String("server_id", serverID), zap.Error(err))
	}
}

// CreateSecret stores a secret value and returns its metadata. The value
// is sealed immediately and never appears in any response.
func (g *Gateway) CreateSecret(ctx context.Context, name, value string, scope secrets.Scope, agentID, description string) (*secrets.Secret, error) {
	meta, err := g.secrets.Create(name, value, scope, agentID, description)
	if err != nil {
		return nil, err
	}
	g.persistSecret(ctx, meta.ID)
	return meta, nil
}

// UpdateSecret rotates a secret's value or description.
func (g *Gateway) UpdateSecret(ctx context.Context, id string, value, description *string) (*secrets.Secret, error) {
	meta, err := g.secrets.Update(id, value, description)
	if err != nil {
		return nil, err
	}
	g.persistSecret(ctx, id)
	return meta, nil
}

// ListSecrets lists secret metadata visible to an agent. Empty agentID
// lists everything.
func (g *Gateway) ListSecrets(agentID string) []*secrets.Secret {
	return g.secrets.List(agentID)
}

// DeleteSecret removes a secret unless a tool still references it.
func (g *Gateway) DeleteSecret(ctx context.Context, id string) error {
	if err := g.secrets.Delete(id); err != nil {
		return err
	}
	if g.store != nil {
		if err := g.store.DeleteSecret(ctx, id); err != nil {
			g.logger.Error("secret delete persist failed", zap.String("secret_id", id), zap.Error(err))
		}
	}
	return nil
}

func (g *Gateway) persistSecret(ctx context.Context, id string) {
	if g.store == nil {
		return
	}
	sealed, err := g.secrets.Export(id)
	if err != nil {
		return
	}
	if err := g.store.SaveSecret(ctx, sealed); err != nil {
		g.logger.Error("secret persist failed", zap.String("secret_id", id), zap.Error(err))
	}
}
