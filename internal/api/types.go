package api

import (
	"encoding/json"

	"github.com/arcline-ai/toolgate/internal/approval"
	"github.com/arcline-ai/toolgate/internal/registry"
	"github.com/arcline-ai/toolgate/internal/schema"
	"github.com/arcline-ai/toolgate/internal/secrets"
)

// ErrorResp is the uniform error body.
type ErrorResp struct {
	Detail     string   `json:"detail"`
	Kind       string   `json:"kind,omitempty"`
	Dependents []string `json:"dependents,omitempty"`
}

// RegisterToolReq creates a tool.
type RegisterToolReq struct {
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	Description string          `json:"description,omitempty"`
	Schema      schema.Schema   `json:"parameter_schema,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	SecretID    string          `json:"secret_id,omitempty"`
	ServerID    string          `json:"server_id,omitempty"`
	Idempotent  bool            `json:"idempotent,omitempty"`
}

// UpdateToolReq is a partial tool update. Absent fields are unchanged.
type UpdateToolReq struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Schema      *schema.Schema `json:"parameter_schema,omitempty"`
	SecretID    *string        `json:"secret_id,omitempty"`
	Idempotent  *bool          `json:"idempotent,omitempty"`
}

// RegisterServerReq creates an MCP server integration.
type RegisterServerReq struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	Transport      string `json:"transport"`
	SecretID       string `json:"secret_id,omitempty"`
	ApprovalPolicy string `json:"approval_policy,omitempty"`
}

// AdoptToolsReq carries a server's discovered tool listing.
type AdoptToolsReq struct {
	Tools []registry.DiscoveredTool `json:"tools"`
}

// SetPolicyReq changes a server's fallback approval policy.
type SetPolicyReq struct {
	ApprovalPolicy string `json:"approval_policy"`
}

// SetRuleReq installs a per-tool approval rule. The tool name comes from
// the URL path.
type SetRuleReq struct {
	Mode      string              `json:"mode"`
	Condition *approval.Condition `json:"condition,omitempty"`
}

// CreateSecretReq creates a secret. The value appears here and nowhere
// else; every response carries metadata only.
type CreateSecretReq struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Scope       string `json:"scope,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
	Description string `json:"description,omitempty"`
}

// UpdateSecretReq rotates a secret value or edits its description.
type UpdateSecretReq struct {
	Value       *string `json:"value,omitempty"`
	Description *string `json:"description,omitempty"`
}

// SecretResp is secret metadata. There is deliberately no value field.
type SecretResp struct {
	*secrets.Secret
}

// ToolListResp wraps a tool listing.
type ToolListResp struct {
	Tools []*registry.Tool `json:"tools"`
}

// ServerListResp wraps a server listing.
type ServerListResp struct {
	Servers []*registry.Server `json:"servers"`
}

// DependentAgentsResp lists agents blocking a tool delete.
type DependentAgentsResp struct {
	AgentIDs []string `json:"agent_ids"`
}
