package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/arcline-ai/toolgate/internal/gateway"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Gateway      *gateway.Gateway
	Logger       *zap.Logger
	AdminKeyHash string // bcrypt hash of the tgk_ admin key; empty disables auth
	AuthCacheTTL time.Duration
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()
	auth := deps.authMiddleware

	// Tool catalog
	mux.HandleFunc("POST /v1/tools", auth(deps.handleRegisterTool))
	mux.HandleFunc("GET /v1/tools", auth(deps.handleListTools))
	mux.HandleFunc("GET /v1/tools/{tool_id}", auth(deps.handleGetTool))
	mux.HandleFunc("PATCH /v1/tools/{tool_id}", auth(deps.handleUpdateTool))
	mux.HandleFunc("DELETE /v1/tools/{tool_id}", auth(deps.handleDeleteTool))
	mux.HandleFunc("GET /v1/tools/{tool_id}/dependent-agents", auth(deps.handleDependentAgents))

	// MCP server integrations and approval policy
	mux.HandleFunc("POST /v1/mcp-servers", auth(deps.handleRegisterServer))
	mux.HandleFunc("GET /v1/mcp-servers", auth(deps.handleListServers))
	mux.HandleFunc("GET /v1/mcp-servers/{server_id}", auth(deps.handleGetServer))
	mux.HandleFunc("DELETE /v1/mcp-servers/{server_id}", auth(deps.handleDeleteServer))
	mux.HandleFunc("POST /v1/mcp-servers/{server_id}/tools", auth(deps.handleAdoptServerTools))
	mux.HandleFunc("PATCH /v1/mcp-servers/{server_id}/approval-policy", auth(deps.handleSetApprovalPolicy))
	mux.HandleFunc("PUT /v1/mcp-servers/{server_id}/tool-approvals/{tool_name}", auth(deps.handleSetApprovalRule))
	mux.HandleFunc("DELETE /v1/mcp-servers/{server_id}/tool-approvals/{tool_name}", auth(deps.handleDeleteApprovalRule))

	// Secrets (metadata only, values never leave the gateway)
	mux.HandleFunc("POST /v1/secrets", auth(deps.handleCreateSecret))
	mux.HandleFunc("GET /v1/secrets", auth(deps.handleListSecrets))
	mux.HandleFunc("PATCH /v1/secrets/{secret_id}", auth(deps.handleUpdateSecret))
	mux.HandleFunc("DELETE /v1/secrets/{secret_id}", auth(deps.handleDeleteSecret))

	// Agent-to-tool dependency edges
	mux.HandleFunc("POST /v1/agents/{agent_id}/tools/{tool_id}", auth(deps.handleAttachTool))
	mux.HandleFunc("DELETE /v1/agents/{agent_id}/tools/{tool_id}", auth(deps.handleDetachTool))

	// Call path
	mux.HandleFunc("POST /v1/calls/authorize", auth(deps.handleAuthorizeCall))
	mux.HandleFunc("POST /v1/calls/execute", auth(deps.handleExecuteCall))

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
