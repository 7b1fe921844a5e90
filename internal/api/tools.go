package api

import (
	"net/http"
	"strconv"

	"github.com/arcline-ai/toolgate/internal/registry"
)

func (d *Dependencies) handleRegisterTool(w http.ResponseWriter, r *http.Request) {
	var req RegisterToolReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	tool, err := d.Gateway.RegisterTool(r.Context(), &registry.Tool{
		Name:        req.Name,
		Kind:        registry.ToolKind(req.Kind),
		Description: req.Description,
		Schema:      req.Schema,
		RawSchema:   req.InputSchema,
		SecretID:    req.SecretID,
		ServerID:    req.ServerID,
		Idempotent:  req.Idempotent,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tool)
}

func (d *Dependencies) handleListTools(w http.ResponseWriter, r *http.Request) {
	kind := registry.ToolKind(r.URL.Query().Get("kind"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, ToolListResp{Tools: d.Gateway.ListTools(kind, limit)})
}

func (d *Dependencies) handleGetTool(w http.ResponseWriter, r *http.Request) {
	tool, err := d.Gateway.GetTool(r.PathValue("tool_id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

func (d *Dependencies) handleUpdateTool(w http.ResponseWriter, r *http.Request) {
	var req UpdateToolReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	tool, err := d.Gateway.UpdateTool(r.Context(), r.PathValue("tool_id"), registry.ToolPatch{
		Name:        req.Name,
		Description: req.Description,
		Schema:      req.Schema,
		SecretID:    req.SecretID,
		Idempotent:  req.Idempotent,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

func (d *Dependencies) handleDeleteTool(w http.ResponseWriter, r *http.Request) {
	if err := d.Gateway.DeleteTool(r.Context(), r.PathValue("tool_id")); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleDependentAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := d.Gateway.DependentAgents(r.PathValue("tool_id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	if agents == nil {
		agents = []string{}
	}
	writeJSON(w, http.StatusOK, DependentAgentsResp{AgentIDs: agents})
}

func (d *Dependencies) handleAttachTool(w http.ResponseWriter, r *http.Request) {
	err := d.Gateway.AttachTool(r.Context(), r.PathValue("agent_id"), r.PathValue("tool_id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleDetachTool(w http.ResponseWriter, r *http.Request) {
	err := d.Gateway.DetachTool(r.Context(), r.PathValue("agent_id"), r.PathValue("tool_id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
