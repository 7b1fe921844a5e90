package api

import (
	"net/http"

	"github.com/arcline-ai/toolgate/internal/approval"
	"github.com/arcline-ai/toolgate/internal/registry"
)

func (d *Dependencies) handleRegisterServer(w http.ResponseWriter, r *http.Request) {
	var req RegisterServerReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	srv, err := d.Gateway.RegisterServer(r.Context(), &registry.Server{
		Name:           req.Name,
		URL:            req.URL,
		Transport:      registry.Transport(req.Transport),
		SecretID:       req.SecretID,
		ApprovalPolicy: approval.Policy(req.ApprovalPolicy),
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, srv)
}

func (d *Dependencies) handleListServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ServerListResp{Servers: d.Gateway.ListServers()})
}

func (d *Dependencies) handleGetServer(w http.ResponseWriter, r *http.Request) {
	srv, err := d.Gateway.GetServer(r.PathValue("server_id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (d *Dependencies) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	if err := d.Gateway.DeleteServer(r.Context(), r.PathValue("server_id")); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleAdoptServerTools(w http.ResponseWriter, r *http.Request) {
	var req AdoptToolsReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	tools, err := d.Gateway.AdoptServerTools(r.Context(), r.PathValue("server_id"), req.Tools)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToolListResp{Tools: tools})
}

func (d *Dependencies) handleSetApprovalPolicy(w http.ResponseWriter, r *http.Request) {
	var req SetPolicyReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	srv, err := d.Gateway.SetApprovalPolicy(r.Context(), r.PathValue("server_id"), approval.Policy(req.ApprovalPolicy))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (d *Dependencies) handleSetApprovalRule(w http.ResponseWriter, r *http.Request) {
	var req SetRuleReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	srv, err := d.Gateway.SetApprovalRule(r.Context(), r.PathValue("server_id"), &approval.Rule{
		ToolName:  r.PathValue("tool_name"),
		Mode:      approval.Mode(req.Mode),
		Condition: req.Condition,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (d *Dependencies) handleDeleteApprovalRule(w http.ResponseWriter, r *http.Request) {
	err := d.Gateway.DeleteApprovalRule(r.Context(), r.PathValue("server_id"), r.PathValue("tool_name"))
	if err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
