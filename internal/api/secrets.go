package api

import (
	"net/http"

	"github.com/arcline-ai/toolgate/internal/secrets"
)

func (d *Dependencies) handleCreateSecret(w http.ResponseWriter, r *http.Request) {
	var req CreateSecretReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	scope := secrets.Scope(req.Scope)
	if scope == "" {
		scope = secrets.ScopeGlobal
	}

	meta, err := d.Gateway.CreateSecret(r.Context(), req.Name, req.Value, scope, req.AgentID, req.Description)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SecretResp{Secret: meta})
}

func (d *Dependencies) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	metas := d.Gateway.ListSecrets(r.URL.Query().Get("agent_id"))
	resp := make([]SecretResp, 0, len(metas))
	for _, m := range metas {
		resp = append(resp, SecretResp{Secret: m})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleUpdateSecret(w http.ResponseWriter, r *http.Request) {
	var req UpdateSecretReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	meta, err := d.Gateway.UpdateSecret(r.Context(), r.PathValue("secret_id"), req.Value, req.Description)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SecretResp{Secret: meta})
}

func (d *Dependencies) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	if err := d.Gateway.DeleteSecret(r.Context(), r.PathValue("secret_id")); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
