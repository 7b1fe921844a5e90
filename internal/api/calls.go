package api

import (
	"net/http"

	"github.com/arcline-ai/toolgate/internal/gateway"
)

func (d *Dependencies) handleAuthorizeCall(w http.ResponseWriter, r *http.Request) {
	var req gateway.CallRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	authz, err := d.Gateway.Authorize(r.Context(), &req)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authz)
}

func (d *Dependencies) handleExecuteCall(w http.ResponseWriter, r *http.Request) {
	var req gateway.CallRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	res, err := d.Gateway.Execute(r.Context(), &req)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
