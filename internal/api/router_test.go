package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/arcline-ai/toolgate/internal/apiclient"
	"github.com/arcline-ai/toolgate/internal/approval"
	"github.com/arcline-ai/toolgate/internal/deps"
	"github.com/arcline-ai/toolgate/internal/gateway"
	"github.com/arcline-ai/toolgate/internal/registry"
	"github.com/arcline-ai/toolgate/internal/secrets"
	"github.com/arcline-ai/toolgate/internal/storage"
)

type stubTransport struct{}

func (stubTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader([]byte(`{"ok":true}`))),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

func newTestRouter(t *testing.T, adminKeyHash string) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	tracker := deps.NewTracker()
	sec, err := secrets.NewStore(secrets.NewRandomKey(), logger)
	if err != nil {
		t.Fatalf("secrets.NewStore: %v", err)
	}
	client := apiclient.New(apiclient.Config{
		BaseURL:    "https://platform.test",
		HTTPClient: &http.Client{Transport: stubTransport{}},
	}, apiclient.NewMemoryCache(), logger)

	gw := gateway.New(gateway.Config{
		Registry: registry.New(tracker, logger),
		Secrets:  sec,
		Tracker:  tracker,
		Engine:   approval.NewEngine(approval.PolicyNoApproval, logger),
		Client:   client,
		Events:   storage.NewLogWriter(logger),
		Logger:   logger,
	})
	return NewRouter(&Dependencies{
		Gateway:      gw,
		Logger:       logger,
		AdminKeyHash: adminKeyHash,
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t, "")
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

func TestAuthRequiredWhenKeyConfigured(t *testing.T) {
	key := "tgk_test-admin-key"
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	h := newTestRouter(t, string(hash))

	rec := doJSON(t, h, http.MethodGet, "/v1/tools", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401 without key, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/tools", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("want 200 with key, got %d: %s", rec2.Code, rec2.Body.String())
	}

	req3 := httptest.NewRequest(http.MethodGet, "/v1/tools", nil)
	req3.Header.Set("Authorization", "Bearer tgk_wrong-key")
	rec3 := httptest.NewRecorder()
	h.ServeHTTP(rec3, req3)
	if rec3.Code != http.StatusUnauthorized {
		t.Fatalf("want 401 with wrong key, got %d", rec3.Code)
	}
}

func TestToolLifecycleOverHTTP(t *testing.T) {
	h := newTestRouter(t, "")

	rec := doJSON(t, h, http.MethodPost, "/v1/tools", RegisterToolReq{
		Name: "get_weather",
		Kind: "webhook",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: want 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[registry.Tool](t, rec)
	if created.ID == "" {
		t.Fatal("no tool_id in response")
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/tools/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: want 200, got %d", rec.Code)
	}

	newName := "fetch_weather"
	rec = doJSON(t, h, http.MethodPatch, "/v1/tools/"+created.ID, UpdateToolReq{Name: &newName})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if decode[registry.Tool](t, rec).Name != "fetch_weather" {
		t.Fatal("name not updated")
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/tools/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: want 204, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/tools/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted: want 404, got %d", rec.Code)
	}
}

func TestDeleteBlockedReturnsConflictWithDependents(t *testing.T) {
	h := newTestRouter(t, "")

	rec := doJSON(t, h, http.MethodPost, "/v1/tools", RegisterToolReq{Name: "get_weather", Kind: "webhook"})
	created := decode[registry.Tool](t, rec)

	rec = doJSON(t, h, http.MethodPost, "/v1/agents/agent_1/tools/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("attach: want 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/tools/"+created.ID, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("want 409, got %d", rec.Code)
	}
	errResp := decode[ErrorResp](t, rec)
	if len(errResp.Dependents) != 1 || errResp.Dependents[0] != "agent_1" {
		t.Fatalf("conflict body missing dependents: %+v", errResp)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/tools/"+created.ID+"/dependent-agents", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dependent-agents: want 200, got %d", rec.Code)
	}
	agents := decode[DependentAgentsResp](t, rec)
	if len(agents.AgentIDs) != 1 || agents.AgentIDs[0] != "agent_1" {
		t.Fatalf("unexpected agents %+v", agents)
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/agents/agent_1/tools/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("detach: want 204, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/v1/tools/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete after detach: want 204, got %d", rec.Code)
	}
}

func TestSecretResponsesNeverCarryValue(t *testing.T) {
	h := newTestRouter(t, "")
	const plaintext = "sk-super-secret-9000"

	rec := doJSON(t, h, http.MethodPost, "/v1/secrets", CreateSecretReq{
		Name:  "weather-api",
		Value: plaintext,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: want 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), plaintext) {
		t.Fatal("create response leaked the secret value")
	}
	meta := decode[SecretResp](t, rec)

	rec = doJSON(t, h, http.MethodGet, "/v1/secrets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: want 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), plaintext) {
		t.Fatal("list response leaked the secret value")
	}

	rotated := "sk-rotated-1"
	rec = doJSON(t, h, http.MethodPatch, "/v1/secrets/"+meta.ID, UpdateSecretReq{Value: &rotated})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), rotated) || strings.Contains(rec.Body.String(), plaintext) {
		t.Fatal("update response leaked a secret value")
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/secrets/"+meta.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: want 204, got %d", rec.Code)
	}
}

func TestApprovalRuleLifecycleOverHTTP(t *testing.T) {
	h := newTestRouter(t, "")

	rec := doJSON(t, h, http.MethodPost, "/v1/mcp-servers", RegisterServerReq{
		Name:      "calendar",
		URL:       "https://mcp.example.com/sse",
		Transport: "sse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register server: want 201, got %d: %s", rec.Code, rec.Body.String())
	}
	srv := decode[registry.Server](t, rec)
	if srv.ApprovalPolicy != approval.PolicyAlwaysAsk {
		t.Fatalf("want always_ask default, got %s", srv.ApprovalPolicy)
	}

	rec = doJSON(t, h, http.MethodPatch, "/v1/mcp-servers/"+srv.ID+"/approval-policy",
		SetPolicyReq{ApprovalPolicy: "fine_grained"})
	if rec.Code != http.StatusOK {
		t.Fatalf("set policy: want 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPut, "/v1/mcp-servers/"+srv.ID+"/tool-approvals/create_event",
		SetRuleReq{
			Mode: "conditional",
			Condition: &approval.Condition{
				Param: "date", Op: approval.OpGt, Value: "2026-12-31",
			},
		})
	if rec.Code != http.StatusOK {
		t.Fatalf("set rule: want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	withRule := decode[registry.Server](t, rec)
	if _, ok := withRule.Rules["create_event"]; !ok {
		t.Fatalf("rule missing from response: %+v", withRule.Rules)
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/mcp-servers/"+srv.ID+"/tool-approvals/create_event", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete rule: want 204, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/v1/mcp-servers/"+srv.ID+"/tool-approvals/create_event", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: want 404, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPut, "/v1/mcp-servers/"+srv.ID+"/tool-approvals/create_event",
		SetRuleReq{Mode: "sometimes"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad mode: want 400, got %d", rec.Code)
	}
}

func TestExecuteCallOverHTTP(t *testing.T) {
	h := newTestRouter(t, "")

	rec := doJSON(t, h, http.MethodPost, "/v1/tools", RegisterToolReq{Name: "get_weather", Kind: "webhook"})
	created := decode[registry.Tool](t, rec)

	rec = doJSON(t, h, http.MethodPost, "/v1/calls/execute", gateway.CallRequest{
		AgentID:   "agent_1",
		ToolID:    created.ID,
		Arguments: map[string]any{},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("execute: want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[gateway.CallResult](t, rec)
	if res.Status != "ok" {
		t.Fatalf("unexpected result %+v", res)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/calls/execute", gateway.CallRequest{
		AgentID:   "agent_1",
		ToolID:    "tool_missing",
		Arguments: map[string]any{},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing tool: want 404, got %d", rec.Code)
	}
}
