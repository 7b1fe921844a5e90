package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/arcline-ai/toolgate/internal/apiclient"
	"github.com/arcline-ai/toolgate/internal/approval"
	"github.com/arcline-ai/toolgate/internal/deps"
	"github.com/arcline-ai/toolgate/internal/fault"
	"github.com/arcline-ai/toolgate/internal/registry"
	"github.com/arcline-ai/toolgate/internal/schema"
	"github.com/arcline-ai/toolgate/internal/secrets"
	"github.com/arcline-ai/toolgate/internal/storage"
)

// captureTransport records outbound requests and serves a canned body.
type captureTransport struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	status   int
	body     string
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var body string
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		body = string(raw)
	}
	t.requests = append(t.requests, req.Clone(context.Background()))
	t.bodies = append(t.bodies, body)

	status := t.status
	if status == 0 {
		status = http.StatusOK
	}
	payload := t.body
	if payload == "" {
		payload = `{"ok":true}`
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(payload))),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

func (t *captureTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// captureEvents is an in-memory EventWriter.
type captureEvents struct {
	mu     sync.Mutex
	events []*storage.ToolCallEvent
}

func (c *captureEvents) Write(event *storage.ToolCallEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureEvents) Close() {}

func (c *captureEvents) last(t *testing.T) *storage.ToolCallEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		t.Fatal("no audit events recorded")
	}
	return c.events[len(c.events)-1]
}

type testEnv struct {
	gw        *Gateway
	transport *captureTransport
	events    *captureEvents
	tracker   *deps.Tracker
	secrets   *secrets.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	tracker := deps.NewTracker()
	reg := registry.New(tracker, logger)
	sec, err := secrets.NewStore(secrets.NewRandomKey(), logger)
	if err != nil {
		t.Fatalf("secrets.NewStore: %v", err)
	}
	transport := &captureTransport{}
	client := apiclient.New(apiclient.Config{
		BaseURL:    "https://platform.test",
		MaxRetries: 1,
		HTTPClient: &http.Client{Transport: transport},
	}, apiclient.NewMemoryCache(), logger)
	events := &captureEvents{}

	gw := New(Config{
		Registry: reg,
		Secrets:  sec,
		Tracker:  tracker,
		Engine:   approval.NewEngine(approval.PolicyNoApproval, logger),
		Client:   client,
		Events:   events,
		Logger:   logger,
	})
	return &testEnv{gw: gw, transport: transport, events: events, tracker: tracker, secrets: sec}
}

func registerWeatherTool(t *testing.T, env *testEnv, idempotent bool) *registry.Tool {
	t.Helper()
	tool, err := env.gw.RegisterTool(context.Background(), &registry.Tool{
		Name: "get_weather",
		Kind: registry.KindWebhook,
		Schema: schema.Schema{
			{Name: "city", Type: schema.TypeString, Required: true},
		},
		Idempotent: idempotent,
	})
	if err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}
	return tool
}

func TestExecuteAllowedCallReachesUpstream(t *testing.T) {
	env := newTestEnv(t)
	tool := registerWeatherTool(t, env, false)

	res, err := env.gw.Execute(context.Background(), &CallRequest{
		AgentID:   "agent_1",
		ToolID:    tool.ID,
		Arguments: map[string]any{"city": "Lisbon"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != "ok" {
		t.Fatalf("want ok, got %+v", res)
	}
	if env.transport.count() != 1 {
		t.Fatalf("want 1 upstream call, got %d", env.transport.count())
	}

	event := env.events.last(t)
	if event.Decision != "allowed" || event.Outcome != "ok" {
		t.Fatalf("unexpected audit event %+v", event)
	}
}

func TestExecuteRejectsInvalidArgsBeforeNetwork(t *testing.T) {
	env := newTestEnv(t)
	tool := registerWeatherTool(t, env, false)

	_, err := env.gw.Execute(context.Background(), &CallRequest{
		AgentID:   "agent_1",
		ToolID:    tool.ID,
		Arguments: map[string]any{"city": "Lisbon", "bogus": 1},
	})
	if !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
	if env.transport.count() != 0 {
		t.Fatalf("invalid call reached the network %d times", env.transport.count())
	}
	if env.events.last(t).Outcome != "error" {
		t.Fatal("validation failure not audited")
	}
}

func setupCalendarServer(t *testing.T, env *testEnv) (serverID string, toolID string) {
	t.Helper()
	ctx := context.Background()
	srv, err := env.gw.RegisterServer(ctx, &registry.Server{
		Name:      "calendar",
		URL:       "https://mcp.example.com/sse",
		Transport: registry.TransportSSE,
	})
	if err != nil {
		t.Fatalf("RegisterServer: %v", err)
	}
	if _, err := env.gw.SetApprovalPolicy(ctx, srv.ID, approval.PolicyFineGrained); err != nil {
		t.Fatalf("SetApprovalPolicy: %v", err)
	}
	tools, err := env.gw.AdoptServerTools(ctx, srv.ID, []registry.DiscoveredTool{
		{Name: "create_event", InputSchema: []byte(`{
			"type": "object",
			"properties": {"date": {"type": "string"}, "title": {"type": "string"}},
			"required": ["date"],
			"additionalProperties": false
		}`)},
	})
	if err != nil {
		t.Fatalf("AdoptServerTools: %v", err)
	}
	return srv.ID, tools[0].ID
}

func TestConditionalRuleGatesByDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	serverID, toolID := setupCalendarServer(t, env)

	// Events beyond the cutoff need a human sign-off; earlier ones flow.
	_, err := env.gw.SetApprovalRule(ctx, serverID, &approval.Rule{
		ToolName: "create_event",
		Mode:     approval.ModeConditional,
		Condition: &approval.Condition{
			Param: "date",
			Op:    approval.OpGt,
			Value: "2026-12-31",
		},
	})
	if err != nil {
		t.Fatalf("SetApprovalRule: %v", err)
	}

	early, err := env.gw.Execute(ctx, &CallRequest{
		AgentID:   "agent_1",
		ToolID:    toolID,
		Arguments: map[string]any{"date": "2026-10-05"},
	})
	if err != nil {
		t.Fatalf("Execute early date: %v", err)
	}
	if early.Status != "ok" {
		t.Fatalf("early date should pass without approval, got %+v", early)
	}

	late, err := env.gw.Execute(ctx, &CallRequest{
		AgentID:   "agent_1",
		ToolID:    toolID,
		Arguments: map[string]any{"date": "2027-03-01"},
	})
	if err != nil {
		t.Fatalf("Execute late date: %v", err)
	}
	if late.Status != "denied" {
		t.Fatalf("late date should be held, got %+v", late)
	}
	if !strings.Contains(late.ErrorDetail, "date") {
		t.Fatalf("denial reason should name the condition, got %q", late.ErrorDetail)
	}
	if env.transport.count() != 1 {
		t.Fatalf("held call reached the network, count %d", env.transport.count())
	}

	approved, err := env.gw.Execute(ctx, &CallRequest{
		AgentID:   "agent_1",
		ToolID:    toolID,
		Arguments: map[string]any{"date": "2027-03-01"},
		Approved:  true,
	})
	if err != nil {
		t.Fatalf("Execute approved: %v", err)
	}
	if approved.Status != "ok" {
		t.Fatalf("approved call should execute, got %+v", approved)
	}
	if env.events.last(t).Decision != "approved" {
		t.Fatalf("approved override not audited: %+v", env.events.last(t))
	}
}

func TestFineGrainedWithoutRuleRequiresApproval(t *testing.T) {
	env := newTestEnv(t)
	_, toolID := setupCalendarServer(t, env)

	authz, err := env.gw.Authorize(context.Background(), &CallRequest{
		AgentID:   "agent_1",
		ToolID:    toolID,
		Arguments: map[string]any{"date": "2026-10-05"},
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if authz.Allowed {
		t.Fatal("fine_grained with no rule must hold the call")
	}
	if env.transport.count() != 0 {
		t.Fatal("Authorize must not touch the network")
	}
}

func TestSecretInjectedButNeverLogged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	meta, err := env.gw.CreateSecret(ctx, "weather-api", "sk-plain-12345", secrets.ScopeGlobal, "", "")
	if err != nil {
		t.Fatalf("CreateSecret: %v", err)
	}

	tool, err := env.gw.RegisterTool(ctx, &registry.Tool{
		Name: "get_weather",
		Kind: registry.KindWebhook,
		Schema: schema.Schema{
			{Name: "city", Type: schema.TypeString, Required: true},
		},
		SecretID: meta.ID,
	})
	if err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}

	res, err := env.gw.Execute(ctx, &CallRequest{
		AgentID:   "agent_1",
		ToolID:    tool.ID,
		Arguments: map[string]any{"city": "Lisbon"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != "ok" {
		t.Fatalf("unexpected result %+v", res)
	}

	got := env.transport.requests[0].Header.Get("Authorization")
	if got != "Bearer sk-plain-12345" {
		t.Fatalf("credential not injected, got %q", got)
	}

	event := env.events.last(t)
	for _, field := range []string{event.ArgsHash, event.ToolName, event.ErrorKind} {
		if strings.Contains(field, "sk-plain-12345") {
			t.Fatalf("plaintext secret leaked into audit event field %q", field)
		}
	}
	if strings.Contains(string(res.Payload), "sk-plain-12345") {
		t.Fatal("plaintext secret leaked into result payload")
	}
}

func TestSecretDeleteBlockedWhileReferenced(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	meta, err := env.gw.CreateSecret(ctx, "weather-api", "sk-1", secrets.ScopeGlobal, "", "")
	if err != nil {
		t.Fatalf("CreateSecret: %v", err)
	}
	tool, err := env.gw.RegisterTool(ctx, &registry.Tool{
		Name:     "get_weather",
		Kind:     registry.KindWebhook,
		SecretID: meta.ID,
	})
	if err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}

	err = env.gw.DeleteSecret(ctx, meta.ID)
	if !fault.IsKind(err, fault.KindInUse) {
		t.Fatalf("want in-use error, got %v", err)
	}
	refs := fault.DependentsOf(err)
	if len(refs) != 1 || refs[0] != tool.ID {
		t.Fatalf("unexpected blocking refs %v", refs)
	}

	if err := env.gw.DeleteTool(ctx, tool.ID); err != nil {
		t.Fatalf("DeleteTool: %v", err)
	}
	if err := env.gw.DeleteSecret(ctx, meta.ID); err != nil {
		t.Fatalf("delete after release: %v", err)
	}
}

func TestDeleteToolBlockedByAttachedAgent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tool := registerWeatherTool(t, env, false)

	if err := env.gw.AttachTool(ctx, "agent_1", tool.ID); err != nil {
		t.Fatalf("AttachTool: %v", err)
	}
	err := env.gw.DeleteTool(ctx, tool.ID)
	if !fault.IsKind(err, fault.KindInUse) {
		t.Fatalf("want in-use error, got %v", err)
	}

	agents, err := env.gw.DependentAgents(tool.ID)
	if err != nil {
		t.Fatalf("DependentAgents: %v", err)
	}
	if len(agents) != 1 || agents[0] != "agent_1" {
		t.Fatalf("unexpected dependents %v", agents)
	}

	if err := env.gw.DetachTool(ctx, "agent_1", tool.ID); err != nil {
		t.Fatalf("DetachTool: %v", err)
	}
	if err := env.gw.DeleteTool(ctx, tool.ID); err != nil {
		t.Fatalf("delete after detach: %v", err)
	}
}

func TestIdempotentCallServedFromCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tool := registerWeatherTool(t, env, true)

	req := &CallRequest{
		AgentID:   "agent_1",
		ToolID:    tool.ID,
		Arguments: map[string]any{"city": "Lisbon"},
	}
	first, err := env.gw.Execute(ctx, req)
	if err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if first.Cached {
		t.Fatal("first call should miss the cache")
	}

	second, err := env.gw.Execute(ctx, &CallRequest{
		AgentID:   "agent_1",
		ToolID:    tool.ID,
		Arguments: map[string]any{"city": "Lisbon"},
	})
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if !second.Cached {
		t.Fatal("identical idempotent call should be served from cache")
	}
	if env.transport.count() != 1 {
		t.Fatalf("want 1 upstream call, got %d", env.transport.count())
	}

	// Different arguments key differently.
	third, err := env.gw.Execute(ctx, &CallRequest{
		AgentID:   "agent_1",
		ToolID:    tool.ID,
		Arguments: map[string]any{"city": "Porto"},
	})
	if err != nil {
		t.Fatalf("third Execute: %v", err)
	}
	if third.Cached {
		t.Fatal("different arguments must not share a cache entry")
	}
}

func TestTransferCallTargetsAgentPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tool, err := env.gw.RegisterTool(ctx, &registry.Tool{
		Name: "escalate_to_human",
		Kind: registry.KindTransfer,
	})
	if err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}

	res, err := env.gw.Execute(ctx, &CallRequest{
		AgentID:   "agent_7",
		ToolID:    tool.ID,
		Arguments: map[string]any{},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != "ok" {
		t.Fatalf("unexpected result %+v", res)
	}
	got := env.transport.requests[0].URL.Path
	if got != "/agents/agent_7/transfer" {
		t.Fatalf("unexpected upstream path %q", got)
	}
}
