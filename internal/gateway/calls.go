package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arcline-ai/toolgate/internal/apiclient"
	"github.com/arcline-ai/toolgate/internal/approval"
	"github.com/arcline-ai/toolgate/internal/fault"
	"github.com/arcline-ai/toolgate/internal/registry"
	"github.com/arcline-ai/toolgate/internal/storage"
)

// CallRequest is one tool invocation attempt by an agent. Approved
// carries proof that a human confirmed a call the policy flagged.
type CallRequest struct {
	RequestID string         `json:"request_id,omitempty"`
	AgentID   string         `json:"agent_id"`
	ToolID    string         `json:"tool_id"`
	Arguments map[string]any `json:"arguments"`
	Approved  bool           `json:"approved,omitempty"`
}

// Authorization is the dry-run verdict for a call. No side effects
// have occurred when it is returned.
type Authorization struct {
	Allowed       bool           `json:"allowed"`
	Reason        string         `json:"reason,omitempty"`
	ValidatedArgs map[string]any `json:"validated_args,omitempty"`
}

// CallResult is the terminal outcome of an executed call.
type CallResult struct {
	RequestID   string          `json:"request_id"`
	Status      string          `json:"status"` // ok, denied, error
	Payload     json.RawMessage `json:"payload,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
	Cached      bool            `json:"cached,omitempty"`
	Retried     int             `json:"retried,omitempty"`
}

// Authorize validates arguments and renders the approval verdict without
// executing anything. Verdicts are computed fresh; nothing is cached
// between calls.
func (g *Gateway) Authorize(ctx context.Context, req *CallRequest) (*Authorization, error) {
	_, _, _, authz, args, err := g.preflight(req)
	if err != nil {
		return nil, err
	}
	authz.ValidatedArgs = args
	return authz, nil
}

func (g *Gateway) preflight(req *CallRequest) (*registry.Tool, *registry.Server, *approval.Rule, *Authorization, map[string]any, error) {
	if req.AgentID == "" {
		return nil, nil, nil, nil, nil, fault.Validationf("agent_id is required")
	}
	tool, server, rule, err := g.registry.RuleFor(req.ToolID)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	args, err := g.registry.ValidateCall(req.ToolID, req.Arguments)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}

	policy := g.engine.ServerlessPolicy()
	if server != nil {
		policy = server.ApprovalPolicy
	}
	decision := g.engine.Resolve(policy, rule, tool.Name, args)
	authz := &Authorization{Allowed: decision.Allowed, Reason: decision.Reason}
	return tool, server, rule, authz, args, nil
}

// Execute runs the full call path: validate, resolve approval, invoke
// upstream, audit. A policy hold with no approval proof terminates as a
// denied result, never as a silent pass-through.
func (g *Gateway) Execute(ctx context.Context, req *CallRequest) (*CallResult, error) {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = "req_" + uuid.NewString()
	}

	tool, server, _, authz, args, err := g.preflight(req)
	if err != nil {
		g.audit(req, tool, "", "error", err, nil, start)
		return nil, err
	}

	decision := "allowed"
	if !authz.Allowed {
		if !req.Approved {
			g.audit(req, tool, "denied", "denied", nil, nil, start)
			return &CallResult{
				RequestID:   req.RequestID,
				Status:      "denied",
				ErrorDetail: authz.Reason,
			}, nil
		}
		decision = "approved"
	}

	upstream, err := g.buildRequest(req, tool, server, args)
	if err != nil {
		g.audit(req, tool, decision, "error", err, nil, start)
		return nil, err
	}

	res, err := g.client.Execute(ctx, upstream)
	if err != nil {
		g.audit(req, tool, decision, "error", err, res, start)
		return &CallResult{
			RequestID:   req.RequestID,
			Status:      "error",
			ErrorDetail: err.Error(),
		}, nil
	}

	g.audit(req, tool, decision, "ok", nil, res, start)
	return &CallResult{
		RequestID: req.RequestID,
		Status:    "ok",
		Payload:   res.Body,
		Cached:    res.Cached,
		Retried:   res.Retried,
	}, nil
}

// buildRequest maps a tool kind onto the upstream wire call. Only
// idempotent calls carry a cache key; transfers are never retried.
func (g *Gateway) buildRequest(req *CallRequest, tool *registry.Tool, server *registry.Server, args map[string]any) (*apiclient.Request, error) {
	out := &apiclient.Request{
		Method: "POST",
		Body:   args,
	}

	switch tool.Kind {
	case registry.KindWebhook:
		out.Path = "/tools/" + tool.ID + "/invoke"
		out.Idempotent = tool.Idempotent
	case registry.KindMCPServerTool:
		out.Path = "/mcp-servers/" + tool.ServerID + "/tools/" + tool.Name + "/invoke"
		out.Idempotent = tool.Idempotent
	case registry.KindTransfer:
		out.Path = "/agents/" + req.AgentID + "/transfer"
		out.Body = map[string]any{"tool_id": tool.ID, "arguments": args}
	default:
		return nil, fault.Newf(fault.KindValidation, "tool %s has unknown kind %q", tool.ID, tool.Kind)
	}

	if out.Idempotent {
		out.CacheKey = "call:" + tool.ID + ":" + storage.HashArgs(args)
	}

	secretID := tool.SecretID
	if secretID == "" && server != nil {
		secretID = server.SecretID
	}
	if secretID != "" {
		id := secretID
		out.Credential = func(context.Context) (string, string, error) {
			value, err := g.secrets.Open(id)
			if err != nil {
				return "", "", err
			}
			return "Authorization", "Bearer " + value, nil
		}
	}
	return out, nil
}

func (g *Gateway) audit(req *CallRequest, tool *registry.Tool, decision, outcome string, callErr error, res *apiclient.Result, start time.Time) {
	event := &storage.ToolCallEvent{
		RequestID: req.RequestID,
		AgentID:   req.AgentID,
		ToolID:    req.ToolID,
		Decision:  decision,
		Outcome:   outcome,
		ArgsHash:  storage.HashArgs(req.Arguments),
		LatencyMs: float32(time.Since(start).Microseconds()) / 1000.0,
		Timestamp: time.Now().UTC(),
	}
	if tool != nil {
		event.ToolName = tool.Name
		event.ServerID = tool.ServerID
	}
	if callErr != nil {
		event.ErrorKind = fault.KindOf(callErr).String()
	}
	if res != nil {
		event.Cached = res.Cached
		event.Retried = uint32(res.Retried)
	}
	g.events.Write(event)

	g.logger.Debug("tool call",
		zap.String("request_id", req.RequestID),
		zap.String("agent_id", req.AgentID),
		zap.String("tool_id", req.ToolID),
		zap.String("decision", decision),
		zap.String("outcome", outcome),
	)
}
