package store

import (
	"context"
	"fmt"
)

// AgentToolEdge is one agent-to-tool dependency row.
type AgentToolEdge struct {
	AgentID string
	ToolID  string
}

// AttachAgentTool records that an agent references a tool. Idempotent;
// re-attaching an existing edge is a no-op.
func (s *Store) AttachAgentTool(ctx context.Context, agentID, toolID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_tools (agent_id, tool_id)
		VALUES ($1, $2)
		ON CONFLICT (agent_id, tool_id) DO NOTHING`,
		agentID, toolID,
	)
	if err != nil {
		return fmt.Errorf("AttachAgentTool: %w", err)
	}
	return nil
}

// DetachAgentTool removes an agent-to-tool edge.
func (s *Store) DetachAgentTool(ctx context.Context, agentID, toolID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM agent_tools WHERE agent_id = $1 AND tool_id = $2`,
		agentID, toolID,
	)
	if err != nil {
		return fmt.Errorf("DetachAgentTool: %w", err)
	}
	return nil
}

// DeleteToolEdges removes every edge pointing at a tool.
func (s *Store) DeleteToolEdges(ctx context.Context, toolID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM agent_tools WHERE tool_id = $1`, toolID); err != nil {
		return fmt.Errorf("DeleteToolEdges: %w", err)
	}
	return nil
}

// LoadAgentTools returns all agent-to-tool edges.
func (s *Store) LoadAgentTools(ctx context.Context) ([]AgentToolEdge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agent_id, tool_id FROM agent_tools`)
	if err != nil {
		return nil, fmt.Errorf("LoadAgentTools: %w", err)
	}
	defer rows.Close()

	var edges []AgentToolEdge
	for rows.Next() {
		var e AgentToolEdge
		if err := rows.Scan(&e.AgentID, &e.ToolID); err != nil {
			return nil, fmt.Errorf("LoadAgentTools: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
