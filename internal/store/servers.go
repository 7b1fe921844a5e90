package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arcline-ai/toolgate/internal/approval"
	"github.com/arcline-ai/toolgate/internal/registry"
)

// SaveServer upserts a server row. Approval rules travel as one JSONB
// document; rule churn is low enough that rewriting the set is fine.
func (s *Store) SaveServer(ctx context.Context, srv *registry.Server) error {
	rules, err := json.Marshal(srv.Rules)
	if err != nil {
		return fmt.Errorf("SaveServer: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mcp_servers (id, name, url, transport, secret_id,
		                         approval_policy, rules, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name            = EXCLUDED.name,
			url             = EXCLUDED.url,
			transport       = EXCLUDED.transport,
			secret_id       = EXCLUDED.secret_id,
			approval_policy = EXCLUDED.approval_policy,
			rules           = EXCLUDED.rules,
			updated_at      = EXCLUDED.updated_at`,
		srv.ID, srv.Name, srv.URL, string(srv.Transport), nullIfEmpty(srv.SecretID),
		string(srv.ApprovalPolicy), rules, srv.CreatedAt, srv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("SaveServer: %w", err)
	}
	return nil
}

// DeleteServer removes a server row.
func (s *Store) DeleteServer(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mcp_servers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("DeleteServer: %w", err)
	}
	return nil
}

// LoadServers returns all persisted servers.
func (s *Store) LoadServers(ctx context.Context) ([]*registry.Server, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, url, transport, COALESCE(secret_id, ''),
		       approval_policy, COALESCE(rules, '{}'::jsonb),
		       created_at, updated_at
		FROM mcp_servers ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("LoadServers: %w", err)
	}
	defer rows.Close()

	var servers []*registry.Server
	for rows.Next() {
		var (
			srv       registry.Server
			transport string
			policy    string
			rules     []byte
		)
		if err := rows.Scan(&srv.ID, &srv.Name, &srv.URL, &transport, &srv.SecretID,
			&policy, &rules, &srv.CreatedAt, &srv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("LoadServers: %w", err)
		}
		srv.Transport = registry.Transport(transport)
		srv.ApprovalPolicy = approval.Policy(policy)
		srv.Rules = make(map[string]*approval.Rule)
		if err := json.Unmarshal(rules, &srv.Rules); err != nil {
			return nil, fmt.Errorf("LoadServers: server %s: %w", srv.ID, err)
		}
		servers = append(servers, &srv)
	}
	return servers, rows.Err()
}
