package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/arcline-ai/toolgate/internal/registry"
	"github.com/arcline-ai/toolgate/internal/schema"
)

// SaveTool upserts a tool definition.
func (s *Store) SaveTool(ctx context.Context, t *registry.Tool) error {
	paramSchema, err := json.Marshal(t.Schema)
	if err != nil {
		return fmt.Errorf("SaveTool: %w", err)
	}
	var inputSchema any
	if t.RawSchema != nil {
		inputSchema = []byte(t.RawSchema)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tools (id, name, kind, description, param_schema, input_schema,
		                   secret_id, server_id, idempotent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name         = EXCLUDED.name,
			description  = EXCLUDED.description,
			param_schema = EXCLUDED.param_schema,
			input_schema = EXCLUDED.input_schema,
			secret_id    = EXCLUDED.secret_id,
			server_id    = EXCLUDED.server_id,
			idempotent   = EXCLUDED.idempotent,
			updated_at   = EXCLUDED.updated_at`,
		t.ID, t.Name, string(t.Kind), t.Description, paramSchema, inputSchema,
		nullIfEmpty(t.SecretID), nullIfEmpty(t.ServerID), t.Idempotent,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("SaveTool: %w", err)
	}
	return nil
}

// DeleteTool removes a tool row. Missing rows are not an error; the
// registry already decided the delete is legal.
func (s *Store) DeleteTool(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tools WHERE id = $1`, id); err != nil {
		return fmt.Errorf("DeleteTool: %w", err)
	}
	return nil
}

// DeleteServerTools removes every tool contributed by a server.
func (s *Store) DeleteServerTools(ctx context.Context, serverID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tools WHERE server_id = $1`, serverID); err != nil {
		return fmt.Errorf("DeleteServerTools: %w", err)
	}
	return nil
}

// LoadTools returns all persisted tools.
func (s *Store) LoadTools(ctx context.Context) ([]*registry.Tool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, description, param_schema,
		       COALESCE(input_schema, 'null'::jsonb),
		       COALESCE(secret_id, ''), COALESCE(server_id, ''),
		       idempotent, created_at, updated_at
		FROM tools ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("LoadTools: %w", err)
	}
	defer rows.Close()

	var tools []*registry.Tool
	for rows.Next() {
		var (
			t           registry.Tool
			kind        string
			paramSchema []byte
			inputSchema []byte
		)
		if err := rows.Scan(&t.ID, &t.Name, &kind, &t.Description, &paramSchema,
			&inputSchema, &t.SecretID, &t.ServerID, &t.Idempotent,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("LoadTools: %w", err)
		}
		t.Kind = registry.ToolKind(kind)
		var params schema.Schema
		if err := json.Unmarshal(paramSchema, &params); err != nil {
			return nil, fmt.Errorf("LoadTools: tool %s: %w", t.ID, err)
		}
		t.Schema = params
		if string(inputSchema) != "null" {
			t.RawSchema = json.RawMessage(inputSchema)
		}
		tools = append(tools, &t)
	}
	return tools, rows.Err()
}

// nullIfEmpty maps "" to SQL NULL so empty foreign keys do not trip
// referential checks.
func nullIfEmpty(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
