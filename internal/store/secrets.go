package store

import (
	"context"
	"fmt"

	"github.com/arcline-ai/toolgate/internal/secrets"
)

// SaveSecret upserts a sealed secret. Only ciphertext and nonce ever
// reach the database; the encryption key lives in process memory.
func (s *Store) SaveSecret(ctx context.Context, sealed *secrets.Sealed) error {
	m := sealed.Meta
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secrets (id, name, scope, agent_id, description,
		                     nonce, ciphertext, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name        = EXCLUDED.name,
			description = EXCLUDED.description,
			nonce       = EXCLUDED.nonce,
			ciphertext  = EXCLUDED.ciphertext,
			updated_at  = EXCLUDED.updated_at`,
		m.ID, m.Name, string(m.Scope), nullIfEmpty(m.AgentID), m.Description,
		sealed.Nonce, sealed.Ciphertext, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("SaveSecret: %w", err)
	}
	return nil
}

// DeleteSecret removes a secret row.
func (s *Store) DeleteSecret(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE id = $1`, id); err != nil {
		return fmt.Errorf("DeleteSecret: %w", err)
	}
	return nil
}

// LoadSecrets returns all persisted sealed secrets.
func (s *Store) LoadSecrets(ctx context.Context) ([]*secrets.Sealed, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, scope, COALESCE(agent_id, ''), description,
		       nonce, ciphertext, created_at, updated_at
		FROM secrets ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("LoadSecrets: %w", err)
	}
	defer rows.Close()

	var sealedSecrets []*secrets.Sealed
	for rows.Next() {
		var (
			sealed secrets.Sealed
			scope  string
		)
		if err := rows.Scan(&sealed.Meta.ID, &sealed.Meta.Name, &scope,
			&sealed.Meta.AgentID, &sealed.Meta.Description,
			&sealed.Nonce, &sealed.Ciphertext,
			&sealed.Meta.CreatedAt, &sealed.Meta.UpdatedAt); err != nil {
			return nil, fmt.Errorf("LoadSecrets: %w", err)
		}
		sealed.Meta.Scope = secrets.Scope(scope)
		sealedSecrets = append(sealedSecrets, &sealed)
	}
	return sealedSecrets, rows.Err()
}
