// Package secrets holds opaque credential records referenced by id.
// Values are write-only from the caller's perspective: every read path
// exposes metadata only, and ciphertext is all that ever leaves the
// process. Isolating the one piece of state that must never leak is the
// package's entire job.
package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/arcline-ai/toolgate/internal/fault"
)

// Scope controls secret visibility.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeAgent  Scope = "agent"
)

// Secret is the metadata view of a credential. There is deliberately no
// value field: plaintext never appears on this type or its JSON form.
type Secret struct {
	ID          string    `json:"secret_id"`
	Name        string    `json:"name"`
	Scope       Scope     `json:"scope"`
	AgentID     string    `json:"agent_id,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Sealed is a persisted secret record: metadata plus ciphertext.
type Sealed struct {
	Meta       Secret
	Nonce      []byte
	Ciphertext []byte
}

type record struct {
	meta       Secret
	nonce      []byte
	ciphertext []byte
}

// Store keeps secrets encrypted at rest with ChaCha20-Poly1305.
// All operations are safe for concurrent use; a value update is applied
// atomically with respect to concurrent metadata reads.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]*record
	aead   cipher.AEAD
	inUse  func(secretID string) []string
	logger *zap.Logger
}

// NewRandomKey generates a fresh 32-byte encryption key.
func NewRandomKey() []byte {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		panic("secrets: rand.Read failed: " + err.Error())
	}
	return key
}

// NewStore creates a Store sealing values with the given 32-byte key.
func NewStore(key []byte, logger *zap.Logger) (*Store, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, err, "invalid secrets key")
	}
	return &Store{
		byID:   make(map[string]*record),
		aead:   aead,
		logger: logger,
	}, nil
}

// SetInUseLookup installs the callback that reports which tools reference
// a secret. Delete refuses while the returned set is non-empty.
func (s *Store) SetInUseLookup(fn func(secretID string) []string) {
	s.mu.Lock()
	s.inUse = fn
	s.mu.Unlock()
}

func (s *Store) seal(value string) (nonce, ciphertext []byte) {
	nonce = make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		panic("secrets: rand.Read failed: " + err.Error())
	}
	return nonce, s.aead.Seal(nil, nonce, []byte(value), nil)
}

// Create stores a new secret. Name must be unique within its scope
// (per-agent for agent-scoped secrets).
func (s *Store) Create(name, value string, scope Scope, agentID, description string) (*Secret, error) {
	if name == "" {
		return nil, fault.Validationf("secret name is required")
	}
	if value == "" {
		return nil, fault.Validationf("secret value is required")
	}
	switch scope {
	case ScopeGlobal:
		agentID = ""
	case ScopeAgent:
		if agentID == "" {
			return nil, fault.Validationf("agent-scoped secret requires agent_id")
		}
	default:
		return nil, fault.Validationf("unknown secret scope %q", scope)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.byID {
		if r.meta.Name == name && r.meta.Scope == scope && r.meta.AgentID == agentID {
			return nil, fault.Duplicatef("secret %q already exists in scope %s", name, scope)
		}
	}

	now := time.Now().UTC()
	nonce, ct := s.seal(value)
	rec := &record{
		meta: Secret{
			ID:          "secret_" + uuid.NewString(),
			Name:        name,
			Scope:       scope,
			AgentID:     agentID,
			Description: description,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		nonce:      nonce,
		ciphertext: ct,
	}
	s.byID[rec.meta.ID] = rec

	s.logger.Info("secret created",
		zap.String("secret_id", rec.meta.ID),
		zap.String("name", name),
		zap.String("scope", string(scope)),
	)
	meta := rec.meta
	return &meta, nil
}

// Update replaces the value and/or description. Nil fields are unchanged.
// The value swap is atomic: readers see either the old or the new sealed
// record, never a torn mix.
func (s *Store) Update(id string, value, description *string) (*Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, fault.NotFoundf("secret %s not found", id)
	}

	next := *rec
	if value != nil {
		if *value == "" {
			return nil, fault.Validationf("secret value cannot be empty")
		}
		next.nonce, next.ciphertext = s.seal(*value)
	}
	if description != nil {
		next.meta.Description = *description
	}
	next.meta.UpdatedAt = time.Now().UTC()
	s.byID[id] = &next

	s.logger.Info("secret updated",
		zap.String("secret_id", id),
		zap.Bool("value_rotated", value != nil),
	)
	meta := next.meta
	return &meta, nil
}

// Metadata returns the metadata view of a secret. Never the value.
func (s *Store) Metadata(id string) (*Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, fault.NotFoundf("secret %s not found", id)
	}
	meta := rec.meta
	return &meta, nil
}

// List returns metadata for all secrets, optionally filtered by agent.
// Agent filtering includes global secrets, matching how agents resolve
// credentials at call time.
func (s *Store) List(agentID string) []*Secret {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Secret, 0, len(s.byID))
	for _, rec := range s.byID {
		if agentID != "" && rec.meta.Scope == ScopeAgent && rec.meta.AgentID != agentID {
			continue
		}
		meta := rec.meta
		out = append(out, &meta)
	}
	return out
}

// Delete removes a secret. Fails with an in_use fault naming the
// referencing tools while any tool still points at it.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return fault.NotFoundf("secret %s not found", id)
	}
	if s.inUse != nil {
		if refs := s.inUse(id); len(refs) > 0 {
			return fault.InUse("secret is referenced by active tools", refs)
		}
	}
	delete(s.byID, id)
	s.logger.Info("secret deleted", zap.String("secret_id", id))
	return nil
}

// Open decrypts and returns the plaintext value. Reserved for the API
// client's credential injection; the value must never be logged, cached,
// or echoed into any response.
func (s *Store) Open(id string) (string, error) {
	s.mu.RLock()
	rec, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return "", fault.NotFoundf("secret %s not found", id)
	}
	plain, err := s.aead.Open(nil, rec.nonce, rec.ciphertext, nil)
	if err != nil {
		return "", fault.Wrap(fault.KindAuth, err, "secret decryption failed")
	}
	return string(plain), nil
}

// Export returns the sealed form of a secret for persistence.
func (s *Store) Export(id string) (*Sealed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, fault.NotFoundf("secret %s not found", id)
	}
	return &Sealed{
		Meta:       rec.meta,
		Nonce:      append([]byte(nil), rec.nonce...),
		Ciphertext: append([]byte(nil), rec.ciphertext...),
	}, nil
}

// Adopt loads a previously exported sealed record, replacing any existing
// record with the same id. Used at boot when restoring from the store.
func (s *Store) Adopt(sealed *Sealed) {
	s.mu.Lock()
	s.byID[sealed.Meta.ID] = &record{
		meta:       sealed.Meta,
		nonce:      append([]byte(nil), sealed.Nonce...),
		ciphertext: append([]byte(nil), sealed.Ciphertext...),
	}
	s.mu.Unlock()
}
