package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// EventWriter persists tool call audit events. Write must never block the
// caller; the call path records its outcome and moves on.
type EventWriter interface {
	Write(event *ToolCallEvent)
	Close()
}

// ToolCallEvent is one terminal call outcome. Arguments are stored as a
// hash only, so secret-bearing values never reach the audit store.
type ToolCallEvent struct {
	RequestID string
	AgentID   string
	ToolID    string
	ToolName  string
	ServerID  string
	Decision  string // allowed, denied, requires_approval
	Outcome   string // ok, denied, error
	ErrorKind string
	ArgsHash  string
	Cached    bool
	Retried   uint32
	LatencyMs float32
	Timestamp time.Time
}

// HashArgs returns a stable SHA256 hex digest of call arguments. Keys are
// sorted so the same arguments always hash the same.
func HashArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		raw, err := json.Marshal(args[k])
		if err != nil {
			raw = []byte("?")
		}
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write(raw)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
