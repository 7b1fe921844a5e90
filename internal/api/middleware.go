package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/arcline-ai/toolgate/internal/fault"
)

// verifiedCache remembers keys that already passed the bcrypt check so a
// busy admin client does not pay the hash cost on every request.
type verifiedCache struct {
	store sync.Map // map[string]time.Time (expiry, keyed by full key)
	ttl   time.Duration
}

func newVerifiedCache(ttl time.Duration) *verifiedCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &verifiedCache{ttl: ttl}
}

func (c *verifiedCache) hit(key string) bool {
	v, ok := c.store.Load(key)
	if !ok {
		return false
	}
	if time.Now().After(v.(time.Time)) {
		c.store.Delete(key)
		return false
	}
	return true
}

func (c *verifiedCache) set(key string) {
	c.store.Store(key, time.Now().Add(c.ttl))
}

// authMiddleware validates Bearer tgk_ admin keys. With no configured
// key hash the surface runs open; the server logs a warning at boot.
func (d *Dependencies) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	cache := newVerifiedCache(d.AuthCacheTTL)

	return func(w http.ResponseWriter, r *http.Request) {
		if d.AdminKeyHash == "" {
			next(w, r)
			return
		}

		token, ok := extractBearerToken(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Missing or invalid Authorization header"})
			return
		}
		if len(token) < 8 || !strings.HasPrefix(token, "tgk_") {
			writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Invalid API key format"})
			return
		}

		if !cache.hit(token) {
			if err := bcrypt.CompareHashAndPassword([]byte(d.AdminKeyHash), []byte(token)); err != nil {
				d.Logger.Warn("auth failed", zap.String("remote", r.RemoteAddr))
				writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Invalid API key"})
				return
			}
			cache.set(token)
		}
		next(w, r)
	}
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}

// --- JSON helpers ---

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// readJSON decodes a JSON request body into the given pointer.
func readJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}

// writeFault maps an error's kind onto an HTTP status. Blocking
// dependents ride along on conflict responses so the client can see
// what holds the delete.
func writeFault(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch fault.KindOf(err) {
	case fault.KindValidation:
		status = http.StatusBadRequest
	case fault.KindAuth:
		status = http.StatusUnauthorized
	case fault.KindDenied:
		status = http.StatusForbidden
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindDuplicate, fault.KindInUse:
		status = http.StatusConflict
	case fault.KindRateLimited:
		status = http.StatusTooManyRequests
	case fault.KindUpstream:
		status = http.StatusBadGateway
	case fault.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, ErrorResp{
		Detail:     err.Error(),
		Kind:       fault.KindOf(err).String(),
		Dependents: fault.DependentsOf(err),
	})
}

// --- Request logging ---

func requestLogging(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// --- CORS ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
