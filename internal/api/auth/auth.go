// Package auth provides API key authentication for the proctoring API.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"proctor-engine/internal/logging"
)

// KeyVerifier authenticates requests against a set of bcrypt key hashes.
// Verified keys are cached by digest so the bcrypt cost is paid once per
// key, not per request.
type KeyVerifier struct {
	header string
	hashes [][]byte

	mu       sync.RWMutex
	verified map[[32]byte]bool

	logger *slog.Logger
}

// NewKeyVerifier creates a verifier for the given header name and bcrypt
// hashes.
func NewKeyVerifier(header string, hashes []string, logger *slog.Logger) *KeyVerifier {
	if header == "" {
		header = "X-API-Key"
	}
	if logger == nil {
		logger = slog.Default()
	}

	hs := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		hs = append(hs, []byte(h))
	}

	return &KeyVerifier{
		header:   header,
		hashes:   hs,
		verified: make(map[[32]byte]bool),
		logger:   logger,
	}
}

// Verify reports whether the presented key matches any configured hash.
func (v *KeyVerifier) Verify(key string) bool {
	if key == "" {
		return false
	}

	digest := sha256.Sum256([]byte(key))

	v.mu.RLock()
	ok, cached := v.verified[digest]
	v.mu.RUnlock()
	if cached {
		return ok
	}

	match := false
	for _, hash := range v.hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil {
			match = true
			break
		}
	}

	v.mu.Lock()
	v.verified[digest] = match
	v.mu.Unlock()

	return match
}

// Middleware rejects requests that do not carry a valid API key in the
// configured header or as a bearer token.
func (v *KeyVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(v.header)
		if key == "" {
			if bearer := r.Header.Get("Authorization"); strings.HasPrefix(bearer, "Bearer ") {
				key = strings.TrimPrefix(bearer, "Bearer ")
			}
		}

		if !v.Verify(key) {
			v.logger.Warn("rejected unauthenticated request",
				"path", r.URL.Path,
				"method", r.Method,
				"presented_key", logging.MaskKey(key),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"code":"UNAUTHORIZED","message":"valid API key required"}`)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GenerateKey creates a random API key and its bcrypt hash for storing in
// configuration.
func GenerateKey() (key string, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("auth: failed to generate key: %w", err)
	}

	key = "pk_" + base64.RawURLEncoding.EncodeToString(raw)

	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("auth: failed to hash key: %w", err)
	}

	return key, string(h), nil
}

// HashKey produces a bcrypt hash for an existing key.
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: failed to hash key: %w", err)
	}
	return string(h), nil
}
