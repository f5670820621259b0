// Package auth authenticates owner API requests with bcrypt-hashed tokens.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrEmptyToken = errors.New("token must not be empty")

type ctxKey string

const ctxKeyOwner ctxKey = "owner_id"

// Token maps a bcrypt hash to the owner it authenticates
type Token struct {
	OwnerID string
	Hash    string
}

// Authenticator resolves raw API tokens to owner IDs
type Authenticator struct {
	tokens []Token
	logger *slog.Logger
}

// New creates an authenticator over the configured token hashes
func New(tokens []Token, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		tokens: tokens,
		logger: logger.With("component", "auth"),
	}
}

// HashToken returns the bcrypt hash to store in api.tokens
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Authenticate returns the owner for token, or false if no hash matches.
func (a *Authenticator) Authenticate(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	for _, t := range a.tokens {
		if bcrypt.CompareHashAndPassword([]byte(t.Hash), []byte(token)) == nil {
			return t.OwnerID, true
		}
	}
	return "", false
}

// Middleware rejects requests without a valid token and stores the owner ID
// in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if token == "" {
			token = r.Header.Get("X-API-Key")
		}
		token = strings.TrimPrefix(token, "Bearer ")

		if token == "" {
			sendUnauthorized(w, "API token required")
			return
		}

		ownerID, ok := a.Authenticate(token)
		if !ok {
			a.logger.Warn("unauthorized API request",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			sendUnauthorized(w, "Invalid API token")
			return
		}

		ctx := WithOwner(r.Context(), ownerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithOwner returns a copy of ctx carrying ownerID
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ctxKeyOwner, ownerID)
}

// OwnerFromContext returns the authenticated owner ID, or "" if none
func OwnerFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyOwner).(string); ok {
		return id
	}
	return ""
}

func sendUnauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
