package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shruti8766/hype-hammer-sub001/internal/auction"
	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
	"github.com/shruti8766/hype-hammer-sub001/internal/store"
)

// TokenStore manages console tokens with database persistence
type TokenStore struct {
	store  *store.Store
	ttl    time.Duration
	mu     sync.RWMutex
	cache  map[string]*store.ConsoleToken // In-memory cache for performance
	stopCh chan struct{}
	once   sync.Once
}

func NewTokenStore(s *store.Store, ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	ts := &TokenStore{
		store:  s,
		ttl:    ttl,
		cache:  make(map[string]*store.ConsoleToken),
		stopCh: make(chan struct{}),
	}
	go ts.cleanupLoop()
	return ts
}

// cleanupLoop periodically removes expired tokens
func (ts *TokenStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ts.cleanup()
		case <-ts.stopCh:
			return
		}
	}
}

func (ts *TokenStore) cleanup() {
	ts.mu.Lock()
	now := time.Now()
	for token, t := range ts.cache {
		if now.After(t.ExpiresAt) {
			delete(ts.cache, token)
		}
	}
	ts.mu.Unlock()

	if n, err := ts.store.CleanupExpiredTokens(now); err != nil {
		log.Warn().Err(err).Msg("failed to clean up console tokens")
	} else if n > 0 {
		log.Debug().Int64("removed", n).Msg("expired console tokens removed")
	}
}

// Stop halts the cleanup goroutine
func (ts *TokenStore) Stop() {
	ts.once.Do(func() { close(ts.stopCh) })
}

// Issue creates a token for an authenticated operator.
func (ts *TokenStore) Issue(op *store.Operator) (*store.ConsoleToken, error) {
	t := &store.ConsoleToken{
		Token:      generateToken(),
		OperatorID: op.ID,
		Name:       op.Name,
		Role:       op.Role,
		ExpiresAt:  time.Now().Add(ts.ttl),
		CreatedAt:  time.Now(),
	}
	if err := ts.store.CreateToken(t.Token, op.ID, t.ExpiresAt); err != nil {
		return nil, err
	}

	ts.mu.Lock()
	ts.cache[t.Token] = t
	ts.mu.Unlock()
	return t, nil
}

// Get returns a live token or nil.
func (ts *TokenStore) Get(token string) *store.ConsoleToken {
	now := time.Now()
	ts.mu.RLock()
	if t, ok := ts.cache[token]; ok && now.Before(t.ExpiresAt) {
		ts.mu.RUnlock()
		return t
	}
	ts.mu.RUnlock()

	t, err := ts.store.GetToken(token, now)
	if err != nil {
		return nil
	}
	ts.mu.Lock()
	ts.cache[token] = t
	ts.mu.Unlock()
	return t
}

func (ts *TokenStore) Revoke(token string) {
	ts.mu.Lock()
	delete(ts.cache, token)
	ts.mu.Unlock()
	if err := ts.store.DeleteToken(token); err != nil {
		log.Warn().Err(err).Msg("failed to delete console token")
	}
}

func generateToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

var (
	errNoIdentity = errors.New("participant_id and role are required")
	errNoToken    = errors.New("a console token is required for this role")
	errBadToken   = errors.New("console token is invalid or expired")
)

// bearer extracts a console token from the Authorization header or, for
// browsers opening a websocket, the token query parameter.
func bearer(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// identify resolves who is making a request. Identity comes from the caller
// (query parameters or X-Participant-* headers); privileged roles are checked
// against a console token when the server requires one.
func (s *Server) identify(r *http.Request) (auction.Participant, int, error) {
	q := r.URL.Query()
	pick := func(param, header string) string {
		if v := q.Get(param); v != "" {
			return v
		}
		return r.Header.Get(header)
	}

	var tok *store.ConsoleToken
	if raw := bearer(r); raw != "" && s.tokens != nil {
		if tok = s.tokens.Get(raw); tok == nil {
			return auction.Participant{}, http.StatusUnauthorized, errBadToken
		}
	}

	roleStr := pick("role", "X-Participant-Role")
	if roleStr == "" && tok != nil {
		roleStr = tok.Role
	}
	if roleStr == "" {
		return auction.Participant{}, http.StatusBadRequest, errNoIdentity
	}
	role, err := protocol.ParseRole(roleStr)
	if err != nil {
		return auction.Participant{}, http.StatusBadRequest, err
	}

	id := pick("participant_id", "X-Participant-ID")
	if id == "" && tok != nil {
		id = tok.Name
	}
	if id == "" {
		return auction.Participant{}, http.StatusBadRequest, errNoIdentity
	}

	if role.Privileged() && s.authRequired {
		if tok == nil {
			return auction.Participant{}, http.StatusUnauthorized, errNoToken
		}
		if !tokenGrants(protocol.Role(tok.Role), role) {
			return auction.Participant{}, http.StatusForbidden,
				&protocol.AuthorizationError{Role: role, Reason: "console token is for " + tok.Role}
		}
		id = tok.Name
	}

	return auction.Participant{ID: id, Role: role, TeamID: pick("team_id", "X-Team-ID")}, 0, nil
}

// tokenGrants reports whether a token issued for held may act as want. An
// admin token may also drive the auction as an auctioneer.
func tokenGrants(held, want protocol.Role) bool {
	return held == want || (held == protocol.RoleAdmin && want == protocol.RoleAuctioneer)
}

type LoginRequest struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

type OperatorRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
	Key  string `json:"key"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	op, err := s.store.AuthenticateOperator(req.Name, req.Key)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidKey) {
		http.Error(w, "invalid name or key", http.StatusUnauthorized)
		return
	}
	if err != nil {
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	tok, err := s.tokens.Issue(op)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	log.Info().Str("operator", op.Name).Str("role", op.Role).Msg("console login")

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     tok.Token,
		Name:      op.Name,
		Role:      op.Role,
		ExpiresAt: tok.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if raw := bearer(r); raw != "" {
		s.tokens.Revoke(raw)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateOperator(w http.ResponseWriter, r *http.Request) {
	tok := s.tokens.Get(bearer(r))
	if tok == nil || protocol.Role(tok.Role) != protocol.RoleAdmin {
		http.Error(w, "admin token required", http.StatusForbidden)
		return
	}

	var req OperatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	role, err := protocol.ParseRole(req.Role)
	if err != nil || !role.Privileged() {
		http.Error(w, "role must be ADMIN or AUCTIONEER", http.StatusBadRequest)
		return
	}
	if len(req.Name) < 3 || len(req.Name) > 32 {
		http.Error(w, "name must be 3-32 characters", http.StatusBadRequest)
		return
	}
	if len(req.Key) < 8 {
		http.Error(w, "key must be at least 8 characters", http.StatusBadRequest)
		return
	}

	op, err := s.store.CreateOperator(req.Name, string(role), req.Key)
	if errors.Is(err, store.ErrOperatorExists) {
		http.Error(w, "operator name already taken", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "failed to create operator", http.StatusInternalServerError)
		return
	}
	log.Info().Str("operator", op.Name).Str("role", op.Role).Str("by", tok.Name).Msg("operator created")

	writeJSON(w, http.StatusCreated, map[string]string{"id": op.ID, "name": op.Name, "role": op.Role})
}
