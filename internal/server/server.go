// Package server exposes the chat gate over HTTP for the console widget.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joeyhaverhals/jhpc-new/internal/authclient"
	"github.com/joeyhaverhals/jhpc-new/internal/policystore"
	"github.com/joeyhaverhals/jhpc-new/internal/ratelimit"
	"github.com/joeyhaverhals/jhpc-new/internal/session"
	"github.com/joeyhaverhals/jhpc-new/internal/usertoken"
	"github.com/joeyhaverhals/jhpc-new/internal/util"
	"github.com/joeyhaverhals/jhpc-new/pkg/domain"
	"github.com/joeyhaverhals/jhpc-new/pkg/gate"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Sessions      *session.Manager
	Policies      policystore.Store
	Auth          *authclient.Client
	TokenVerifier *usertoken.Verifier
	// Limiter is optional; nil disables submit rate limiting.
	Limiter        *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the chat gate service.
type Server struct {
	sessions      *session.Manager
	policies      policystore.Store
	auth          *authclient.Client
	tokenVerifier *usertoken.Verifier
	limiter       *ratelimit.FixedWindowLimiter
	trusted       *util.TrustedProxies
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		sessions:      cfg.Sessions,
		policies:      cfg.Policies,
		auth:          cfg.Auth,
		tokenVerifier: cfg.TokenVerifier,
		limiter:       cfg.Limiter,
		trusted:       cfg.TrustedProxies,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog(s.trusted,
			util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /api/chat/access", s.withUser(s.handleAccess))
	s.mux.Handle("POST /api/chat/sessions", s.withUser(s.handleCreateSession))
	s.mux.Handle("GET /api/chat/sessions/{id}/messages", s.withUser(s.handleListMessages))
	s.mux.Handle("POST /api/chat/sessions/{id}/messages", s.withUser(s.handleSubmitMessage))
	s.mux.Handle("DELETE /api/chat/sessions/{id}", s.withUser(s.handleDeleteSession))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			writeError(w, http.StatusInternalServerError, "auth client not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if s.tokenVerifier != nil {
			if _, err := s.tokenVerifier.VerifySubject(token); err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		user, err := s.auth.Me(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

// currentPolicy loads a fresh policy snapshot. A store failure degrades to
// "no policy" (the gate denies as unavailable) instead of failing the
// request.
func (s *Server) currentPolicy(r *http.Request) *domain.AccessPolicy {
	policy, ok, err := s.policies.GetPolicy()
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("load access policy", "err", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &policy
}

// handleAccess reports the gate decision for the caller. The console polls
// this on render; the decision is recomputed every time, never cached.
func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request, user domain.User) {
	decision := gate.Evaluate(s.currentPolicy(r), &user, time.Now())
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request, user domain.User) {
	decision := gate.Evaluate(s.currentPolicy(r), &user, time.Now())
	if !decision.Allowed {
		writeJSON(w, http.StatusForbidden, decision)
		return
	}
	sess := s.sessions.Create(user.ID)
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": sess.ID})
}

func (s *Server) ownedSession(w http.ResponseWriter, r *http.Request, user domain.User) (*session.Session, bool) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	if sess.UserID != user.ID {
		writeError(w, http.StatusForbidden, "session forbidden")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, user domain.User) {
	sess, ok := s.ownedSession(w, r, user)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": sess.Messages()})
}

type submitRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request, user domain.User) {
	sess, ok := s.ownedSession(w, r, user)
	if !ok {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if s.limiter != nil && !s.limiter.Allow(user.ID) {
		writeError(w, http.StatusTooManyRequests, "too many messages, slow down")
		return
	}

	policy := s.currentPolicy(r)
	appended, err := sess.Submit(r.Context(), req.Message, policy, &user)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrEmptyMessage):
			writeError(w, http.StatusUnprocessableEntity, "message is required")
		case errors.Is(err, session.ErrBusy):
			writeError(w, http.StatusConflict, "a message is already being processed")
		case errors.Is(err, session.ErrNotAllowed):
			writeJSON(w, http.StatusForbidden, gate.Evaluate(policy, &user, time.Now()))
		default:
			slog.Error("submit message", "session_id", sess.ID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": appended})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, user domain.User) {
	if _, ok := s.ownedSession(w, r, user); !ok {
		return
	}
	s.sessions.Delete(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
