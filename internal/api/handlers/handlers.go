// Package handlers provides the HTTP request handlers of the auth services
// API.
//
// Response envelopes are not uniform across the surface. The user endpoints
// answer with a capital "Message" field while the session and password
// reset completion endpoints answer with a lowercase "message" field, and
// deployed clients match on both. The split is kept deliberately; see the
// types package.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/axonops/axonops-auth-service/internal/api/types"
	"github.com/axonops/axonops-auth-service/internal/auth"
	"github.com/axonops/axonops-auth-service/internal/metrics"
	"github.com/axonops/axonops-auth-service/internal/schema"
	"github.com/axonops/axonops-auth-service/internal/storage"
)

// serverErrorMessage is the fixed body of every 500 response. The spelling
// is preserved as deployed; clients match on the exact string.
const serverErrorMessage = "There was an error fulfiling your request"

// MigrationRequests reads the live schema coordination rows for
// /admin/status. The Cassandra schema store satisfies it; memory
// deployments leave it nil.
type MigrationRequests interface {
	Requests(ctx context.Context) ([]schema.Request, error)
}

// Config holds handler configuration.
type Config struct {
	Version    string
	Commit     string
	BuildTime  string
	Storage    string
	Keyspace   string
	Cluster    string
	Migrations MigrationRequests
}

// Handler provides HTTP handlers for the auth services API.
type Handler struct {
	service *auth.Service
	store   storage.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	config  Config

	ready atomic.Bool
}

// New creates a new Handler.
func New(svc *auth.Service, store storage.Store, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: svc,
		store:   store,
		metrics: m,
		logger:  logger.With(slog.String("component", "api")),
		config:  cfg,
	}
}

// SetReady flips the readiness gate. Main calls it once bootstrap has
// finished.
func (h *Handler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// ---------- User Operations ----------

// CreateUser handles POST /users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req types.CreateUserRequest
	if err := decodeValid(r, createUserSchema, &req); err != nil {
		h.logger.Debug("rejected create user body", slog.String("error", err.Error()))
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	principal := auth.Principal(req.Username, req.Org)
	err := h.service.CreateUser(r.Context(), req.Org, req.Username, req.Email, req.ParentUser, req.Key)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrRegistrationClosed):
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf(
			"Cannot create user %q. Organization is closed for registrations or does not exist.", principal))
		return
	case errors.Is(err, auth.ErrUserExists):
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf(
			"Cannot create user %q, as it already exists.", principal))
		return
	case errors.Is(err, auth.ErrInvalidParent):
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("Invalid parent user %q.", req.ParentUser))
		return
	case errors.Is(err, auth.ErrParentKeyRequired):
		writeMessage(w, http.StatusUnauthorized, fmt.Sprintf("Parent user key required for %q.", req.ParentUser))
		return
	case errors.Is(err, auth.ErrParentKeyMismatch):
		writeMessage(w, http.StatusForbidden, fmt.Sprintf("Parent user key mismatch for %q.", req.ParentUser))
		return
	default:
		h.serverError(w, r, "create_user", err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordUserCreated()
	}
	writeMessage(w, http.StatusOK, fmt.Sprintf("User %q created.", principal))
}

// GetUser handles GET /users/{principal}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "principal")
	username, org, err := auth.SplitPrincipal(p)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("Invalid principal %q", p))
		return
	}

	user, err := h.service.GetUser(r.Context(), org, username)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("No user matched %q@%q", username, org))
		return
	case errors.Is(err, storage.ErrTooManyResults):
		writeJSON(w, http.StatusBadRequest, types.RequestErrorResponse{
			RequestError: http.StatusBadRequest,
			Message:      "Request returned too many results",
		})
		return
	default:
		h.serverError(w, r, "get_user", err)
		return
	}

	writeJSON(w, http.StatusOK, types.UserResponse{
		Username:   user.Username,
		Org:        user.Org,
		ParentUser: user.ParentUser,
		CreateDate: user.CreateDate,
	})
}

// RequestPasswordReset handles POST /users/{principal}/requestpasswordreset.
// The reset id reaches the user out of band and never appears in the
// response.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "principal")
	username, org, err := auth.SplitPrincipal(p)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("Invalid principal %q", p))
		return
	}

	if _, err := h.service.RequestPasswordReset(r.Context(), org, username); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeMessage(w, http.StatusBadRequest, fmt.Sprintf("No user matched %q@%q", username, org))
			return
		}
		h.serverError(w, r, "request_password_reset", err)
		return
	}

	writeMessage(w, http.StatusOK, fmt.Sprintf("Password reset for %q@%q", username, org))
}

// CompletePasswordReset handles POST /users/{principal}/completepasswordreset.
func (h *Handler) CompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "principal")
	username, org, err := auth.SplitPrincipal(p)
	if err != nil {
		writeStatusMessage(w, http.StatusBadRequest, fmt.Sprintf("Invalid principal %q", p))
		return
	}

	var req types.CompletePasswordResetRequest
	if err := decodeValid(r, completeResetSchema, &req); err != nil {
		h.logger.Debug("rejected password reset body", slog.String("error", err.Error()))
		writeStatusMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err = h.service.CompletePasswordReset(r.Context(), org, username, req.ResetID, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidReset):
		writeStatusMessage(w, http.StatusBadRequest, "Invalid or expired resetid")
		return
	case errors.Is(err, storage.ErrNotFound):
		writeStatusMessage(w, http.StatusBadRequest, fmt.Sprintf("No user matched %q@%q", username, org))
		return
	default:
		h.serverError(w, r, "complete_password_reset", err)
		return
	}

	writeStatusMessage(w, http.StatusOK, fmt.Sprintf("Password updated for %q@%q.", username, org))
}

// ---------- Session Operations ----------

// Login handles POST /sessions/{principal}.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "principal")
	username, org, err := auth.SplitPrincipal(p)
	if err != nil {
		writeStatusMessage(w, http.StatusBadRequest, fmt.Sprintf("Invalid principal %q", p))
		return
	}

	var req types.LoginRequest
	if err := decodeValid(r, loginSchema, &req); err != nil {
		h.logger.Debug("rejected login body", slog.String("error", err.Error()))
		writeStatusMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, key, err := h.service.Login(r.Context(), org, username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		h.recordLogin(false)
		writeStatusMessage(w, http.StatusNotFound, fmt.Sprintf(
			"Cannot open session for invalid user %q.", auth.Principal(username, org)))
		return
	case errors.Is(err, auth.ErrAuthFailed):
		// A wrong password answers 400, not 401. Kept as deployed.
		h.recordLogin(false)
		writeStatusMessage(w, http.StatusBadRequest, fmt.Sprintf(
			"Password authentication failed for %q.", auth.Principal(username, org)))
		return
	default:
		h.serverError(w, r, "login", err)
		return
	}

	h.recordLogin(true)
	writeJSON(w, http.StatusOK, types.LoginResponse{
		Message: "Session created",
		ID:      session.SessionID,
		Key:     key,
	})
}

// ListSessions handles GET /sessions/{principal}.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "principal")
	username, org, err := auth.SplitPrincipal(p)
	if err != nil {
		writeStatusMessage(w, http.StatusBadRequest, fmt.Sprintf("Invalid principal %q", p))
		return
	}

	sessions, err := h.service.Sessions(r.Context(), org, username, authKey(r))
	if err != nil {
		h.writeSessionError(w, r, "list_sessions", org, username, "", err)
		return
	}

	infos := make([]types.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, sessionInfo(s))
	}
	writeJSON(w, http.StatusOK, types.SessionsResponse{
		Message:  fmt.Sprintf("Sessions for %q", auth.Principal(username, org)),
		Sessions: infos,
	})
}

// GetSession handles GET /sessions/{principal}/{sessionid}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "principal")
	username, org, err := auth.SplitPrincipal(p)
	if err != nil {
		writeStatusMessage(w, http.StatusBadRequest, fmt.Sprintf("Invalid principal %q", p))
		return
	}
	sessionid := chi.URLParam(r, "sessionid")

	session, err := h.service.Session(r.Context(), org, username, sessionid, authKey(r))
	if err != nil {
		h.writeSessionError(w, r, "get_session", org, username, sessionid, err)
		return
	}

	writeJSON(w, http.StatusOK, types.SessionResponse{
		Message: fmt.Sprintf("Session %q", sessionid),
		Session: sessionInfo(session),
	})
}

// RevokeSession handles DELETE /sessions/{principal}/{sessionid}. Revoking
// removes the session and every key issued for it.
func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "principal")
	username, org, err := auth.SplitPrincipal(p)
	if err != nil {
		writeStatusMessage(w, http.StatusBadRequest, fmt.Sprintf("Invalid principal %q", p))
		return
	}
	sessionid := chi.URLParam(r, "sessionid")

	if err := h.service.RevokeSession(r.Context(), org, username, sessionid, authKey(r)); err != nil {
		h.writeSessionError(w, r, "revoke_session", org, username, sessionid, err)
		return
	}

	writeStatusMessage(w, http.StatusOK, fmt.Sprintf("Session %q revoked.", sessionid))
}

// writeSessionError maps the shared error set of the key-guarded session
// endpoints.
func (h *Handler) writeSessionError(w http.ResponseWriter, r *http.Request, op, org, username, sessionid string, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidSessionKey):
		writeStatusMessage(w, http.StatusUnauthorized, "Invalid or expired session key.")
	case errors.Is(err, auth.ErrNotSessionOwner):
		writeStatusMessage(w, http.StatusForbidden, fmt.Sprintf(
			"Session key does not match %q.", auth.Principal(username, org)))
	case errors.Is(err, storage.ErrNotFound):
		writeStatusMessage(w, http.StatusNotFound, fmt.Sprintf("No session matched %q", sessionid))
	default:
		h.serverError(w, r, op, err)
	}
}

// ---------- Health ----------

// HealthCheck handles GET /health. The process is healthy when the store
// answers a ping.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "DOWN",
			"reason": "store unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

// ReadinessCheck handles GET /ready. The service is ready once bootstrap
// has brought the schema current; auth traffic must not arrive before then.
func (h *Handler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "DOWN",
			"reason": "bootstrap incomplete",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

// ---------- Helpers ----------

// authKey extracts the session key from the X-Auth-Key header, falling back
// to the key query parameter.
func authKey(r *http.Request) string {
	if key := r.Header.Get("X-Auth-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("key")
}

func sessionInfo(s *storage.Session) types.SessionInfo {
	return types.SessionInfo{
		SessionID:  s.SessionID,
		StartDate:  s.StartDate,
		LastUpdate: s.LastUpdate,
	}
}

func (h *Handler) recordLogin(success bool) {
	if h.metrics != nil {
		h.metrics.RecordLogin(success)
	}
}

// serverError logs the cause, counts it against the operation and answers
// with the fixed 500 envelope.
func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("request failed",
		slog.String("op", op),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))
	if h.metrics != nil {
		h.metrics.RecordStoreError(op)
	}
	writeJSON(w, http.StatusInternalServerError, types.ServerErrorResponse{
		ServerError: http.StatusInternalServerError,
		Message:     serverErrorMessage,
	})
}

// writeMessage writes the capital-M envelope of the user endpoints.
func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.MessageResponse{Message: msg})
}

// writeStatusMessage writes the lowercase envelope of the session endpoints.
func writeStatusMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.StatusMessageResponse{Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
