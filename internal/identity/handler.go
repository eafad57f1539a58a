package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/chatnest/chat-app/internal/ratelimit"
)

// Limiter throttles sign-in and sign-up attempts.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Handler exposes the Service over HTTP.
type Handler struct {
	svc     *Service
	limiter Limiter
}

// NewHandler creates a Handler. limiter may be nil.
func NewHandler(svc *Service, limiter Limiter) *Handler {
	return &Handler{svc: svc, limiter: limiter}
}

// Routes returns the /auth sub-router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/signup", h.signUp)
	r.Post("/signin", h.signIn)
	r.Post("/signout", h.signOut)
	r.Get("/session", h.session)
	return r
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

func (h *Handler) signUp(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	u, err := h.svc.SignUp(r.Context(), req.Email, req.Password, req.Username)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"user": u})
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sess, err := h.svc.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) signOut(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.SignOut(r.Context(), TokenFromRequest(r)); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Resolve(r.Context(), TokenFromRequest(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": u})
}

func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil {
		return true
	}
	ok, _ := h.limiter.Allow(r.Context(), clientIP(r), ratelimit.RuleSignIn)
	if !ok {
		writeError(w, http.StatusTooManyRequests, "Too many attempts, please try again later")
	}
	return ok
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrWeakPassword), errors.Is(err, ErrMissingUsername):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		log.Error().Err(err).Str("component", "identity").Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
