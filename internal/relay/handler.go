package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Path is where the relay function is served.
const Path = "/functions/v1/chat-gpt"

// Runner executes a relay invocation.
type Runner interface {
	Run(ctx context.Context, prompt string) (string, error)
}

// Handler serves the relay over HTTP. Every response carries permissive CORS
// headers so browser-hosted clients can call the function directly.
type Handler struct {
	runner     Runner
	serviceKey string
}

// NewHandler creates a Handler. When serviceKey is non-empty, POST requests
// must present it as a bearer token.
func NewHandler(runner Runner, serviceKey string) *Handler {
	return &Handler{runner: runner, serviceKey: serviceKey}
}

type invokeRequest struct {
	Prompt interface{} `json:"prompt"`
}

type successResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	if h.serviceKey != "" && !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	var req invokeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "invalid JSON body"})
		return
	}
	prompt, ok := req.Prompt.(string)
	if !ok || prompt == "" {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: ErrInvalidPrompt.Error()})
		return
	}

	// A caller that hangs up does not abort a paid-for completion or its insert.
	reply, err := h.runner.Run(context.WithoutCancel(r.Context()), prompt)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Response: reply})
}

func (h *Handler) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(auth, "Bearer ")
	if !found {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.serviceKey)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
