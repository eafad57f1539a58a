package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chatnest/chat-app/internal/ratelimit"
)

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, ratelimit.Rule) (bool, error) { return false, nil }

func newTestServer(t *testing.T, limiter Limiter) *httptest.Server {
	t.Helper()
	svc, _, _ := newTestService()
	srv := httptest.NewServer(NewHandler(svc, limiter).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body, token string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHandler_SignUpSignInSession(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, body := post(t, srv.URL+"/signup", `{"email":"alice@example.com","password":"secret1","username":"alice"}`, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d body=%v", resp.StatusCode, body)
	}

	resp, body = post(t, srv.URL+"/signin", `{"email":"alice@example.com","password":"secret1"}`, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin status = %d body=%v", resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("missing token in %v", body)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	sessResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer sessResp.Body.Close()
	if sessResp.StatusCode != http.StatusOK {
		t.Fatalf("session status = %d", sessResp.StatusCode)
	}
	var sess struct {
		User User `json:"user"`
	}
	if err := json.NewDecoder(sessResp.Body).Decode(&sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.User.Username != "alice" {
		t.Errorf("username = %q", sess.User.Username)
	}

	resp, _ = post(t, srv.URL+"/signout", ``, token)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("signout status = %d", resp.StatusCode)
	}
}

func TestHandler_ErrorsAreVerbatim(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, body := post(t, srv.URL+"/signin", `{"email":"nobody@example.com","password":"secret1"}`, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["error"] != "Invalid login credentials" {
		t.Errorf("error = %v", body["error"])
	}

	resp, body = post(t, srv.URL+"/signup", `{"email":"a@example.com","password":"123","username":"a"}`, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["error"] != ErrWeakPassword.Error() {
		t.Errorf("error = %v", body["error"])
	}

	post(t, srv.URL+"/signup", `{"email":"b@example.com","password":"secret1","username":"b"}`, "")
	resp, body = post(t, srv.URL+"/signup", `{"email":"b@example.com","password":"secret1","username":"b"}`, "")
	if resp.StatusCode != http.StatusConflict || body["error"] != "User already registered" {
		t.Errorf("duplicate signup: %d %v", resp.StatusCode, body)
	}
}

func TestHandler_SessionWithoutToken(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/session")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHandler_RateLimited(t *testing.T) {
	srv := newTestServer(t, denyLimiter{})
	resp, body := post(t, srv.URL+"/signin", `{"email":"a@example.com","password":"secret1"}`, "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d body=%v", resp.StatusCode, body)
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	if got := TokenFromRequest(r); got != "from-query" {
		t.Errorf("query token = %q", got)
	}
	r.Header.Set("Authorization", "Bearer from-header")
	if got := TokenFromRequest(r); got != "from-header" {
		t.Errorf("header token = %q", got)
	}
}
