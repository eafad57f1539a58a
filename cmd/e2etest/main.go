// Command e2etest walks the full ChatNest user journey against a running
// server: health, sign-up and sign-in, feed handshake, posting, typing
// indicators, rejection paths, rate limiting, the @gpt relay and sign-out.
//
// Usage:
//
//	go run ./cmd/e2etest [-server http://localhost:8080] [-timeout 90s]
//
// Exit code 0 if every required scenario passes, 1 otherwise.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chatnest/chat-app/internal/client"
	"github.com/chatnest/chat-app/internal/protocol"
	"github.com/oklog/ulid/v2"
)

// ---------------------------------------------------------------------------
// Result tracking
// ---------------------------------------------------------------------------

type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional, never fails the run
)

type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	server := flag.String("server", "http://localhost:8080", "ChatNest server base URL")
	timeout := flag.Duration("timeout", 90*time.Second, "Global test timeout")
	flag.Parse()

	fmt.Println("=== ChatNest E2E Integration Test ===")
	fmt.Printf("Server: %s\n\n", *server)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var results []scenarioResult
	results = append(results, scenarioHealth(ctx, *server))

	run := &journey{base: *server, runID: ulid.Make().String()[16:]}
	defer run.close()

	results = append(results, run.auth(ctx))
	if results[len(results)-1].kind == resultPass {
		results = append(results, run.connect(ctx))
	}
	if results[len(results)-1].kind == resultPass {
		results = append(results,
			run.post(ctx),
			run.typing(ctx),
			run.rejects(ctx),
			run.rateLimit(ctx),
			run.relay(ctx),
			run.signOut(ctx),
		)
	}

	fmt.Println()
	passed, failed, info := 0, 0, 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()

		switch r.kind {
		case resultPass:
			passed++
		case resultFail:
			failed++
		case resultInfo:
			info++
		}
	}

	fmt.Printf("\n=== Results: %d/%d passed", passed, passed+failed)
	if info > 0 {
		fmt.Printf(", %d info", info)
	}
	fmt.Println(" ===")

	if failed > 0 {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Scenario: health
// ---------------------------------------------------------------------------

func scenarioHealth(ctx context.Context, base string) scenarioResult {
	name := "Health and metrics"

	if _, err := httpGetBody(ctx, base+"/health"); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/health: %v", err)}
	}
	body, err := httpGetBody(ctx, base+"/metrics")
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/metrics: %v", err)}
	}
	if !strings.Contains(string(body), "chatnest_connections_total") {
		return scenarioResult{name, resultFail, "/metrics: missing chatnest_connections_total"}
	}
	return scenarioResult{name, resultPass, ""}
}

// ---------------------------------------------------------------------------
// Journey: two users sharing the room
// ---------------------------------------------------------------------------

type participant struct {
	name    string
	email   string
	session *client.SessionStore
	conn    *client.Conn
}

type journey struct {
	base  string
	runID string
	alice *participant
	bob   *participant
}

const password = "e2e-password"

func (j *journey) close() {
	for _, p := range []*participant{j.alice, j.bob} {
		if p != nil && p.conn != nil {
			p.conn.Close()
		}
	}
}

func (j *journey) newParticipant(label string) *participant {
	name := fmt.Sprintf("%s%s", label, strings.ToLower(j.runID))
	return &participant{
		name:    name,
		email:   name + "@e2e.chatnest.dev",
		session: client.NewSessionStore(j.base),
	}
}

func (j *journey) auth(ctx context.Context) scenarioResult {
	name := "Sign up and sign in"

	j.alice = j.newParticipant("alice")
	j.bob = j.newParticipant("bob")

	for _, p := range []*participant{j.alice, j.bob} {
		if _, err := p.session.SignUp(ctx, p.email, password, p.name); err != nil {
			return scenarioResult{name, resultFail, fmt.Sprintf("sign up %s: %v", p.name, err)}
		}
		if _, state := p.session.Current(); state != client.Anonymous {
			return scenarioResult{name, resultFail, fmt.Sprintf("sign up left state %s", state)}
		}
	}

	var apiErr *client.APIError
	_, err := j.alice.session.SignUp(ctx, j.alice.email, password, j.alice.name)
	if !errors.As(err, &apiErr) {
		return scenarioResult{name, resultFail, fmt.Sprintf("duplicate sign up: got %v", err)}
	}
	if _, err := j.alice.session.SignIn(ctx, j.alice.email, "wrong-password"); !errors.As(err, &apiErr) {
		return scenarioResult{name, resultFail, fmt.Sprintf("bad password: got %v", err)}
	}

	for _, p := range []*participant{j.alice, j.bob} {
		if _, err := p.session.SignIn(ctx, p.email, password); err != nil {
			return scenarioResult{name, resultFail, fmt.Sprintf("sign in %s: %v", p.name, err)}
		}
	}

	restored := client.NewSessionStore(j.base)
	if err := restored.Restore(ctx, j.alice.session.Token()); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("restore: %v", err)}
	}
	if u, _ := restored.Current(); u == nil || u.Username != j.alice.name {
		return scenarioResult{name, resultFail, "restored session has the wrong user"}
	}

	return scenarioResult{name, resultPass, fmt.Sprintf("users=%s,%s", j.alice.name, j.bob.name)}
}

func (j *journey) connect(ctx context.Context) scenarioResult {
	name := "Feed handshake"

	for _, p := range []*participant{j.alice, j.bob} {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, err := client.Dial(dialCtx, p.session.WebSocketURL())
		if err != nil {
			cancel()
			return scenarioResult{name, resultFail, fmt.Sprintf("dial %s: %v", p.name, err)}
		}
		p.conn = conn

		var ready protocol.ReadyMsg
		err = expect(dialCtx, conn, protocol.TypeReady, &ready)
		if err == nil && ready.Username != p.name {
			err = fmt.Errorf("ready for %q", ready.Username)
		}
		if err == nil {
			err = expect(dialCtx, conn, protocol.TypeHistory, nil)
		}
		cancel()
		if err != nil {
			return scenarioResult{name, resultFail, fmt.Sprintf("%s: %v", p.name, err)}
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if bogus, err := client.Dial(dialCtx, strings.Replace(j.alice.session.WebSocketURL(), "token=", "token=bogus", 1)); err == nil {
		bogus.Close()
		return scenarioResult{name, resultFail, "bogus token was accepted"}
	}

	return scenarioResult{name, resultPass, ""}
}

func (j *journey) post(ctx context.Context) scenarioResult {
	name := "Post and broadcast"

	text := "hello from " + j.alice.name
	start := time.Now()
	if err := j.alice.conn.SendMessage(text); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("send: %v", err)}
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := expect(waitCtx, j.alice.conn, protocol.TypeSent, nil); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("ack: %v", err)}
	}
	ack := time.Since(start)

	var got protocol.ServerChatMsg
	for {
		if err := expect(waitCtx, j.bob.conn, protocol.TypeMessage, &got); err != nil {
			return scenarioResult{name, resultFail, fmt.Sprintf("broadcast: %v", err)}
		}
		if got.Message.Content == text {
			break
		}
	}
	if got.Message.Username != j.alice.name || got.Message.IsGPT {
		return scenarioResult{name, resultFail, fmt.Sprintf("author = %q, is_gpt = %v", got.Message.Username, got.Message.IsGPT)}
	}

	return scenarioResult{name, resultPass, fmt.Sprintf("ack=%s broadcast=%s",
		ack.Round(time.Millisecond), time.Since(start).Round(time.Millisecond))}
}

func (j *journey) typing(ctx context.Context) scenarioResult {
	name := "Typing indicator"

	if err := j.alice.conn.SendTyping(true); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("send: %v", err)}
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var ev protocol.ServerTypingMsg
	for {
		if err := expect(waitCtx, j.bob.conn, protocol.TypeTyping, &ev); err != nil {
			return scenarioResult{name, resultFail, err.Error()}
		}
		if ev.Username == j.alice.name && ev.IsTyping {
			break
		}
	}
	j.alice.conn.SendTyping(false)
	return scenarioResult{name, resultPass, ""}
}

func (j *journey) rejects(ctx context.Context) scenarioResult {
	name := "Rejected messages"

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := j.alice.conn.SendMessage("   "); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("send blank: %v", err)}
	}
	var failed protocol.SendFailedMsg
	if err := expect(waitCtx, j.alice.conn, protocol.TypeSendFailed, &failed); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("blank: %v", err)}
	}

	if err := j.alice.conn.SendMessage(strings.Repeat("a", 5000)); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("send long: %v", err)}
	}
	var protoErr protocol.ErrorMsg
	if err := expect(waitCtx, j.alice.conn, protocol.TypeError, &protoErr); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("too long: %v", err)}
	}
	if protoErr.Code != "invalid_message" {
		return scenarioResult{name, resultFail, fmt.Sprintf("code = %q", protoErr.Code)}
	}
	if err := expect(waitCtx, j.alice.conn, protocol.TypeSendFailed, nil); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("too long: %v", err)}
	}

	return scenarioResult{name, resultPass, ""}
}

// rateLimit floods from bob so alice's later scenarios keep their budget.
func (j *journey) rateLimit(ctx context.Context) scenarioResult {
	name := "Rate limiting (optional)"

	const burst = 40
	for i := 0; i < burst; i++ {
		if err := j.bob.conn.SendMessage(fmt.Sprintf("burst %d", i)); err != nil {
			return scenarioResult{name, resultInfo, fmt.Sprintf("send: %v", err)}
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var limited protocol.RateLimitedMsg
	if err := expect(waitCtx, j.bob.conn, protocol.TypeRateLimited, &limited); err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("no rate_limited frame after %d messages", burst)}
	}
	return scenarioResult{name, resultPass, fmt.Sprintf("retry_after=%ds", limited.RetryAfter)}
}

// relay needs a configured model; a missing or failing relay is reported as
// info rather than failure.
func (j *journey) relay(ctx context.Context) scenarioResult {
	name := "@gpt relay (optional)"

	if err := j.alice.conn.SendMessage("@gpt reply with the single word pong"); err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("send: %v", err)}
	}

	waitCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()

	for {
		select {
		case <-waitCtx.Done():
			return scenarioResult{name, resultInfo, "no reply before timeout"}
		case f, ok := <-j.alice.conn.Frames():
			if !ok {
				return scenarioResult{name, resultFail, "connection closed"}
			}
			switch f.Type {
			case protocol.TypeMessage:
				var m protocol.ServerChatMsg
				if f.Decode(&m) == nil && m.Message.IsGPT {
					return scenarioResult{name, resultPass, fmt.Sprintf("%d chars", len(m.Message.Content))}
				}
			case protocol.TypeNotice:
				var n protocol.NoticeMsg
				if f.Decode(&n) == nil && n.Kind == protocol.NoticeAIError {
					return scenarioResult{name, resultInfo, n.Text}
				}
			}
		}
	}
}

func (j *journey) signOut(ctx context.Context) scenarioResult {
	name := "Sign out"

	token := j.bob.session.Token()
	if err := j.bob.session.SignOut(ctx); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("sign out: %v", err)}
	}
	if _, state := j.bob.session.Current(); state != client.Anonymous {
		return scenarioResult{name, resultFail, fmt.Sprintf("state = %s", state)}
	}

	stale := client.NewSessionStore(j.base)
	if err := stale.Restore(ctx, token); err == nil {
		return scenarioResult{name, resultFail, "revoked token still restores"}
	}
	return scenarioResult{name, resultPass, ""}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// expect skips frames until one of msgType arrives and decodes it into v
// when v is non-nil.
func expect(ctx context.Context, conn *client.Conn, msgType string, v interface{}) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", msgType, ctx.Err())
		case f, ok := <-conn.Frames():
			if !ok {
				return fmt.Errorf("connection closed waiting for %s", msgType)
			}
			if f.Type != msgType {
				continue
			}
			if v == nil {
				return nil
			}
			return f.Decode(v)
		}
	}
}

func httpGetBody(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return body, nil
}
