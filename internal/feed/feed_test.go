package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chatnest/chat-app/internal/message"
)

// ---------------------------------------------------------------------------
// In-memory store + change feed
// ---------------------------------------------------------------------------

type memRoom struct {
	mu        sync.Mutex
	rows      []message.Message
	usernames map[string]string
	subs      map[string]func(id string)
	clock     time.Time
	seq       int

	insertErr error
	listErr   error
	inserts   int
}

func newMemRoom() *memRoom {
	return &memRoom{
		usernames: map[string]string{"alice-id": "alice", "bob-id": "bob"},
		subs:      make(map[string]func(id string)),
		clock:     time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (r *memRoom) List(context.Context) ([]message.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]message.Message, len(r.rows))
	copy(out, r.rows)
	return out, nil
}

func (r *memRoom) Get(_ context.Context, id string) (*message.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows {
		if m.ID == id {
			m := m
			return &m, nil
		}
	}
	return nil, message.ErrNotFound
}

func (r *memRoom) Insert(_ context.Context, n message.NewMessage) (*message.Message, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.inserts++
	if r.insertErr != nil {
		r.mu.Unlock()
		return nil, r.insertErr
	}
	r.seq++
	r.clock = r.clock.Add(time.Second)
	m := message.Message{
		ID:        fmt.Sprintf("%04d", r.seq),
		Content:   n.Content,
		CreatedAt: r.clock,
		UserID:    n.UserID,
		IsGPT:     n.IsGPT,
	}
	if n.UserID != nil {
		m.Username = r.usernames[*n.UserID]
	}
	r.rows = append(r.rows, m)
	subs := make([]func(string), 0, len(r.subs))
	for _, h := range r.subs {
		subs = append(subs, h)
	}
	r.mu.Unlock()

	for _, h := range subs {
		h(m.ID)
	}
	return &m, nil
}

// addRow stores a row without announcing it.
func (r *memRoom) addRow(m message.Message) {
	r.mu.Lock()
	r.rows = append(r.rows, m)
	r.mu.Unlock()
}

func (r *memRoom) announce(id string) {
	r.mu.Lock()
	subs := make([]func(string), 0, len(r.subs))
	for _, h := range r.subs {
		subs = append(subs, h)
	}
	r.mu.Unlock()
	for _, h := range subs {
		h(id)
	}
}

func (r *memRoom) SubscribeInserts(key string, handler func(id string)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[key] = handler
	return nil
}

func (r *memRoom) UnsubscribeInserts(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[key]; !ok {
		return errors.New("no subscription")
	}
	delete(r.subs, key)
	return nil
}

// botRelay answers every prompt by storing a bot message.
type botRelay struct {
	room    *memRoom
	mu      sync.Mutex
	prompts []string
	answer  func(prompt string) (string, error)
}

func (b *botRelay) Invoke(ctx context.Context, prompt string) (string, error) {
	b.mu.Lock()
	b.prompts = append(b.prompts, prompt)
	b.mu.Unlock()

	reply, err := b.answer(prompt)
	if err != nil {
		return "", err
	}
	if _, err := b.room.Insert(ctx, message.BotMessage(reply)); err != nil {
		return "", err
	}
	return reply, nil
}

func (b *botRelay) calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.prompts...)
}

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (l *noticeLog) add(n Notice) {
	l.mu.Lock()
	l.notices = append(l.notices, n)
	l.mu.Unlock()
}

func (l *noticeLog) all() []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Notice(nil), l.notices...)
}

func newTestFeed(t *testing.T, room *memRoom, relay Relay, userID string) (*Feed, *noticeLog) {
	t.Helper()
	notices := &noticeLog{}
	f := New(Config{
		Key:      "conn-" + userID,
		UserID:   userID,
		Store:    room,
		Changes:  room,
		Relay:    relay,
		OnNotice: notices.add,
	})
	if err := f.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := f.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Cleanup(f.Close)
	return f, notices
}

func contents(list []message.Message) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.Content
	}
	return out
}

// ---------------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------------

func TestSend_PlainMessage(t *testing.T) {
	room := newMemRoom()
	relay := &botRelay{room: room, answer: func(string) (string, error) { return "unused", nil }}
	f, notices := newTestFeed(t, room, relay, "alice-id")

	if err := f.Send(context.Background(), "  hello  "); err != nil {
		t.Fatalf("Send: %v", err)
	}
	f.Wait()

	list := f.Messages()
	if len(list) != 1 || list[0].Content != "hello" {
		t.Fatalf("messages = %v", contents(list))
	}
	if list[0].IsGPT || list[0].UserID == nil || *list[0].UserID != "alice-id" {
		t.Errorf("unexpected row: %+v", list[0])
	}
	if len(relay.calls()) != 0 {
		t.Errorf("relay should not be invoked, got %v", relay.calls())
	}
	if len(notices.all()) != 0 {
		t.Errorf("unexpected notices: %v", notices.all())
	}
}

func TestSend_WhitespaceOnly(t *testing.T) {
	room := newMemRoom()
	f, notices := newTestFeed(t, room, nil, "alice-id")

	for _, text := range []string{"", "   ", "\n\t "} {
		if err := f.Send(context.Background(), text); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("Send(%q) = %v, want ErrEmptyMessage", text, err)
		}
	}
	if room.inserts != 0 {
		t.Errorf("store should not be called, got %d inserts", room.inserts)
	}
	if len(notices.all()) != 0 {
		t.Errorf("empty input must not produce notices")
	}
}

func TestSend_TooLong(t *testing.T) {
	room := newMemRoom()
	f, notices := newTestFeed(t, room, nil, "alice-id")

	err := f.Send(context.Background(), strings.Repeat("x", message.MaxTextChars+1))
	if !errors.Is(err, message.ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
	if room.inserts != 0 || len(notices.all()) != 0 {
		t.Error("validation failures are local")
	}
}

func TestSend_TriggerInvokesRelay(t *testing.T) {
	room := newMemRoom()
	relay := &botRelay{room: room, answer: func(string) (string, error) { return "4", nil }}
	f, _ := newTestFeed(t, room, relay, "alice-id")

	if err := f.Send(context.Background(), "@gpt what is 2+2"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	f.Wait()

	if calls := relay.calls(); len(calls) != 1 || calls[0] != "what is 2+2" {
		t.Fatalf("relay calls = %v", calls)
	}
	got := contents(f.Messages())
	if len(got) != 2 || got[0] != "@gpt what is 2+2" || got[1] != "4" {
		t.Fatalf("messages = %v", got)
	}
}

func TestSend_TriggerVariants(t *testing.T) {
	cases := []struct {
		text   string
		prompt string
	}{
		{"  @GPT hi ", "PT hi"},
		{" @gpt hello", "t hello"},
		{"@gptx hello", "x hello"},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			room := newMemRoom()
			relay := &botRelay{room: room, answer: func(string) (string, error) { return "ok", nil }}
			f, _ := newTestFeed(t, room, relay, "alice-id")

			if err := f.Send(context.Background(), tc.text); err != nil {
				t.Fatalf("Send: %v", err)
			}
			f.Wait()
			if calls := relay.calls(); len(calls) != 1 || calls[0] != tc.prompt {
				t.Errorf("relay calls = %q, want [%q]", calls, tc.prompt)
			}
		})
	}
}

func TestSend_RelayFailureKeepsUserMessage(t *testing.T) {
	room := newMemRoom()
	relay := &botRelay{room: room, answer: func(string) (string, error) {
		return "", errors.New("OpenAI API error: 502 - bad gateway")
	}}
	f, notices := newTestFeed(t, room, relay, "alice-id")

	if err := f.Send(context.Background(), "@gpt hi"); err != nil {
		t.Fatalf("Send should succeed even when the relay fails: %v", err)
	}
	f.Wait()

	if got := contents(f.Messages()); len(got) != 1 || got[0] != "@gpt hi" {
		t.Fatalf("messages = %v", got)
	}
	all := notices.all()
	if len(all) != 1 || all[0].Kind != NoticeAIError || all[0].Text != "Failed to get response from ChatGPT" {
		t.Fatalf("notices = %+v", all)
	}
}

func TestSend_StoreFailure(t *testing.T) {
	room := newMemRoom()
	room.insertErr = errors.New("connection refused")
	relay := &botRelay{room: room, answer: func(string) (string, error) { return "x", nil }}
	f, notices := newTestFeed(t, room, relay, "alice-id")

	err := f.Send(context.Background(), "@gpt hi")
	if err == nil || !errors.Is(err, room.insertErr) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	f.Wait()

	if len(relay.calls()) != 0 {
		t.Error("relay must not be invoked when the user message was not stored")
	}
	all := notices.all()
	if len(all) != 1 || all[0].Kind != NoticeError || all[0].Text != "Failed to send message" {
		t.Fatalf("notices = %+v", all)
	}
}

func TestSend_NoRelayConfigured(t *testing.T) {
	room := newMemRoom()
	f, notices := newTestFeed(t, room, nil, "alice-id")

	if err := f.Send(context.Background(), "@gpt hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if all := notices.all(); len(all) != 1 || all[0].Kind != NoticeAIError {
		t.Fatalf("notices = %+v", all)
	}
}

// ---------------------------------------------------------------------------
// Load / subscription
// ---------------------------------------------------------------------------

func TestLoad_Failure(t *testing.T) {
	room := newMemRoom()
	room.listErr = errors.New("timeout")
	notices := &noticeLog{}
	f := New(Config{Key: "k", UserID: "alice-id", Store: room, Changes: room, OnNotice: notices.add})

	if err := f.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	all := notices.all()
	if len(all) != 1 || all[0].Text != "Failed to load messages" {
		t.Fatalf("notices = %+v", all)
	}
	if len(f.Messages()) != 0 {
		t.Error("list should stay empty")
	}
}

func TestLoad_MergesEarlyNotifications(t *testing.T) {
	room := newMemRoom()
	base := room.clock
	room.addRow(message.Message{ID: "a", Content: "first", CreatedAt: base.Add(time.Second)})

	f := New(Config{Key: "k", UserID: "alice-id", Store: room, Changes: room})
	if err := f.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer f.Close()

	// A row announced before the history load completes.
	room.addRow(message.Message{ID: "b", Content: "second", CreatedAt: base.Add(2 * time.Second)})
	room.announce("b")

	if err := f.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := contents(f.Messages()); len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("messages = %v", got)
	}
}

func TestSubscription_OrdersAndDeduplicates(t *testing.T) {
	room := newMemRoom()
	var delivered []string
	var mu sync.Mutex
	f := New(Config{
		Key: "k", UserID: "alice-id", Store: room, Changes: room,
		OnMessage: func(m message.Message) {
			mu.Lock()
			delivered = append(delivered, m.ID)
			mu.Unlock()
		},
	})
	if err := f.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer f.Close()

	base := room.clock
	room.addRow(message.Message{ID: "late", Content: "late", CreatedAt: base.Add(3 * time.Second)})
	room.addRow(message.Message{ID: "early", Content: "early", CreatedAt: base.Add(time.Second)})
	room.announce("late")
	room.announce("early")
	room.announce("late")
	room.announce("missing")

	if got := contents(f.Messages()); len(got) != 2 || got[0] != "early" || got[1] != "late" {
		t.Fatalf("messages = %v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 2 {
		t.Errorf("OnMessage should fire once per new row, got %v", delivered)
	}
}

func TestSubscribe_Twice(t *testing.T) {
	room := newMemRoom()
	f := New(Config{Key: "k", Store: room, Changes: room})
	defer f.Close()
	if err := f.Subscribe(); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if err := f.Subscribe(); err == nil {
		t.Fatal("second subscribe should fail")
	}
}

func TestClose_Idempotent(t *testing.T) {
	room := newMemRoom()
	f := New(Config{Key: "k", UserID: "alice-id", Store: room, Changes: room})
	if err := f.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	f.Close()
	f.Close()

	room.addRow(message.Message{ID: "x", Content: "after close", CreatedAt: room.clock})
	room.announce("x")
	if len(f.Messages()) != 0 {
		t.Error("closed feed must not receive notifications")
	}
	if len(room.subs) != 0 {
		t.Error("subscription should be released")
	}
	if err := f.Subscribe(); err == nil {
		t.Error("subscribe after close should fail")
	}
}

// ---------------------------------------------------------------------------
// End to end: alice asks the bot, bob sees the conversation.
// ---------------------------------------------------------------------------

func TestAliceAsksBot(t *testing.T) {
	room := newMemRoom()
	relay := &botRelay{room: room, answer: func(prompt string) (string, error) {
		if prompt == "what is 2+2" {
			return "4", nil
		}
		return "", fmt.Errorf("unexpected prompt %q", prompt)
	}}

	alice, aliceNotices := newTestFeed(t, room, relay, "alice-id")
	bob, _ := newTestFeed(t, room, relay, "bob-id")

	if err := alice.Send(context.Background(), "@gpt what is 2+2"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	alice.Wait()

	for name, f := range map[string]*Feed{"alice": alice, "bob": bob} {
		list := f.Messages()
		if len(list) != 2 {
			t.Fatalf("%s: messages = %v", name, contents(list))
		}
		if list[0].Author() != "alice" || list[0].Content != "@gpt what is 2+2" {
			t.Errorf("%s: first = %s: %q", name, list[0].Author(), list[0].Content)
		}
		if list[1].Author() != "ChatGPT" || list[1].Content != "4" || list[1].UserID != nil {
			t.Errorf("%s: second = %+v", name, list[1])
		}
	}
	if !alice.Messages()[0].IsOwn("alice-id") || bob.Messages()[0].IsOwn("bob-id") {
		t.Error("ownership should follow the author")
	}
	if len(aliceNotices.all()) != 0 {
		t.Errorf("unexpected notices: %+v", aliceNotices.all())
	}
}
