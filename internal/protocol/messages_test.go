package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/chatnest/chat-app/internal/message"
)

// ---------------------------------------------------------------------------
// Client -> Server parsing
// ---------------------------------------------------------------------------

func TestParseClientMessage_Chat(t *testing.T) {
	input := []byte(`{"type":"message","text":"@gpt hello"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, msgType)
	}
	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.Text != "@gpt hello" {
		t.Errorf("expected text %q, got %q", "@gpt hello", cm.Text)
	}
}

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"message", `{"type":"message","text":"hi"}`, TypeMessage},
		{"typing", `{"type":"typing","is_typing":true}`, TypeTyping},
		{"ping", `{"type":"ping"}`, TypePing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.wantType {
				t.Errorf("expected %q, got %q", tc.wantType, got)
			}
		})
	}
}

func TestParseClientMessage_Rejects(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"unknown type", `{"type":"history"}`},
		{"missing type", `{"text":"hi"}`},
		{"invalid json", `{invalid}`},
		{"wrong field type", `{"type":"typing","is_typing":"yes"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, msg, err := ParseClientMessage([]byte(tc.input))
			if err == nil {
				t.Fatal("expected error")
			}
			if msg != nil {
				t.Errorf("expected nil message, got %v", msg)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Server -> Client encoding
// ---------------------------------------------------------------------------

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeNotice, NoticeMsg{
		Kind:  NoticeAIError,
		Title: "AI Error",
		Text:  "Failed to get response from ChatGPT",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeNotice {
		t.Errorf("type = %v, want %q", result["type"], TypeNotice)
	}
	if result["kind"] != NoticeAIError {
		t.Errorf("kind = %v", result["kind"])
	}
}

func TestNewServerMessage_PreservesMessageFields(t *testing.T) {
	uid := "7f1c"
	created := time.Date(2026, 5, 4, 9, 30, 0, 123000000, time.UTC)
	data, err := NewServerMessage(TypeMessage, ServerChatMsg{Message: message.Message{
		ID:        "01J0",
		Content:   "hello",
		CreatedAt: created,
		UserID:    &uid,
		Username:  "alice",
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded ServerChatMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != TypeMessage {
		t.Errorf("type = %q", decoded.Type)
	}
	if !decoded.Message.CreatedAt.Equal(created) {
		t.Errorf("created_at = %s, want %s", decoded.Message.CreatedAt, created)
	}
	if decoded.Message.UserID == nil || *decoded.Message.UserID != uid {
		t.Errorf("user_id = %v", decoded.Message.UserID)
	}
}

func TestNewServerMessage_BotMessageHasNullAuthor(t *testing.T) {
	data, err := NewServerMessage(TypeMessage, ServerChatMsg{Message: message.Message{ID: "01J1", Content: "hi", IsGPT: true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var raw struct {
		Message map[string]interface{} `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := raw.Message["user_id"]; !ok || v != nil {
		t.Errorf("bot message user_id should be null, got %v (present=%v)", v, ok)
	}
}

func TestEnvelope_MissingType(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"data":"no type field"}`), &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}
