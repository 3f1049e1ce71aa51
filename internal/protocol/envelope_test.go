package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	payload := CommandPayload{Command: CommandSendInput, SessionID: "abc", Input: "ls\n"}

	env, err := Encode(TypeCommand, "abc", now, payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if env.Type != TypeCommand {
		t.Errorf("Type = %q, want %q", env.Type, TypeCommand)
	}
	if env.SessionID != "abc" {
		t.Errorf("SessionID = %q, want abc", env.SessionID)
	}
	if env.Timestamp != now.UnixMilli() {
		t.Errorf("Timestamp = %d, want %d", env.Timestamp, now.UnixMilli())
	}

	var decoded CommandPayload
	if err := env.Decode(&decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded != payload {
		t.Errorf("decoded = %+v, want %+v", decoded, payload)
	}
}

func TestDecodeEmptyPayloadNoop(t *testing.T) {
	env := &Envelope{Type: TypeStatus}
	var dst CommandPayload
	if err := env.Decode(&dst); err != nil {
		t.Fatalf("Decode on empty payload should be a no-op, got: %v", err)
	}
}

func TestEnvelopeJSONShape(t *testing.T) {
	env := &Envelope{
		Type:      TypeOutput,
		SessionID: "sess-1",
		Payload:   json.RawMessage(`{"sessionId":"sess-1","data":"hi"}`),
		Timestamp: 1000,
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"type", "sessionId", "payload", "timestamp"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing key %q in %s", key, b)
		}
	}
}

func TestEnvelopeOmitsEmptySessionID(t *testing.T) {
	env := &Envelope{Type: TypeAuth, Timestamp: 1}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(b, &m)
	if _, ok := m["sessionId"]; ok {
		t.Errorf("sessionId should be omitted when empty, got %s", b)
	}
}

func TestAuthPayloadJSON(t *testing.T) {
	p := AuthPayload{Token: "secret", Role: RoleAgent}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(b, &m)
	if m["token"] != "secret" {
		t.Errorf("token = %v, want secret", m["token"])
	}
	if m["role"] != "agent" {
		t.Errorf("role = %v, want agent", m["role"])
	}
}

func TestErrorPayloadJSON(t *testing.T) {
	p := ErrorPayload{Code: ErrAgentExists, Message: "an agent is already connected"}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(b, &m)
	if m["code"] != string(ErrAgentExists) {
		t.Errorf("code = %v, want %v", m["code"], ErrAgentExists)
	}
}

func TestCommandPayloadOmitsEmptyFields(t *testing.T) {
	p := CommandPayload{Command: CommandListProjects}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(b, &m)
	for _, key := range []string{"projectId", "sessionId", "input", "fileName", "fileContent", "mimeType"} {
		if _, ok := m[key]; ok {
			t.Errorf("expected %q to be omitted for an empty field, got %s", key, b)
		}
	}
}
