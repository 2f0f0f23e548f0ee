package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func telegramAPIStub(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTelegramSender_Send(t *testing.T) {
	t.Parallel()

	srv := telegramAPIStub(t, http.StatusOK, `{"ok":true,"result":{"message_id":515}}`)
	s := NewTelegramSender("test-token", srv.URL)

	res, err := s.Send(context.Background(), "1001", TelegramPayload{ChatID: 1001, Text: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.CorrelationID != "515" {
		t.Errorf("correlation = %q, want 515", res.CorrelationID)
	}
}

func TestTelegramSender_ChatIDFromRecipient(t *testing.T) {
	t.Parallel()

	var gotChat int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ChatID int64 `json:"chat_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotChat = req.ChatID
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	t.Cleanup(srv.Close)

	s := NewTelegramSender("t", srv.URL)
	if _, err := s.Send(context.Background(), "987", TelegramPayload{Text: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotChat != 987 {
		t.Errorf("chat_id = %d, want 987 from recipient", gotChat)
	}

	if _, err := s.Send(context.Background(), "not-a-number", TelegramPayload{Text: "hi"}); err == nil {
		t.Fatal("expected error for unparseable recipient")
	} else if Classify(err) != Permanent {
		t.Errorf("unparseable recipient should be permanent, got %v", err)
	}
}

func TestTelegramSender_ErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want Classification
	}{
		{"bad request", `{"ok":false,"error_code":400,"description":"chat not found"}`, Permanent},
		{"forbidden", `{"ok":false,"error_code":403,"description":"bot was blocked"}`, Permanent},
		{"rate limited", `{"ok":false,"error_code":429,"description":"too many requests"}`, Transient},
		{"server error", `{"ok":false,"error_code":500,"description":"internal"}`, Transient},
	}

	for _, tc := range cases {
		srv := telegramAPIStub(t, http.StatusOK, tc.body)
		s := NewTelegramSender("t", srv.URL)

		_, err := s.Send(context.Background(), "1", TelegramPayload{ChatID: 1, Text: "hi"})
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if got := Classify(err); got != tc.want {
			t.Errorf("%s: classification = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestTelegramSender_RejectsForeignPayload(t *testing.T) {
	t.Parallel()

	s := NewTelegramSender("t", "http://unused.invalid")
	_, err := s.Send(context.Background(), "1", VoicePayload{Prompt: "x"})
	if !errors.Is(err, ErrUnknownPlatform) {
		t.Fatalf("err = %v, want ErrUnknownPlatform", err)
	}
}

func TestVoiceSender_Send(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotReq voiceCallRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"call_id":"call-9"}`))
	}))
	t.Cleanup(srv.Close)

	s := NewVoiceSender(srv.URL, "voice-secret")
	res, err := s.Send(context.Background(), "+15550100", VoicePayload{Prompt: "evening check-in", AgentID: "a1"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.CorrelationID != "call-9" {
		t.Errorf("correlation = %q, want call-9", res.CorrelationID)
	}
	if gotAuth != "Bearer voice-secret" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotReq.Recipient != "+15550100" || gotReq.Prompt != "evening check-in" {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestVoiceSender_ErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   Classification
	}{
		{http.StatusBadRequest, Permanent},
		{http.StatusNotFound, Permanent},
		{http.StatusTooManyRequests, Transient},
		{http.StatusBadGateway, Transient},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))

		s := NewVoiceSender(srv.URL, "")
		_, err := s.Send(context.Background(), "+1555", VoicePayload{Prompt: "x"})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if got := Classify(err); got != tc.want {
			t.Errorf("status %d: classification = %v, want %v", tc.status, got, tc.want)
		}
	}
}
