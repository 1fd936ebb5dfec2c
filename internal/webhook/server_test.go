package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/consbridge/consbridge/internal/config"
	"github.com/consbridge/consbridge/internal/store"
)

func testServer(env string) *Server {
	return &Server{
		Cfg: &config.Config{Env: env, ChatWebhookSecret: "topsecret"},
		Log: zerolog.Nop(),
	}
}

func sign(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := `{"event":"conversation_updated"}`

	tests := []struct {
		name string
		env  string
		sig  string
		want bool
	}{
		{"valid signature", "prod", sign(body, "topsecret"), true},
		{"wrong signature", "prod", sign(body, "othersecret"), false},
		{"missing in prod", "prod", "", false},
		{"missing in dev", "dev", "", true},
		{"garbage", "prod", "zzzz", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testServer(tt.env)
			if got := s.verifySignature([]byte(body), tt.sig); got != tt.want {
				t.Errorf("verifySignature = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	s := testServer("prod")
	req := httptest.NewRequest(http.MethodPost, "/webhook/chatwoot", strings.NewReader(`{}`))
	req.Header.Set(signatureHeader, "bogus")
	rec := httptest.NewRecorder()

	s.handleWebhook(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	s := testServer("dev")
	req := httptest.NewRequest(http.MethodPost, "/webhook/chatwoot", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()

	s.handleWebhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEventFlatten(t *testing.T) {
	flat := event{ID: 7, Status: "open", CustomAttributes: map[string]any{"k": "v"}}
	got := flat.flatten()
	if got.ID != 7 || got.Status != "open" || got.CustomAttributes["k"] != "v" {
		t.Errorf("flat event: %+v", got)
	}

	nested := event{
		Event:        "message_created",
		Conversation: &conversation{ID: 9, Status: "pending"},
	}
	got = nested.flatten()
	if got.ID != 9 || got.Status != "pending" {
		t.Errorf("nested event: %+v", got)
	}
}

func TestStatusMappings(t *testing.T) {
	if mapChatStatus("open") != store.StatusOpen ||
		mapChatStatus("pending") != store.StatusPending ||
		mapChatStatus("resolved") != store.StatusResolved {
		t.Error("chat status mapping broken")
	}
	if mapChatStatus("snoozed") != "" {
		t.Error("unknown chat status must map to empty")
	}

	if chatStatus(store.StatusClosed) != "resolved" || chatStatus(store.StatusCancelled) != "resolved" {
		t.Error("terminal statuses must render as resolved in chat")
	}
	if chatStatus(store.StatusPending) != "pending" || chatStatus(store.StatusOpen) != "open" {
		t.Error("active statuses must round-trip")
	}

	tests := []struct {
		in   store.Status
		want string
	}{
		{store.StatusNew, "new"},
		{store.StatusOpen, "new"},
		{store.StatusPending, "in_progress"},
		{store.StatusResolved, "closed"},
		{store.StatusClosed, "closed"},
		{store.StatusCancelled, "cancelled"},
	}
	for _, tt := range tests {
		if got := erpStatus(tt.in); got != tt.want {
			t.Errorf("erpStatus(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriterDrainsOnClose(t *testing.T) {
	w := NewWriter(zerolog.Nop())

	var count int32
	for i := 0; i < 8; i++ {
		w.Enqueue(Job{ConsID: "1", Run: func(context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		}})
	}
	w.Close()
	if got := atomic.LoadInt32(&count); got != 8 {
		t.Errorf("drained %d jobs, want 8", got)
	}
}
