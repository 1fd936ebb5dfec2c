package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestConversation404IsDemoted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer ts.Close()

	c := New(ts.URL, 1, "token", zerolog.Nop())
	st := "open"
	if err := c.UpdateConversation(context.Background(), "42", ConversationUpdate{Status: &st}); err != nil {
		t.Errorf("404 on update must be demoted, got %v", err)
	}
	if err := c.ToggleConversationStatus(context.Background(), "42", "resolved"); err != nil {
		t.Errorf("404 on toggle must be demoted, got %v", err)
	}
	if err := c.AssignConversationAgent(context.Background(), "42", 7); err != nil {
		t.Errorf("404 on assign must be demoted, got %v", err)
	}
}

func TestConversation500IsNotDemoted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := New(ts.URL, 1, "token", zerolog.Nop())
	st := "open"
	if err := c.UpdateConversation(context.Background(), "42", ConversationUpdate{Status: &st}); err == nil {
		t.Error("500 must surface")
	}
}

func TestSendMessageShape(t *testing.T) {
	var gotPath, gotToken string
	var gotBody map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("api_access_token")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c := New(ts.URL, 3, "secret", zerolog.Nop())
	if err := c.SendMessage(context.Background(), "99", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if gotPath != "/api/v1/accounts/3/conversations/99/messages" {
		t.Errorf("path = %q", gotPath)
	}
	if gotToken != "secret" {
		t.Errorf("token = %q", gotToken)
	}
	if gotBody["message_type"] != "outgoing" || gotBody["content"] != "hello" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestAssignUsesAssignmentsEndpoint(t *testing.T) {
	var gotPath, gotMethod string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c := New(ts.URL, 1, "token", zerolog.Nop())
	if err := c.AssignConversationAgent(context.Background(), "5", 12); err != nil {
		t.Fatalf("AssignConversationAgent: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/v1/accounts/1/conversations/5/assignments" {
		t.Errorf("%s %s", gotMethod, gotPath)
	}
}

func TestCreateUser422FallsBackToEmail(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/accounts/1/agents":
			http.Error(w, "email taken", http.StatusUnprocessableEntity)
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/accounts/1/agents":
			json.NewEncoder(w).Encode([]Agent{
				{ID: 4, Name: "Existing", Email: "Op@Example.com"},
			})
		default:
			http.Error(w, "unexpected", http.StatusTeapot)
		}
	}))
	defer ts.Close()

	c := New(ts.URL, 1, "token", zerolog.Nop())
	agent, err := c.CreateUser(context.Background(), "Op", "op@example.com", nil)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if agent == nil || agent.ID != 4 {
		t.Errorf("agent = %+v", agent)
	}
}

func TestFindUserByCustomAttribute(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Agent{
			{ID: 1, CustomAttributes: map[string]any{"cl_ref_key": "aaa"}},
			{ID: 2, CustomAttributes: map[string]any{"cl_ref_key": "bbb"}},
		})
	}))
	defer ts.Close()

	c := New(ts.URL, 1, "token", zerolog.Nop())
	agent, err := c.FindUserByCustomAttribute(context.Background(), "cl_ref_key", "bbb")
	if err != nil {
		t.Fatalf("FindUserByCustomAttribute: %v", err)
	}
	if agent == nil || agent.ID != 2 {
		t.Errorf("agent = %+v", agent)
	}

	agent, err = c.FindUserByCustomAttribute(context.Background(), "cl_ref_key", "zzz")
	if err != nil || agent != nil {
		t.Errorf("miss should be (nil, nil), got %+v, %v", agent, err)
	}
}
