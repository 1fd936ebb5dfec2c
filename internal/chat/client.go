// Package chat is a typed wrapper over the conversation platform's REST
// API. Every user-facing signal goes out as a visible outgoing message,
// never as a private note.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound marks a 404 from the platform. Conversation-scoped callers
// demote it to a warning: the conversation was deleted on the remote side.
var ErrNotFound = errors.New("chat: not found")

const requestTimeout = 120 * time.Second

// Client talks to one chat account.
type Client struct {
	baseURL   string
	accountID int
	token     string
	hc        *http.Client
	log       zerolog.Logger
}

// New builds a chat client. baseURL is the platform root, without the
// account path.
func New(baseURL string, accountID int, token string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		accountID: accountID,
		token:     token,
		hc:        &http.Client{Timeout: requestTimeout},
		log:       log.With().Str("component", "chat").Logger(),
	}
}

// Agent is a platform user able to hold conversations.
type Agent struct {
	ID               int            `json:"id"`
	Name             string         `json:"name"`
	Email            string         `json:"email"`
	CustomAttributes map[string]any `json:"custom_attributes"`
}

// ConversationUpdate is a partial conversation mutation.
type ConversationUpdate struct {
	Status     *string `json:"status,omitempty"`
	AssigneeID *int    `json:"assignee_id,omitempty"`
}

func (c *Client) accountPath(format string, args ...any) string {
	return fmt.Sprintf("%s/api/v1/accounts/%d%s", c.baseURL, c.accountID, fmt.Sprintf(format, args...))
}

// UpdateConversation patches status and/or assignee on a conversation.
// A 404 is demoted to a warning: the conversation no longer exists.
func (c *Client) UpdateConversation(ctx context.Context, conversationID string, upd ConversationUpdate) error {
	err := c.do(ctx, http.MethodPatch, c.accountPath("/conversations/%s", conversationID), upd, nil)
	return c.demote404(err, conversationID, "update_conversation")
}

// ToggleConversationStatus hits the dedicated status-toggle endpoint, used
// specifically for resolve/reopen.
func (c *Client) ToggleConversationStatus(ctx context.Context, conversationID, status string) error {
	body := map[string]string{"status": status}
	err := c.do(ctx, http.MethodPost, c.accountPath("/conversations/%s/toggle_status", conversationID), body, nil)
	return c.demote404(err, conversationID, "toggle_status")
}

// AssignConversationAgent reassigns a conversation. This is the only
// correct reassignment path; UpdateConversation must not be used for it.
func (c *Client) AssignConversationAgent(ctx context.Context, conversationID string, assigneeID int) error {
	body := map[string]int{"assignee_id": assigneeID}
	err := c.do(ctx, http.MethodPost, c.accountPath("/conversations/%s/assignments", conversationID), body, nil)
	return c.demote404(err, conversationID, "assign_agent")
}

// UpdateConversationCustomAttributes merges the given attributes by key.
// A 404 is demoted to a warning.
func (c *Client) UpdateConversationCustomAttributes(ctx context.Context, conversationID string, attrs map[string]any) error {
	body := map[string]any{"custom_attributes": attrs}
	err := c.do(ctx, http.MethodPost, c.accountPath("/conversations/%s/custom_attributes", conversationID), body, nil)
	return c.demote404(err, conversationID, "custom_attributes")
}

// SendMessage posts a client-visible outgoing message.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) error {
	body := map[string]string{
		"content":      content,
		"message_type": "outgoing",
	}
	err := c.do(ctx, http.MethodPost, c.accountPath("/conversations/%s/messages", conversationID), body, nil)
	return c.demote404(err, conversationID, "send_message")
}

// ListAllAgents returns every agent on the account.
func (c *Client) ListAllAgents(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	if err := c.do(ctx, http.MethodGet, c.accountPath("/agents"), nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// FindUserByEmail looks an agent up by email. Returns nil when absent.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*Agent, error) {
	agents, err := c.ListAllAgents(ctx)
	if err != nil {
		return nil, err
	}
	for i := range agents {
		if strings.EqualFold(agents[i].Email, email) {
			return &agents[i], nil
		}
	}
	return nil, nil
}

// FindUserByCustomAttribute searches agents by a custom attribute value.
// Returns nil when absent.
func (c *Client) FindUserByCustomAttribute(ctx context.Context, attr, value string) (*Agent, error) {
	q := url.Values{}
	q.Set("attribute_key", attr)
	q.Set("attribute_value", value)

	var agents []Agent
	err := c.do(ctx, http.MethodGet, c.accountPath("/agents/search?%s", q.Encode()), nil, &agents)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	for i := range agents {
		if agents[i].CustomAttributes != nil {
			if v, ok := agents[i].CustomAttributes[attr].(string); ok && v == value {
				return &agents[i], nil
			}
		}
	}
	return nil, nil
}

// CreateUser creates an agent. A 422 means the user already exists; the
// caller gets the existing agent via email lookup.
func (c *Client) CreateUser(ctx context.Context, name, email string, customAttributes map[string]any) (*Agent, error) {
	body := map[string]any{
		"name":              name,
		"email":             email,
		"custom_attributes": customAttributes,
	}

	var created Agent
	err := c.do(ctx, http.MethodPost, c.accountPath("/agents"), body, &created)
	if err != nil {
		var serr *StatusError
		if errors.As(err, &serr) && serr.StatusCode == http.StatusUnprocessableEntity {
			c.log.Debug().Str("email", email).Msg("agent already exists, looking up by email")
			return c.FindUserByEmail(ctx, email)
		}
		return nil, err
	}
	return &created, nil
}

// StatusError carries an unexpected upstream status and a body snippet.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat: status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("api_access_token", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("chat: decode response: %w", err)
		}
	}
	return nil
}

// demote404 turns a 404 on a conversation operation into a warning. The
// conversation was deleted remotely; the sync must not fail over it.
func (c *Client) demote404(err error, conversationID, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		c.log.Warn().
			Str("conversation_id", conversationID).
			Str("op", op).
			Msg("conversation missing on chat side, skipping")
		return nil
	}
	return err
}
