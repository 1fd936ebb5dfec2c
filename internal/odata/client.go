// Package odata is the read-mostly ERP client: paged entity fetches with
// retry, and a narrow PATCH path for consultation write-backs.
package odata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrClientError marks a non-retryable upstream 4xx. A 400 on a filter
// string is an encoding regression and must stop the process.
var ErrClientError = errors.New("odata client error")

// StatusError carries the upstream status and a body snippet for
// non-retryable failures.
type StatusError struct {
	StatusCode int
	Body       string
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("odata: %s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests {
		return ErrClientError
	}
	return nil
}

const (
	requestTimeout = 120 * time.Second
	maxAttempts    = 6
	maxInterval    = 60 * time.Second
	bodySnippetLen = 512
)

// Client is a stateless ERP OData client. Connection pooling comes from
// the shared http.Transport.
type Client struct {
	baseURL  string
	user     string
	password string
	hc       *http.Client
	log      zerolog.Logger
}

// New builds a client for the given base URL and basic-auth credentials.
func New(baseURL, user, password string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		user:     user,
		password: password,
		hc:       &http.Client{Timeout: requestTimeout},
		log:      log.With().Str("component", "odata").Logger(),
	}
}

// valueEnvelope is the ERP's JSON response shape.
type valueEnvelope struct {
	Value []json.RawMessage `json:"value"`
}

// Fetch executes one paged GET against an entity and returns the raw rows.
// Transient upstream failures (429/502/503/504, transport errors) are
// retried with capped exponential backoff; other 4xx surface immediately.
func (c *Client) Fetch(ctx context.Context, entity string, q Query) ([]json.RawMessage, error) {
	url := fmt.Sprintf("%s/%s?%s", c.baseURL, entity, q.Encode())

	var rows []json.RawMessage
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(c.user, c.password)
		req.Header.Set("Accept", "application/json")

		resp, err := c.hc.Do(req)
		if err != nil {
			// Transport error: retryable.
			return err
		}
		defer resp.Body.Close()

		if err := classify(resp, url); err != nil {
			return err
		}

		var env valueEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s: %w", entity, err))
		}
		rows = env.Value
		return nil
	}

	if err := backoff.Retry(op, c.newBackoff(ctx)); err != nil {
		return nil, err
	}
	return rows, nil
}

// FetchPage decodes one page of rows into dst (a pointer to a slice).
func FetchPage[T any](ctx context.Context, c *Client, entity string, q Query) ([]T, error) {
	raw, err := c.Fetch(ctx, entity, q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", entity, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ConsultationPatch is the narrow ERP write path: only these three fields
// may be written back, and only from background tasks.
type ConsultationPatch struct {
	Status     *string    `json:"Status,omitempty"`
	ManagerKey *uuid.UUID `json:"Manager_Key,omitempty"`
	StartDate  *time.Time `json:"StartDate,omitempty"`
}

type consultationPatchWire struct {
	Status     *string `json:"Status,omitempty"`
	ManagerKey *string `json:"Manager_Key,omitempty"`
	StartDate  *string `json:"StartDate,omitempty"`
}

// UpdateConsultation issues a PATCH against the consultation document.
func (c *Client) UpdateConsultation(ctx context.Context, entity string, refKey uuid.UUID, patch ConsultationPatch) error {
	wire := consultationPatchWire{Status: patch.Status}
	if patch.ManagerKey != nil {
		s := patch.ManagerKey.String()
		wire.ManagerKey = &s
	}
	if patch.StartDate != nil {
		s := patch.StartDate.UTC().Format("2006-01-02T15:04:05")
		wire.StartDate = &s
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s(guid'%s')?$format=json", c.baseURL, entity, refKey.String())

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(c.user, c.password)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		return classify(resp, url)
	}

	if err := backoff.Retry(op, c.newBackoff(ctx)); err != nil {
		return err
	}

	c.log.Debug().Str("ref_key", refKey.String()).Msg("consultation patched in erp")
	return nil
}

// classify maps a response status onto the retry taxonomy. Retryable
// statuses return a plain error; other 4xx/5xx are permanent and carry the
// URL and a body snippet.
func classify(resp *http.Response, url string) error {
	if resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetLen))
	serr := &StatusError{StatusCode: resp.StatusCode, Body: string(snippet), URL: url}

	switch resp.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return serr
	}
	return backoff.Permanent(serr)
}

// newBackoff returns a fresh BackOff per operation (they are stateful):
// intervals 2,4,8,…, capped at 60s, at most maxAttempts total tries.
func (c *Client) newBackoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.Multiplier = 2
	bo.MaxInterval = maxInterval
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx)
}
