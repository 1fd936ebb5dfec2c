package odata

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

func respWith(code int) *http.Response {
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(strings.NewReader("boom")),
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code          int
		wantNil       bool
		wantPermanent bool
	}{
		{200, true, false},
		{429, false, false},
		{502, false, false},
		{503, false, false},
		{504, false, false},
		{400, false, true},
		{404, false, true},
		{500, false, true},
	}
	for _, tt := range tests {
		err := classify(respWith(tt.code), "http://erp/odata/Entity")
		if tt.wantNil {
			if err != nil {
				t.Errorf("classify(%d) = %v, want nil", tt.code, err)
			}
			continue
		}
		if err == nil {
			t.Errorf("classify(%d) = nil, want error", tt.code)
			continue
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) != tt.wantPermanent {
			t.Errorf("classify(%d) permanent = %v, want %v", tt.code, !tt.wantPermanent, tt.wantPermanent)
		}
	}
}

func TestStatusErrorUnwrap(t *testing.T) {
	if !errors.Is(&StatusError{StatusCode: 400}, ErrClientError) {
		t.Error("400 must unwrap to ErrClientError")
	}
	if errors.Is(&StatusError{StatusCode: 429}, ErrClientError) {
		t.Error("429 is transient, not a client error")
	}
	if errors.Is(&StatusError{StatusCode: 502}, ErrClientError) {
		t.Error("502 is transient, not a client error")
	}
}

func TestFetchDecodesEnvelope(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"value":[{"Ref_Key":"a"},{"Ref_Key":"b"}]}`))
	}))
	defer ts.Close()

	c := New(ts.URL, "user", "pass", zerolog.Nop())
	type row struct {
		RefKey string `json:"Ref_Key"`
	}
	rows, err := FetchPage[row](context.Background(), c, "ConsultationDoc", Query{Top: 2})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(rows) != 2 || rows[0].RefKey != "a" || rows[1].RefKey != "b" {
		t.Errorf("rows = %+v", rows)
	}
	if gotPath != "/ConsultationDoc" {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.Contains(gotQuery, "$format=json") || !strings.Contains(gotQuery, "$top=2") {
		t.Errorf("query = %q", gotQuery)
	}
	if !strings.HasPrefix(gotAuth, "Basic ") {
		t.Errorf("auth = %q", gotAuth)
	}
}

func TestFetchPermanentFailureDoesNotRetry(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "bad filter", http.StatusBadRequest)
	}))
	defer ts.Close()

	c := New(ts.URL, "user", "pass", zerolog.Nop())
	_, err := c.Fetch(context.Background(), "ConsultationDoc", Query{})
	if !errors.Is(err, ErrClientError) {
		t.Fatalf("want ErrClientError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("400 must not be retried, got %d calls", calls)
	}
}
