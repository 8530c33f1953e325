package deepseek

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/xiaopang/geoprobe/internal/core"
	"github.com/xiaopang/geoprobe/internal/model"
)

var testSession = &core.SessionData{SessionID: "sess-1", PowResponse: "pow-token"}

func TestClient_Call(t *testing.T) {
	fp, srv := newFakePlatform(t)
	c := NewClient(srv.URL, srv.Client())

	params := model.CallParams{
		Prompt:         "best phones",
		EnableThinking: true,
		EnableSearch:   true,
		Extra:          map[string]any{"model_type": "default"},
	}
	raw, err := c.Call(context.Background(), params, "tok", testSession)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if raw != testStream {
		t.Fatalf("raw transcript differs:\n%q\nwant\n%q", raw, testStream)
	}

	body, header := fp.lastRequest(pathCompletion)
	if header.Get("Authorization") != "Bearer tok" || header.Get("x-ds-pow-response") != "pow-token" {
		t.Fatalf("headers = %v", header)
	}
	if body["chat_session_id"] != "sess-1" || body["prompt"] != "best phones" {
		t.Fatalf("body = %v", body)
	}
	if v, ok := body["parent_message_id"]; !ok || v != nil {
		t.Fatalf("parent_message_id = %v", v)
	}
	if body["thinking_enabled"] != true || body["search_enabled"] != true || body["model_type"] != "default" {
		t.Fatalf("body flags = %v", body)
	}
	if refs, ok := body["ref_file_ids"].([]any); !ok || len(refs) != 0 {
		t.Fatalf("ref_file_ids = %v", body["ref_file_ids"])
	}
}

func TestClient_MissingSession(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", nil)
	for _, s := range []*core.SessionData{nil, {SessionID: "s"}, {PowResponse: "p"}} {
		_, err := c.Call(context.Background(), model.NewTextParams("q"), "tok", s)
		var apiErr *core.APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
			t.Fatalf("session %+v: err = %v", s, err)
		}
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	fp, srv := newFakePlatform(t)
	fp.handle(pathCompletion, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	c := NewClient(srv.URL, srv.Client())

	_, err := c.Call(context.Background(), model.NewTextParams("q"), "tok", testSession)
	var apiErr *core.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want APIError 503", err)
	}
	if n := fp.calls(pathCompletion); n != completionAttempts {
		t.Fatalf("requests = %d, want %d", n, completionAttempts)
	}
}

func TestClient_RecoversOnRetry(t *testing.T) {
	fp, srv := newFakePlatform(t)
	failed := false
	fp.handle(pathCompletion, func(w http.ResponseWriter, _ *http.Request) {
		if !failed {
			failed = true
			http.Error(w, "oops", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("data: {\"p\":\"response/content\",\"v\":\"ok\"}\n"))
	})
	c := NewClient(srv.URL, srv.Client())

	raw, err := c.Call(context.Background(), model.NewTextParams("q"), "tok", testSession)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !strings.Contains(raw, `"v":"ok"`) || fp.calls(pathCompletion) != 2 {
		t.Fatalf("raw = %q after %d requests", raw, fp.calls(pathCompletion))
	}
}

func TestClient_AccountErrorsNotRetried(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		check   func(error) bool
	}{
		{"http 401", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}, func(err error) bool {
			var e *core.TokenExpiredError
			return errors.As(err, &e) && e.Stage == "completion"
		}},
		{"json token error", func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusOK, 40003, "INVALID_TOKEN")
		}, func(err error) bool {
			var e *core.TokenExpiredError
			return errors.As(err, &e)
		}},
		{"http 429", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
		}, func(err error) bool {
			var e *core.RateLimitedError
			return errors.As(err, &e) && e.RetryAfter == 30*time.Second
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fp, srv := newFakePlatform(t)
			fp.handle(pathCompletion, tc.handler)
			c := NewClient(srv.URL, srv.Client())

			_, err := c.Call(context.Background(), model.NewTextParams("q"), "tok", testSession)
			if !tc.check(err) {
				t.Fatalf("unexpected err: %v", err)
			}
			if n := fp.calls(pathCompletion); n != 1 {
				t.Fatalf("requests = %d, want 1", n)
			}
		})
	}
}

func TestClient_CanceledContext(t *testing.T) {
	_, srv := newFakePlatform(t)
	c := NewClient(srv.URL, srv.Client())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Call(ctx, model.NewTextParams("q"), "tok", testSession)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRetryAfter(t *testing.T) {
	if d := retryAfter("12"); d != 12*time.Second {
		t.Fatalf("retryAfter(12) = %v", d)
	}
	if d := retryAfter(""); d != 0 {
		t.Fatalf("retryAfter(\"\") = %v", d)
	}
	if d := retryAfter("soon"); d != 0 {
		t.Fatalf("retryAfter(soon) = %v", d)
	}
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	if d := retryAfter(future); d <= 50*time.Minute {
		t.Fatalf("retryAfter(date) = %v", d)
	}
}
