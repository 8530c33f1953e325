package doubao

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xiaopang/geoprobe/internal/config"
	"github.com/xiaopang/geoprobe/internal/core"
	"github.com/xiaopang/geoprobe/internal/model"
)

const testResponse = `{
  "model": "doubao-pro-32k-241215",
  "usage": {"prompt_tokens": 10, "completion_tokens": 20},
  "references": [{"title": "Bot ref", "url": "https://bot.example", "content": "from bot"}],
  "choices": [{
    "message": {
      "role": "assistant",
      "content": "推荐如下：【1】华为 Mate 60 表现最好【2】小米 14 性价比高",
      "tool_calls": [
        {"type": "web_search", "web_search": {"results": [{"title": "Search hit", "url": "https://s.example", "snippet": "hit"}]}},
        {"type": "function", "function": {"name": "noop"}}
      ]
    }
  }]
}`

type arkServer struct {
	mu      sync.Mutex
	bodies  []map[string]any
	headers []http.Header
	status  int
	reply   string
}

func newArkServer(t *testing.T) (*arkServer, *httptest.Server) {
	t.Helper()
	as := &arkServer{status: http.StatusOK, reply: testResponse}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		as.mu.Lock()
		as.bodies = append(as.bodies, body)
		as.headers = append(as.headers, r.Header.Clone())
		status, reply := as.status, as.reply
		as.mu.Unlock()

		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "7")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return as, srv
}

func TestAuthenticator(t *testing.T) {
	auth := Authenticator{}
	key, err := auth.Login(context.Background(), &model.Account{ID: "a", Credentials: map[string]string{"api_key": "ak"}})
	if err != nil || key != "ak" {
		t.Fatalf("Login = %q, %v", key, err)
	}
	_, err = auth.Login(context.Background(), &model.Account{ID: "a", Credentials: map[string]string{}})
	var apiErr *core.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing key err = %v", err)
	}
	if _, err := auth.InitiateLogin(context.Background(), &model.Account{ID: "a"}); err == nil {
		t.Fatal("InitiateLogin should fail")
	}
}

func TestClient_WebSearchTool(t *testing.T) {
	as, srv := newArkServer(t)
	c := NewClient(srv.URL+"/api/v3/", "ep-123", "", srv.Client())

	params := model.CallParams{
		Messages:     []model.Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "最好的手机"}},
		EnableSearch: true,
	}
	raw, err := c.Call(context.Background(), params, "ak", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if raw != testResponse {
		t.Fatal("raw body not returned verbatim")
	}

	body := as.bodies[0]
	if body["model"] != "ep-123" || body["stream"] != false {
		t.Fatalf("body = %v", body)
	}
	tools, _ := body["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("tools = %v", body["tools"])
	}
	ws := tools[0].(map[string]any)["web_search"].(map[string]any)
	if ws["enable"] != true || ws["search_query"] != "最好的手机" {
		t.Fatalf("web_search = %v", ws)
	}
	if got := as.headers[0].Get("Authorization"); got != "Bearer ak" {
		t.Fatalf("Authorization = %q", got)
	}
}

func TestClient_NoToolsForBotsOrWithoutSearch(t *testing.T) {
	cases := []struct {
		name     string
		baseURL  string
		endpoint string
		search   bool
	}{
		{"bot endpoint", "/api/v3/", "bot-2024", true},
		{"bots base url", "/api/v3/bots/", "ep-1", true},
		{"search disabled", "/api/v3/", "ep-1", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			as, srv := newArkServer(t)
			c := NewClient(srv.URL+tc.baseURL, tc.endpoint, "", srv.Client())
			params := model.NewTextParams("q")
			params.EnableSearch = tc.search
			if _, err := c.Call(context.Background(), params, "ak", nil); err != nil {
				t.Fatalf("Call: %v", err)
			}
			if _, ok := as.bodies[0]["tools"]; ok {
				t.Fatalf("tools should be omitted: %v", as.bodies[0])
			}
		})
	}
}

func TestClient_ModelFallback(t *testing.T) {
	as, srv := newArkServer(t)
	c := NewClient(srv.URL, "", "", srv.Client())
	if _, err := c.Call(context.Background(), model.NewTextParams("q"), "ak", nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if as.bodies[0]["model"] != DefaultModel {
		t.Fatalf("model = %v", as.bodies[0]["model"])
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusUnauthorized, func(err error) bool {
			var e *core.AccountBannedError
			return errors.As(err, &e)
		}},
		{http.StatusTooManyRequests, func(err error) bool {
			var e *core.RateLimitedError
			return errors.As(err, &e) && e.RetryAfter == 7*time.Second
		}},
		{http.StatusInternalServerError, func(err error) bool {
			var e *core.APIError
			return errors.As(err, &e) && e.StatusCode == http.StatusInternalServerError
		}},
	}
	for _, tc := range cases {
		as, srv := newArkServer(t)
		as.status = tc.status
		as.reply = `{"error":{"message":"nope"}}`
		c := NewClient(srv.URL, "ep-1", "", srv.Client())
		_, err := c.Call(context.Background(), model.NewTextParams("q"), "ak", nil)
		if !tc.check(err) {
			t.Fatalf("status %d: err = %v", tc.status, err)
		}
	}
}

func TestParser_Sources(t *testing.T) {
	result, err := NewParser(nil).ParseResponse(context.Background(), testResponse)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if !strings.HasPrefix(result.Content, "推荐如下") {
		t.Fatalf("Content = %q", result.Content)
	}
	if len(result.Sources) != 4 {
		t.Fatalf("Sources = %+v", result.Sources)
	}
	origins := []string{OriginBot, OriginSearch, OriginInlineCitation, OriginInlineCitation}
	for i, want := range origins {
		if result.Sources[i].Origin != want {
			t.Fatalf("source %d origin = %q, want %q", i, result.Sources[i].Origin, want)
		}
	}
	if result.Sources[0].Snippet != "from bot" || result.Sources[1].URL != "https://s.example" {
		t.Fatalf("sources = %+v", result.Sources[:2])
	}
	if result.Metadata["model"] != "doubao-pro-32k-241215" {
		t.Fatalf("metadata = %v", result.Metadata)
	}
}

func TestInlineCitations(t *testing.T) {
	got := InlineCitations("前言【1】第一条 【2】第二条【x】杂项【3】" + strings.Repeat("长", 250))
	if len(got) != 3 {
		t.Fatalf("citations = %+v", got)
	}
	if got[0].CiteIndex != 1 || got[0].Snippet != "第一条" {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].CiteIndex != 2 || got[1].Snippet != "第二条" {
		t.Fatalf("second = %+v", got[1])
	}
	if n := len([]rune(got[2].Snippet)); n != maxCitationText {
		t.Fatalf("third snippet length = %d", n)
	}
	if InlineCitations("no markers") != nil {
		t.Fatal("expected nil without markers")
	}
}

func TestParser_InvalidJSON(t *testing.T) {
	_, err := NewParser(nil).Parse(context.Background(), "not json")
	var apiErr *core.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v", err)
	}
}

type stubLLM struct{ reply string }

func (s stubLLM) Complete(context.Context, string) (string, error) { return s.reply, nil }

func TestNew_EndToEnd(t *testing.T) {
	_, srv := newArkServer(t)
	cfg := config.DoubaoConfig{
		Enabled:    true,
		BaseURL:    srv.URL + "/api/v3/",
		EndpointID: "ep-1",
		Accounts:   []map[string]string{{"api_key": "ak"}},
		RateLimit:  model.RateLimitConfig{MaxRequestsPerPeriod: 60, PeriodSeconds: 60},
		MaxRetries: 2,
	}
	platform, err := New(cfg, stubLLM{reply: `结果：[{"rank": 1, "name": "华为", "reason": "旗舰"}]`})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer platform.Close(context.Background())

	result, err := platform.Call(context.Background(), model.NewTextParams("最好的手机"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(result.Rankings) != 1 || result.Rankings[0].Name != "华为" || result.Rankings[0].Reason != "旗舰" {
		t.Fatalf("rankings = %+v", result.Rankings)
	}
	if result.Metadata["provider"] != Name {
		t.Fatalf("metadata = %v", result.Metadata)
	}
}

func TestNew_RequiresEndpoint(t *testing.T) {
	if _, err := New(config.DoubaoConfig{}, nil); err == nil {
		t.Fatal("expected error without endpoint_id")
	}
}
