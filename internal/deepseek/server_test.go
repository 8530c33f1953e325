package deepseek

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/xiaopang/geoprobe/internal/pow"
)

const testWASM = "../pow/testdata/solver.wasm"

// 测试用 SSE：思考过程、搜索结果、正文、finish 之后的内容应被忽略
const testStream = `data: {"v":{"response":{"message_id":2}}}

data: {"p":"response/thinking_content","v":"Let me "}

data: {"v":"think."}

data: {"p":"response/search_results","v":[{"url":"https://a.example","title":"A","snippet":"alpha","cite_index":1,"published_at":1700000000},{"url":"https://b.example","title":"B"}]}

data: {}

data: {"p":"response/content","v":"Hello"}

data: {"v":" world"}

data: {"p":"response/search_status","v":"done"}

event: finish
data: {}

data: {"p":"response/content","v":"ignored"}
`

// fakePlatform 模拟平台接口，记录收到的请求
type fakePlatform struct {
	mu       sync.Mutex
	requests map[string][]map[string]any
	headers  map[string][]http.Header

	token     string
	challenge pow.Challenge
	stream    string
	handlers  map[string]http.HandlerFunc
}

func newFakePlatform(t *testing.T) (*fakePlatform, *httptest.Server) {
	t.Helper()
	fp := &fakePlatform{
		requests: make(map[string][]map[string]any),
		headers:  make(map[string][]http.Header),
		token:    "tok-server",
		challenge: pow.Challenge{
			Algorithm:  pow.Algorithm,
			Challenge:  "abc",
			Salt:       "salt",
			Difficulty: 144000,
			ExpireAt:   1700000000,
			Signature:  "sig",
			TargetPath: pathCompletion,
		},
		stream:   testStream,
		handlers: make(map[string]http.HandlerFunc),
	}
	srv := httptest.NewServer(http.HandlerFunc(fp.serve))
	t.Cleanup(srv.Close)
	return fp, srv
}

func (fp *fakePlatform) handle(path string, h http.HandlerFunc) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.handlers[path] = h
}

func (fp *fakePlatform) calls(path string) int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return len(fp.requests[path])
}

func (fp *fakePlatform) lastRequest(path string) (map[string]any, http.Header) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	reqs := fp.requests[path]
	if len(reqs) == 0 {
		return nil, nil
	}
	return reqs[len(reqs)-1], fp.headers[path][len(reqs)-1]
}

func (fp *fakePlatform) serve(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	fp.mu.Lock()
	fp.requests[r.URL.Path] = append(fp.requests[r.URL.Path], body)
	fp.headers[r.URL.Path] = append(fp.headers[r.URL.Path], r.Header.Clone())
	h := fp.handlers[r.URL.Path]
	fp.mu.Unlock()

	if h != nil {
		h(w, r)
		return
	}

	switch r.URL.Path {
	case pathLogin:
		writeEnvelope(w, map[string]any{"user": map[string]any{"token": fp.token}})
	case pathCreateSession:
		writeEnvelope(w, map[string]any{"id": "sess-1"})
	case pathCreatePoW:
		writeEnvelope(w, map[string]any{"challenge": fp.challenge})
	case pathCompletion:
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(fp.stream))
	default:
		http.NotFound(w, r)
	}
}

func writeEnvelope(w http.ResponseWriter, bizData any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code": 0,
		"msg":  "",
		"data": map[string]any{"biz_code": 0, "biz_msg": "", "biz_data": bizData},
	})
}

func writeError(w http.ResponseWriter, status, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": msg, "data": nil})
}

func newTestSolver(t *testing.T) *pow.Solver {
	t.Helper()
	s, err := pow.Load(context.Background(), filepath.FromSlash(testWASM))
	if err != nil {
		t.Fatalf("pow.Load: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}
