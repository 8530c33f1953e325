// Package deepseek implements the DeepSeek chat platform: password login,
// session creation with proof-of-work, SSE completion and transcript parsing.
package deepseek

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xiaopang/geoprobe/internal/core"
)

// DefaultBaseURL 官方地址
const DefaultBaseURL = "https://chat.deepseek.com"

const (
	pathLogin         = "/api/v0/users/login"
	pathCreateSession = "/api/v0/chat_session/create"
	pathCreatePoW     = "/api/v0/chat/create_pow_challenge"
	pathCompletion    = "/api/v0/chat/completion"

	powRequestTimeout  = 30 * time.Second
	completionAttempts = 3
)

// 模拟 Android 客户端的固定请求头；Accept-Encoding 交给 net/http 处理
var baseHeaders = map[string]string{
	"User-Agent":        "DeepSeek/1.0.13 Android/35",
	"Accept":            "application/json",
	"Content-Type":      "application/json",
	"x-client-platform": "android",
	"x-client-version":  "1.3.0-auto-resume",
	"x-client-locale":   "zh_CN",
	"accept-charset":    "UTF-8",
}

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, client *http.Client) *apiClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &apiClient{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

func (c *apiClient) post(ctx context.Context, path, token string, headers map[string]string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	for k, v := range baseHeaders {
		req.Header.Set(k, v)
	}
	if token != "" {
		req.Header.Set("authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.http.Do(req)
}

// envelope 通用响应结构 {code, msg, data:{biz_code, biz_msg, biz_data}}
type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		BizCode int             `json:"biz_code"`
		BizMsg  string          `json:"biz_msg"`
		BizData json.RawMessage `json:"biz_data"`
	} `json:"data"`
}

func decodeEnvelope(resp *http.Response) (*envelope, []byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, body, fmt.Errorf("invalid json: %w", err)
	}
	return &env, body, nil
}

// bizData 解析 data.biz_data，不存在时返回 false
func (e *envelope) bizData(v any) (bool, error) {
	if e.Data == nil || len(e.Data.BizData) == 0 || string(e.Data.BizData) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(e.Data.BizData, v); err != nil {
		return false, err
	}
	return true, nil
}

// authFailure 平台用 code=401 或带 token 字样的 msg 表示登录失效
func (e *envelope) authFailure() bool {
	return e.Code == http.StatusUnauthorized || strings.Contains(strings.ToLower(e.Msg), "token")
}

// statusError 把账号相关的 HTTP 状态映射为核心错误，其他状态返回 nil
func statusError(resp *http.Response, accountID, stage string) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &core.TokenExpiredError{AccountID: accountID, Stage: stage}
	case http.StatusTooManyRequests:
		return &core.RateLimitedError{AccountID: accountID, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	}
	return nil
}

// retryAfter 解析 Retry-After（秒数或 HTTP 日期）
func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
