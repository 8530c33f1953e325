package doubao

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
	"github.com/xiaopang/geoprobe/internal/logger"
	"github.com/xiaopang/geoprobe/internal/model"
)

const (
	// DefaultBaseURL 火山方舟 API 地址
	DefaultBaseURL = "https://ark.cn-beijing.volces.com/api/v3/"
	// DefaultModel 未配置 endpoint 时的模型名
	DefaultModel = "doubao-pro-32k"
)

// Client 调用 /chat/completions，返回原始 JSON
type Client struct {
	baseURL    string
	endpointID string
	model      string
	http       *http.Client
	log        *logger.Logger
}

// NewClient 创建客户端
func NewClient(baseURL, endpointID, modelName string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		endpointID: endpointID,
		model:      modelName,
		http:       httpClient,
		log:        logger.With("component", "doubao.client"),
	}
}

// IsBot 智能体接入点自带搜索，不注入 web_search 工具
func (c *Client) IsBot() bool {
	return strings.HasPrefix(c.endpointID, "bot-") || strings.Contains(c.baseURL, "/bots")
}

// Call 发送对话请求
func (c *Client) Call(ctx context.Context, params model.CallParams, token string, _ *core.SessionData) (string, error) {
	messages := params.ChatMessages()
	target := c.endpointID
	if target == "" {
		target = c.model
	}
	payload := map[string]any{
		"model":    target,
		"messages": messages,
		"stream":   false,
	}
	if params.EnableSearch && !c.IsBot() {
		payload["tools"] = []map[string]any{{
			"type": "web_search",
			"web_search": map[string]any{
				"enable":       true,
				"search_query": messages[len(messages)-1].Content,
			},
		}}
	}
	for k, v := range params.Extra {
		payload[k] = v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	url := strings.TrimRight(c.baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", core.NewAPIError(http.StatusBadGateway, "doubao request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", core.NewAPIError(http.StatusBadGateway, "read response: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return string(body), nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &core.AccountBannedError{Reason: fmt.Sprintf("api key rejected (%d)", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &core.RateLimitedError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	default:
		c.log.Error("doubao error response", "status", resp.StatusCode, "body", string(body))
		return "", core.NewAPIError(resp.StatusCode, "doubao: %s", strings.TrimSpace(string(body)))
	}
}

func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
