package deepseek

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/xiaopang/geoprobe/internal/core"
	"github.com/xiaopang/geoprobe/internal/logger"
	"github.com/xiaopang/geoprobe/internal/model"
)

// 单行 SSE 数据上限
const maxLineSize = 4 << 20

// Client 调用 completion 接口并缓存完整的 SSE 文本
type Client struct {
	api *apiClient
	log *logger.Logger
}

// NewClient 创建客户端
func NewClient(baseURL string, client *http.Client) *Client {
	return &Client{
		api: newAPIClient(baseURL, client),
		log: logger.With("component", "deepseek.client"),
	}
}

// Call 发起对话，返回逐行拼接（每行以 \n 结尾）的原始 SSE 文本
func (c *Client) Call(ctx context.Context, params model.CallParams, token string, session *core.SessionData) (string, error) {
	if session == nil || session.SessionID == "" || session.PowResponse == "" {
		return "", core.NewAPIError(http.StatusInternalServerError, "%v: need session id and pow response", core.ErrMissingSessionField)
	}

	payload := map[string]any{
		"chat_session_id":   session.SessionID,
		"parent_message_id": nil,
		"prompt":            params.Text(),
		"ref_file_ids":      []string{},
		"thinking_enabled":  params.EnableThinking,
		"search_enabled":    params.EnableSearch,
	}
	for k, v := range params.Extra {
		payload[k] = v
	}
	headers := map[string]string{"x-ds-pow-response": session.PowResponse}

	var lastErr error
	for i := 1; i <= completionAttempts; i++ {
		raw, err := c.stream(ctx, token, headers, payload)
		if err == nil {
			return raw, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if isAccountFailure(err) {
			return "", err
		}
		lastErr = err
		c.log.Warn("completion attempt failed", "attempt", i, "error", err)
	}
	var apiErr *core.APIError
	if errors.As(lastErr, &apiErr) {
		return "", apiErr
	}
	return "", core.NewAPIError(http.StatusInternalServerError, "completion failed after %d attempts: %v", completionAttempts, lastErr)
}

func (c *Client) stream(ctx context.Context, token string, headers map[string]string, payload map[string]any) (string, error) {
	resp, err := c.api.post(ctx, pathCompletion, token, headers, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := statusError(resp, "", "completion"); err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", core.NewAPIError(resp.StatusCode, "completion: %s", strings.TrimSpace(string(body)))
	}

	// 业务错误以 JSON 返回而不是事件流
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt == "application/json" {
		env, raw, err := decodeEnvelope(resp)
		if err != nil {
			return "", fmt.Errorf("completion: %w", err)
		}
		if env.authFailure() {
			return "", &core.TokenExpiredError{Stage: "completion"}
		}
		return "", core.NewAPIError(http.StatusInternalServerError, "completion: %s", strings.TrimSpace(string(raw)))
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	return sb.String(), nil
}

func isAccountFailure(err error) bool {
	var (
		expired *core.TokenExpiredError
		limited *core.RateLimitedError
	)
	return errors.As(err, &expired) || errors.As(err, &limited)
}
