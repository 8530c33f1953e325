// Package llm wraps OpenAI-compatible chat endpoints used for ranking
// extraction.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/xiaopang/geoprobe/internal/config"
	"github.com/xiaopang/geoprobe/internal/logger"
)

// ErrEmptyResponse 模型没有返回内容
var ErrEmptyResponse = errors.New("llm returned empty content")

// Client 单个 OpenAI 兼容端点
type Client struct {
	api     *openai.Client
	model   string
	baseURL string
	timeout time.Duration
}

// NewClient 创建客户端
func NewClient(cfg config.LLMConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithHeader("OpenAI-Organization", cfg.Organization))
	}
	if cfg.Project != "" {
		opts = append(opts, option.WithHeader("OpenAI-Project", cfg.Project))
	}

	return &Client{
		api:     openai.NewClient(opts...),
		model:   cfg.Model,
		baseURL: baseURL,
		timeout: config.Duration(cfg.Timeout),
	}
}

// Call 发送一条 user 消息（可带 system 提示），返回回复文本
func (c *Client) Call(ctx context.Context, prompt, system string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.F(c.model),
		Messages: openai.F(messages),
	})
	if err != nil {
		return "", fmt.Errorf("llm %s: %w", c.model, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// Complete 无 system 提示的 Call
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.Call(ctx, prompt, "")
}

// Pool 多个端点，每次调用随机选一个
type Pool struct {
	clients []*Client
	pick    func(n int) int
}

// NewPool 为每个配置创建客户端；没有配置时返回 nil
func NewPool(cfgs []config.LLMConfig) *Pool {
	if len(cfgs) == 0 {
		return nil
	}
	p := &Pool{pick: rand.Intn}
	for _, cfg := range cfgs {
		p.clients = append(p.clients, NewClient(cfg))
	}
	logger.Info("llm endpoints configured", "count", len(p.clients))
	return p
}

// Size 端点数量
func (p *Pool) Size() int {
	if p == nil {
		return 0
	}
	return len(p.clients)
}

// Call 随机选择端点调用
func (p *Pool) Call(ctx context.Context, prompt, system string) (string, error) {
	c := p.clients[p.pick(len(p.clients))]
	logger.Debug("llm call", "model", c.model, "base_url", c.baseURL)
	return c.Call(ctx, prompt, system)
}

// Complete 实现 ranking.Completer
func (p *Pool) Complete(ctx context.Context, prompt string) (string, error) {
	return p.Call(ctx, prompt, "")
}
