package model

import "strings"

// Message 结构化提示中的一条消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CallParams 与平台无关的调用参数
type CallParams struct {
	// Prompt 纯文本提示；Messages 非空时以 Messages 为准
	Prompt   string    `json:"prompt,omitempty"`
	Messages []Message `json:"messages,omitempty"`

	EnableThinking bool `json:"enable_thinking"`
	EnableSearch   bool `json:"enable_search"`

	// Extra 原样合并进请求体
	Extra map[string]any `json:"extra,omitempty"`
}

// NewTextParams 创建纯文本调用参数（默认开启联网搜索）
func NewTextParams(prompt string) CallParams {
	return CallParams{Prompt: prompt, EnableSearch: true}
}

// Text 返回提示文本：纯文本提示，或最后一条 user 消息
func (p CallParams) Text() string {
	if len(p.Messages) == 0 {
		return p.Prompt
	}
	for i := len(p.Messages) - 1; i >= 0; i-- {
		if p.Messages[i].Role == "user" {
			return p.Messages[i].Content
		}
	}
	return p.Messages[len(p.Messages)-1].Content
}

// ChatMessages 返回消息列表，纯文本提示包装为单条 user 消息
func (p CallParams) ChatMessages() []Message {
	if len(p.Messages) > 0 {
		return p.Messages
	}
	return []Message{{Role: "user", Content: p.Prompt}}
}

// Source 引用来源
type Source struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	CiteIndex   int    `json:"cite_index,omitempty"`
	PublishedAt int64  `json:"published_at,omitempty"`
	Origin      string `json:"origin,omitempty"` // 来源类型，如 doubao_search / inline_citation
}

// Ranking 从回答中提取的品牌排名
type Ranking struct {
	Name    string   `json:"name"`
	Rank    int      `json:"rank"`
	Sources []Source `json:"sources,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// CallResult 统一的调用结果
type CallResult struct {
	RawResponse string         `json:"raw_response,omitempty"`
	Content     string         `json:"content"`
	Reasoning   string         `json:"reasoning,omitempty"`
	Sources     []Source       `json:"sources"`
	Rankings    []Ranking      `json:"rankings"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Summary 返回截断后的正文，用于日志
func (r *CallResult) Summary(max int) string {
	s := strings.TrimSpace(r.Content)
	if max <= 0 || len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "…"
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}
