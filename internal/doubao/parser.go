package doubao

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/xiaopang/geoprobe/internal/core"
	"github.com/xiaopang/geoprobe/internal/model"
	"github.com/xiaopang/geoprobe/internal/ranking"
)

// 来源类型
const (
	OriginBot            = "doubao_bot"
	OriginSearch         = "doubao_search"
	OriginInlineCitation = "inline_citation"
)

const maxCitationText = 200

var citationMarker = regexp.MustCompile(`【(\d+)】`)

type completion struct {
	Model   string         `json:"model"`
	Usage   map[string]any `json:"usage"`
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Type      string `json:"type"`
				WebSearch struct {
					Results []reference `json:"results"`
				} `json:"web_search"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	References []reference `json:"references"`
}

type reference struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Snippet string `json:"snippet"`
}

// Parser 解析 chat/completions 响应
type Parser struct {
	extractor *ranking.Extractor
}

// NewParser 创建解析器
func NewParser(extractor *ranking.Extractor) *Parser {
	return &Parser{extractor: extractor}
}

// ParseResponse 提取正文和来源（智能体引用、搜索结果、正文中的【n】标注）
func (p *Parser) ParseResponse(_ context.Context, raw string) (*model.CallResult, error) {
	var resp completion
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, core.NewAPIError(http.StatusBadGateway, "doubao: invalid response: %v", err)
	}

	result := &model.CallResult{
		RawResponse: raw,
		Sources:     []model.Source{},
		Rankings:    []model.Ranking{},
		Metadata: map[string]any{
			"model": resp.Model,
			"usage": resp.Usage,
		},
	}

	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		result.Content = msg.Content
		result.Reasoning = strings.TrimSpace(msg.ReasoningContent)

		for _, ref := range resp.References {
			snippet := ref.Content
			if snippet == "" {
				snippet = ref.Snippet
			}
			result.Sources = append(result.Sources, model.Source{
				Title: ref.Title, URL: ref.URL, Snippet: snippet, Origin: OriginBot,
			})
		}
		for _, call := range msg.ToolCalls {
			if call.Type != "web_search" {
				continue
			}
			for _, r := range call.WebSearch.Results {
				result.Sources = append(result.Sources, model.Source{
					Title: r.Title, URL: r.URL, Snippet: r.Snippet, Origin: OriginSearch,
				})
			}
		}
	}

	result.Sources = append(result.Sources, InlineCitations(result.Content)...)
	return result, nil
}

// ParseContent 提取排名
func (p *Parser) ParseContent(ctx context.Context, result *model.CallResult) (*model.CallResult, error) {
	result = p.extractor.Apply(ctx, result)
	if result.Rankings == nil {
		result.Rankings = []model.Ranking{}
	}
	return result, nil
}

// Parse ParseResponse + ParseContent
func (p *Parser) Parse(ctx context.Context, raw string) (*model.CallResult, error) {
	result, err := p.ParseResponse(ctx, raw)
	if err != nil {
		return nil, err
	}
	return p.ParseContent(ctx, result)
}

// InlineCitations 提取正文中的【n】标注及其后到下一个标注之间的文字
func InlineCitations(content string) []model.Source {
	if !strings.Contains(content, "【") || !strings.Contains(content, "】") {
		return nil
	}
	matches := citationMarker.FindAllStringSubmatchIndex(content, -1)
	var out []model.Source
	for i, m := range matches {
		idx, err := strconv.Atoi(content[m[2]:m[3]])
		if err != nil {
			continue
		}
		end := len(content)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		text := content[m[1]:end]
		// 与下一个标注之间若有未闭合的【，截断到该处
		if cut := strings.Index(text, "【"); cut >= 0 {
			text = text[:cut]
		}
		text = strings.TrimSpace(text)
		if r := []rune(text); len(r) > maxCitationText {
			text = string(r[:maxCitationText])
		}
		out = append(out, model.Source{CiteIndex: idx, Snippet: text, Origin: OriginInlineCitation})
	}
	return out
}
