package deepseek

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/xiaopang/geoprobe/internal/model"
	"github.com/xiaopang/geoprobe/internal/ranking"
)

const (
	pathContent       = "response/content"
	pathThinking      = "response/thinking_content"
	pathSearchResults = "response/search_results"
)

// Parser 解析 completion 的 SSE 文本
type Parser struct {
	extractor *ranking.Extractor
}

// NewParser 创建解析器，extractor 为 nil 时不提取排名
func NewParser(extractor *ranking.Extractor) *Parser {
	return &Parser{extractor: extractor}
}

type chunk struct {
	P string          `json:"p"`
	V json.RawMessage `json:"v"`
}

// ParseResponse 从事件流中提取正文、思考过程和搜索来源
func (p *Parser) ParseResponse(_ context.Context, raw string) (*model.CallResult, error) {
	result := &model.CallResult{
		RawResponse: raw,
		Sources:     []model.Source{},
		Rankings:    []model.Ranking{},
	}

	var content, reasoning strings.Builder
	mode := ""

events:
	for _, block := range strings.Split(strings.TrimSpace(raw), "\n\n") {
		event, data := "", ""
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
		if event == "finish" {
			break events
		}
		if data == "" || data == "{}" {
			continue
		}

		var c chunk
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			continue
		}

		if c.P == pathSearchResults {
			var items []map[string]any
			if err := json.Unmarshal(c.V, &items); err == nil {
				result.Sources = decodeSources(items)
			}
			continue
		}

		switch c.P {
		case pathContent:
			mode = pathContent
		case pathThinking:
			if mode != pathContent {
				mode = pathThinking
			}
		}

		var text string
		if err := json.Unmarshal(c.V, &text); err != nil {
			continue
		}
		if c.P != "" && c.P != mode {
			continue
		}
		switch mode {
		case pathContent:
			content.WriteString(text)
		case pathThinking:
			reasoning.WriteString(text)
		}
	}

	result.Content = strings.TrimSpace(content.String())
	result.Reasoning = strings.TrimSpace(reasoning.String())
	return result, nil
}

// ParseContent 提取排名；提取失败时排名为空
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

func decodeSources(items []map[string]any) []model.Source {
	sources := make([]model.Source, 0, len(items))
	for _, item := range items {
		sources = append(sources, model.Source{
			URL:         stringField(item, "url"),
			Title:       stringField(item, "title"),
			Snippet:     stringField(item, "snippet"),
			SiteName:    stringField(item, "site_name"),
			CiteIndex:   int(numberField(item, "cite_index")),
			PublishedAt: int64(numberField(item, "published_at")),
		})
	}
	return sources
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func numberField(m map[string]any, key string) float64 {
	n, _ := m[key].(float64)
	return n
}
