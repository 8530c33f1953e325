package deepseek

import (
	"context"
	"errors"
	"testing"

	"github.com/xiaopang/geoprobe/internal/ranking"
)

func TestParser_ParseResponse(t *testing.T) {
	p := NewParser(nil)
	result, err := p.ParseResponse(context.Background(), testStream)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if result.Content != "Hello world" {
		t.Fatalf("Content = %q", result.Content)
	}
	if result.Reasoning != "Let me think." {
		t.Fatalf("Reasoning = %q", result.Reasoning)
	}
	if len(result.Sources) != 2 {
		t.Fatalf("Sources = %+v", result.Sources)
	}
	first := result.Sources[0]
	if first.URL != "https://a.example" || first.Title != "A" || first.Snippet != "alpha" || first.CiteIndex != 1 || first.PublishedAt != 1700000000 {
		t.Fatalf("first source = %+v", first)
	}
	if result.RawResponse != testStream {
		t.Fatal("raw response not preserved")
	}
	if result.Rankings == nil {
		t.Fatal("Rankings should be an empty slice")
	}
}

func TestParser_EdgeCases(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		content string
		sources int
	}{
		{"empty", "", "", 0},
		{"content before start ignored", "data: {\"v\":\"early\"}\n\ndata: {\"p\":\"response/content\",\"v\":\" late \"}\n", "late", 0},
		{"invalid json skipped", "data: not-json\n\ndata: {\"p\":\"response/content\",\"v\":\"x\"}\n", "x", 0},
		{"non-string values skipped", "data: {\"p\":\"response/content\",\"v\":\"a\"}\n\ndata: {\"v\":42}\n\ndata: {\"v\":\"b\"}\n", "ab", 0},
		{"search results replaced", "data: {\"p\":\"response/search_results\",\"v\":[{\"url\":\"u1\"}]}\n\ndata: {\"p\":\"response/search_results\",\"v\":[{\"url\":\"u2\"},{\"url\":\"u3\"}]}\n", "", 2},
		{"search results non-list ignored", "data: {\"p\":\"response/search_results\",\"v\":\"pending\"}\n", "", 0},
		{"indented lines", "  data: {\"p\":\"response/content\",\"v\":\"a\"}\n\n\tdata: {\"v\":\"b\"}\n\n  event: finish\n", "ab", 0},
		{"crlf lines", "data: {\"p\":\"response/content\",\"v\":\"a\"}\r\n\nevent: finish\r\ndata: {}\r\n\ndata: {\"v\":\"b\"}\n", "a", 0},
		{"finish stops", "data: {\"p\":\"response/content\",\"v\":\"a\"}\n\nevent: finish\ndata: {}\n\ndata: {\"v\":\"b\"}\n", "a", 0},
	}
	p := NewParser(nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := p.ParseResponse(context.Background(), tc.raw)
			if err != nil {
				t.Fatalf("ParseResponse: %v", err)
			}
			if result.Content != tc.content {
				t.Fatalf("Content = %q, want %q", result.Content, tc.content)
			}
			if len(result.Sources) != tc.sources {
				t.Fatalf("Sources = %d, want %d", len(result.Sources), tc.sources)
			}
		})
	}
}

type stubLLM struct {
	reply string
	err   error
}

func (s stubLLM) Complete(context.Context, string) (string, error) { return s.reply, s.err }

func TestParser_ParseWithRankings(t *testing.T) {
	p := NewParser(ranking.NewLineExtractor(stubLLM{reply: "BrandA;rank:1;source:1\nBrandB;rank:2;source:2,9"}))
	result, err := p.Parse(context.Background(), testStream)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(result.Rankings) != 2 {
		t.Fatalf("Rankings = %+v", result.Rankings)
	}
	if r := result.Rankings[0]; r.Name != "BrandA" || r.Rank != 1 || len(r.Sources) != 1 || r.Sources[0].URL != "https://a.example" {
		t.Fatalf("first ranking = %+v", r)
	}
	if r := result.Rankings[1]; len(r.Sources) != 1 || r.Sources[0].URL != "https://b.example" {
		t.Fatalf("second ranking sources = %+v", r.Sources)
	}
}

func TestParser_RankingFailureKeepsContent(t *testing.T) {
	p := NewParser(ranking.NewLineExtractor(stubLLM{err: errors.New("llm down")}))
	result, err := p.Parse(context.Background(), testStream)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.Content != "Hello world" || len(result.Rankings) != 0 || result.Rankings == nil {
		t.Fatalf("result = %+v", result)
	}
}
