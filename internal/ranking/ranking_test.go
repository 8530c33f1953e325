package ranking

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/xiaopang/geoprobe/internal/model"
)

type stubLLM struct {
	reply  string
	err    error
	prompt string
	calls  int
}

func (s *stubLLM) Complete(_ context.Context, prompt string) (string, error) {
	s.calls++
	s.prompt = prompt
	return s.reply, s.err
}

var (
	srcA = model.Source{URL: "https://a.example", Title: "A"}
	srcB = model.Source{URL: "https://b.example", Title: "B"}
)

func TestParseLines(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []model.Ranking
	}{
		{
			name: "name rank and sources",
			text: "Acme Corp;rank:1;source:1,2",
			want: []model.Ranking{{Name: "Acme Corp", Rank: 1, Sources: []model.Source{srcA, srcB}}},
		},
		{
			name: "missing rank skipped",
			text: "Acme Corp;source:1\nBeta;rank:2",
			want: []model.Ranking{{Name: "Beta", Rank: 2}},
		},
		{
			name: "out of range source dropped",
			text: "Acme;rank:1;source:0,2,7",
			want: []model.Ranking{{Name: "Acme", Rank: 1, Sources: []model.Source{srcB}}},
		},
		{
			name: "non numeric rank skipped",
			text: "Acme;rank:first",
			want: nil,
		},
		{
			name: "tied ranks and blank lines",
			text: "\n  A;rank:1\n\nB ; rank: 1 ; source: 1 \nC;rank:2\n",
			want: []model.Ranking{
				{Name: "A", Rank: 1},
				{Name: "B", Rank: 1, Sources: []model.Source{srcA}},
				{Name: "C", Rank: 2},
			},
		},
		{
			name: "no separator",
			text: "just some text",
			want: nil,
		},
		{
			name: "empty name",
			text: ";rank:1",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLines(tt.text, []model.Source{srcA, srcB})
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ParseLines = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	got, err := ParseJSON("好的：\n```json\n[{\"rank\": 1, \"name\": \"Acme\", \"reason\": \"cheap\"}, {\"rank\": \"x\", \"name\": \"Bad\"}, {\"rank\": 2, \"name\": \"Beta\"}]\n```")
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	want := []model.Ranking{{Name: "Acme", Rank: 1, Reason: "cheap"}, {Name: "Beta", Rank: 2}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseJSON = %+v", got)
	}

	if got, err := ParseJSON("没有排名"); err != nil || got != nil {
		t.Fatalf("no array = %v, %v", got, err)
	}
	if _, err := ParseJSON("[{broken"); err == nil {
		t.Fatal("broken json should error")
	}
	if _, err := ParseJSON("排名如下：[{\"rank\": 1, \"name\": \"Acme\"}, {\"rank\": 2"); err == nil {
		t.Fatal("truncated array should error")
	}
	if _, err := ParseJSON("[1, 2]]"); err == nil {
		t.Fatal("mismatched json should error")
	}
}

func TestExtractor_Apply(t *testing.T) {
	llm := &stubLLM{reply: "Acme;rank:1;source:2"}
	e := NewLineExtractor(llm)

	result := &model.CallResult{Content: "Acme is best [citation:2]", Sources: []model.Source{srcA, srcB}}
	got := e.Apply(context.Background(), result)

	if len(got.Rankings) != 1 || got.Rankings[0].Sources[0] != srcB {
		t.Fatalf("rankings = %+v", got.Rankings)
	}
	if !strings.Contains(llm.prompt, "Acme is best [citation:2]") || !strings.Contains(llm.prompt, "rank:排名") {
		t.Fatalf("prompt = %q", llm.prompt)
	}
}

func TestExtractor_ApplySkipsAndSwallows(t *testing.T) {
	result := &model.CallResult{Content: "text"}
	var nilExtractor *Extractor
	if got := nilExtractor.Apply(context.Background(), result); got != result || got.Rankings != nil {
		t.Fatal("nil extractor should return input unchanged")
	}

	llm := &stubLLM{reply: "A;rank:1"}
	NewLineExtractor(llm).Apply(context.Background(), &model.CallResult{})
	if llm.calls != 0 {
		t.Fatal("empty content should not call the model")
	}

	failing := NewLineExtractor(&stubLLM{err: errors.New("boom")})
	got := failing.Apply(context.Background(), &model.CallResult{Content: "text"})
	if got.Rankings != nil {
		t.Fatalf("rankings = %+v, want none", got.Rankings)
	}

	broken := NewJSONExtractor(&stubLLM{reply: "[oops"})
	if got := broken.Apply(context.Background(), &model.CallResult{Content: "text"}); got.Rankings != nil {
		t.Fatalf("rankings = %+v, want none", got.Rankings)
	}
}
