// Package ranking extracts brand rankings from answer text with an
// auxiliary LLM.
package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xiaopang/geoprobe/internal/logger"
	"github.com/xiaopang/geoprobe/internal/model"
)

// Completer sends a single prompt to a chat model and returns its reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Extractor turns answer content into rankings.
type Extractor struct {
	llm    Completer
	prompt string
	parse  func(reply string, sources []model.Source) ([]model.Ranking, error)
	log    *logger.Logger
}

// NewLineExtractor uses the "name;rank:N;source:i,j" line format, with
// 1-based indices into the answer's sources.
func NewLineExtractor(llm Completer) *Extractor {
	return &Extractor{
		llm:    llm,
		prompt: linePrompt,
		parse: func(reply string, sources []model.Source) ([]model.Ranking, error) {
			return ParseLines(reply, sources), nil
		},
		log: logger.With("component", "ranking"),
	}
}

// NewJSONExtractor asks for a JSON array of {rank, name, reason}.
func NewJSONExtractor(llm Completer) *Extractor {
	return &Extractor{
		llm:    llm,
		prompt: jsonPrompt,
		parse: func(reply string, _ []model.Source) ([]model.Ranking, error) {
			return ParseJSON(reply)
		},
		log: logger.With("component", "ranking"),
	}
}

// Enabled reports whether an extraction model is configured.
func (e *Extractor) Enabled() bool {
	return e != nil && e.llm != nil
}

// Prompt renders the extraction prompt for content.
func (e *Extractor) Prompt(content string) string {
	return fmt.Sprintf(e.prompt, content)
}

// Extract calls the model and parses its reply.
func (e *Extractor) Extract(ctx context.Context, content string, sources []model.Source) ([]model.Ranking, error) {
	reply, err := e.llm.Complete(ctx, e.Prompt(content))
	if err != nil {
		return nil, fmt.Errorf("ranking llm: %w", err)
	}
	e.log.Debug("ranking llm reply", "reply", reply)
	return e.parse(reply, sources)
}

// Apply fills result.Rankings. Without a model or content the result is
// returned unchanged; extraction failures leave Rankings empty.
func (e *Extractor) Apply(ctx context.Context, result *model.CallResult) *model.CallResult {
	if !e.Enabled() {
		return result
	}
	if result.Content == "" {
		return result
	}
	rankings, err := e.Extract(ctx, result.Content, result.Sources)
	if err != nil {
		e.log.Warn("ranking extraction failed", "error", err)
		return result
	}
	result.Rankings = rankings
	return result
}

// ParseLines parses "name;rank:N;source:i,j" lines. Lines without a name
// or an integer rank are skipped; out-of-range source indices are dropped.
func ParseLines(text string, sources []model.Source) []model.Ranking {
	log := logger.With("component", "ranking")
	var rankings []model.Ranking

	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ";")
		if len(parts) < 2 {
			log.Warn("invalid ranking line", "line", line)
			continue
		}

		r := model.Ranking{Name: strings.TrimSpace(parts[0])}
		hasRank := false
		for _, part := range parts[1:] {
			key, value, ok := strings.Cut(strings.TrimSpace(part), ":")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			switch strings.TrimSpace(key) {
			case "rank":
				n, err := strconv.Atoi(value)
				if err != nil {
					log.Warn("invalid rank value", "value", value)
					continue
				}
				r.Rank, hasRank = n, true
			case "source":
				r.Sources = resolveSources(value, sources, log)
			}
		}
		if r.Name == "" || !hasRank {
			continue
		}
		rankings = append(rankings, r)
	}
	return rankings
}

func resolveSources(value string, sources []model.Source, log *logger.Logger) []model.Source {
	out := []model.Source{}
	for _, s := range strings.Split(value, ",") {
		idx, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			log.Warn("invalid source index", "value", s)
			continue
		}
		if idx < 1 || idx > len(sources) {
			log.Warn("source index out of range", "index", idx, "sources", len(sources))
			continue
		}
		out = append(out, sources[idx-1])
	}
	return out
}

// ParseJSON parses the first JSON array found in text.
func ParseJSON(text string) ([]model.Ranking, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 {
		return nil, nil
	}
	if end < start {
		return nil, errors.New("parse ranking json: unterminated array")
	}
	var items []struct {
		Rank   any    `json:"rank"`
		Name   string `json:"name"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("parse ranking json: %w", err)
	}
	rankings := make([]model.Ranking, 0, len(items))
	for _, it := range items {
		n, ok := toRank(it.Rank)
		if !ok || strings.TrimSpace(it.Name) == "" {
			continue
		}
		rankings = append(rankings, model.Ranking{Name: strings.TrimSpace(it.Name), Rank: n, Reason: it.Reason})
	}
	return rankings, nil
}

func toRank(v any) (int, bool) {
	switch r := v.(type) {
	case float64:
		return int(r), r == float64(int(r))
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(r))
		return n, err == nil
	default:
		return 0, false
	}
}
