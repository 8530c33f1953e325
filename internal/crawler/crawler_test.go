package crawler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xiaopang/geoprobe/internal/core"
	"github.com/xiaopang/geoprobe/internal/model"
	"github.com/xiaopang/geoprobe/internal/store"
)

type fakeCaller struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, keyword string, n int) (*model.CallResult, error)
}

func (c *fakeCaller) Call(ctx context.Context, params model.CallParams) (*model.CallResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, params.Prompt)
	n := len(c.calls)
	c.mu.Unlock()
	return c.fn(ctx, params.Prompt, n)
}

func okResult(keyword string) *model.CallResult {
	return &model.CallResult{
		Content:  "answer for " + keyword,
		Sources:  []model.Source{{URL: "https://a.example"}},
		Rankings: []model.Ranking{{Name: "华为", Rank: 1}, {Name: "小米", Rank: 2}},
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "crawl.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewManager(s, t.TempDir())
}

func newTestEngine(m *Manager, c Caller, opts ...EngineOption) (*Engine, *[]time.Duration) {
	e := NewEngine(c, m, time.Second, 2, opts...)
	var slept []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return e, &slept
}

func TestManager_CreateJob(t *testing.T) {
	m := newTestManager(t)

	job, err := m.CreateJob("phones", []string{" best phone ", "", "cheap phone", "best phone"}, " 华为 ", "deepseek")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if len(job.Keywords) != 2 || job.Keywords[0] != "best phone" || job.TargetProduct != "华为" {
		t.Fatalf("job = %+v", job)
	}
	if _, err := m.CreateJob("phones", []string{"x"}, "", "deepseek"); !errors.Is(err, ErrJobExists) {
		t.Fatalf("duplicate err = %v", err)
	}
	if _, err := m.CreateJob("empty", []string{" ", ""}, "", "deepseek"); !errors.Is(err, ErrNoKeywords) {
		t.Fatalf("empty err = %v", err)
	}

	edited, err := m.EditJob("phones", []string{"a", "b", "c"}, "小米")
	if err != nil {
		t.Fatalf("EditJob: %v", err)
	}
	if edited.TotalKeywords() != 3 || edited.TargetProduct != "小米" {
		t.Fatalf("edited = %+v", edited)
	}
}

func TestEngine_StartWithPartialFailure(t *testing.T) {
	m := newTestManager(t)
	m.CreateJob("phones", []string{"k1", "k2", "k3"}, "华为", "deepseek")

	caller := &fakeCaller{fn: func(_ context.Context, kw string, _ int) (*model.CallResult, error) {
		if kw == "k2" {
			return nil, &core.AllRetriesFailedError{Attempts: 3, LastErr: errors.New("boom")}
		}
		return okResult(kw), nil
	}}
	e, _ := newTestEngine(m, caller)

	run, err := e.Start(context.Background(), "phones")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Status != model.RunCompleted || run.CompletedAt == nil {
		t.Fatalf("run = %+v", run)
	}
	if run.ProcessedKeywords != 3 || run.FailedKeywords != 1 {
		t.Fatalf("counts = %d/%d", run.ProcessedKeywords, run.FailedKeywords)
	}

	var buf bytes.Buffer
	n, err := m.Export(&buf, run.ID)
	if err != nil || n != 3 {
		t.Fatalf("Export = %d, %v", n, err)
	}
	var results []model.KeywordResult
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var r model.KeywordResult
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("jsonl line: %v", err)
		}
		results = append(results, r)
	}
	if len(results) != 3 || results[1].Success || results[1].ErrorMessage == "" || results[0].NumRankings != 2 {
		t.Fatalf("results = %+v", results)
	}

	stats, err := m.Stats("phones", run.ID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 2 || stats[0].Mentions != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	for _, st := range stats {
		if st.IsTarget != (st.Name == "华为") {
			t.Fatalf("target flag wrong: %+v", st)
		}
	}
}

func TestEngine_NoAccountBackoff(t *testing.T) {
	m := newTestManager(t)
	m.CreateJob("phones", []string{"k1"}, "", "deepseek")

	caller := &fakeCaller{fn: func(_ context.Context, kw string, n int) (*model.CallResult, error) {
		if n <= 3 {
			return nil, &core.NoAccountAvailableError{}
		}
		return okResult(kw), nil
	}}
	e, slept := newTestEngine(m, caller)

	run, err := e.Start(context.Background(), "phones")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(caller.calls) != 4 || len(*slept) != 3 || (*slept)[0] != time.Second {
		t.Fatalf("calls = %d, sleeps = %v", len(caller.calls), *slept)
	}
	if run.FailedKeywords != 0 {
		t.Fatalf("NoAccountAvailable must not count as failure: %+v", run)
	}
}

func TestEngine_PauseAndResume(t *testing.T) {
	m := newTestManager(t)
	m.CreateJob("phones", []string{"k1", "k2", "k3"}, "", "deepseek")

	ctx, cancel := context.WithCancel(context.Background())
	interrupting := &fakeCaller{fn: func(ctx context.Context, kw string, _ int) (*model.CallResult, error) {
		if kw == "k2" {
			cancel()
			return nil, ctx.Err()
		}
		return okResult(kw), nil
	}}
	e, _ := newTestEngine(m, interrupting)

	run, err := e.Start(ctx, "phones")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Start err = %v", err)
	}
	saved, _ := m.store.GetRun(run.ID)
	if saved.Status != model.RunPaused || saved.ProcessedKeywords != 1 {
		t.Fatalf("paused run = %+v", saved)
	}

	resumer := &fakeCaller{fn: func(_ context.Context, kw string, _ int) (*model.CallResult, error) {
		return okResult(kw), nil
	}}
	e2, _ := newTestEngine(m, resumer)
	resumed, err := e2.Resume(context.Background(), "phones")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.ID != run.ID || resumed.Status != model.RunCompleted || resumed.ProcessedKeywords != 3 {
		t.Fatalf("resumed = %+v", resumed)
	}
	if len(resumer.calls) != 2 || resumer.calls[0] != "k2" || resumer.calls[1] != "k3" {
		t.Fatalf("resume calls = %v", resumer.calls)
	}

	again, err := e2.Resume(context.Background(), "phones")
	if err != nil || again.ID != run.ID || len(resumer.calls) != 2 {
		t.Fatalf("resume of completed run should be a no-op: %+v, %v", again, err)
	}
}

func TestEngine_RerunStartsNewRun(t *testing.T) {
	m := newTestManager(t)
	m.CreateJob("phones", []string{"k1"}, "", "deepseek")
	caller := &fakeCaller{fn: func(_ context.Context, kw string, _ int) (*model.CallResult, error) {
		return okResult(kw), nil
	}}
	e, _ := newTestEngine(m, caller)

	first, err := e.Start(context.Background(), "phones")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	second, err := e.Rerun(context.Background(), "phones")
	if err != nil {
		t.Fatalf("Rerun: %v", err)
	}
	if first.ID == second.ID || len(caller.calls) != 2 {
		t.Fatalf("rerun reused run %s", first.ID)
	}
	job, _ := m.LoadJob("phones")
	if len(job.Runs) != 2 || job.LatestRun().ID != second.ID {
		t.Fatalf("runs = %+v", job.Runs)
	}
}

func TestEngine_ResumeWithoutRuns(t *testing.T) {
	m := newTestManager(t)
	m.CreateJob("phones", []string{"k1"}, "", "deepseek")
	e, _ := newTestEngine(m, &fakeCaller{})

	if _, err := e.Resume(context.Background(), "phones"); !errors.Is(err, ErrNoRuns) {
		t.Fatalf("err = %v, want ErrNoRuns", err)
	}
}

func TestEngine_RunLogFile(t *testing.T) {
	m := newTestManager(t)
	m.CreateJob("phones", []string{"k1"}, "", "deepseek")
	caller := &fakeCaller{fn: func(_ context.Context, kw string, _ int) (*model.CallResult, error) {
		return okResult(kw), nil
	}}
	e, _ := newTestEngine(m, caller, WithRunLogs())

	run, err := e.Start(context.Background(), "phones")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	data, err := os.ReadFile(m.RunLogPath("phones", run.ID))
	if err != nil {
		t.Fatalf("run log: %v", err)
	}
	if !bytes.Contains(data, []byte("crawl completed")) {
		t.Fatalf("run log = %q", data)
	}
}

func TestManager_EndLatestRun(t *testing.T) {
	m := newTestManager(t)
	m.CreateJob("phones", []string{"k1"}, "", "deepseek")
	if _, err := m.EndLatestRun("phones"); !errors.Is(err, ErrNoRuns) {
		t.Fatalf("err = %v", err)
	}
	run, _ := m.StartRun("phones")
	ended, err := m.EndLatestRun("phones")
	if err != nil {
		t.Fatalf("EndLatestRun: %v", err)
	}
	if ended.ID != run.ID || ended.Status != model.RunCompleted || ended.CompletedAt == nil {
		t.Fatalf("ended = %+v", ended)
	}
}
