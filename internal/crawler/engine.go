package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/xiaopang/geoprobe/internal/core"
	"github.com/xiaopang/geoprobe/internal/logger"
	"github.com/xiaopang/geoprobe/internal/model"
)

// Caller 平台调用
type Caller interface {
	Call(ctx context.Context, params model.CallParams) (*model.CallResult, error)
}

// Engine 逐个关键词调用平台并立即保存结果
type Engine struct {
	caller        Caller
	manager       *Manager
	backoff       time.Duration
	progressEvery int
	runLogs       bool
	sleep         func(ctx context.Context, d time.Duration) error
	log           *logger.Logger
}

// EngineOption Engine 可选配置
type EngineOption func(*Engine)

// WithRunLogs 每次运行额外写入 jobs 目录下的日志文件
func WithRunLogs() EngineOption {
	return func(e *Engine) { e.runLogs = true }
}

// NewEngine 创建引擎；backoff 为无可用账号时的等待间隔
func NewEngine(caller Caller, manager *Manager, backoff time.Duration, progressEvery int, opts ...EngineOption) *Engine {
	if backoff <= 0 {
		backoff = time.Second
	}
	if progressEvery <= 0 {
		progressEvery = 10
	}
	e := &Engine{
		caller:        caller,
		manager:       manager,
		backoff:       backoff,
		progressEvery: progressEvery,
		sleep:         core.SleepContext,
		log:           logger.With("component", "crawler"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start 为任务开始新的运行并处理全部关键词
func (e *Engine) Start(ctx context.Context, jobName string) (*model.Run, error) {
	job, err := e.manager.LoadJob(jobName)
	if err != nil {
		return nil, err
	}
	run, err := e.manager.StartRun(jobName)
	if err != nil {
		return nil, err
	}
	return run, e.execute(ctx, job, run, job.Keywords)
}

// Resume 继续最近一次运行，只处理还没有结果的关键词
func (e *Engine) Resume(ctx context.Context, jobName string) (*model.Run, error) {
	job, run, err := e.manager.LatestRun(jobName)
	if err != nil {
		return nil, err
	}
	pending, err := e.manager.Unprocessed(job, run.ID)
	if err != nil {
		return nil, err
	}
	if err := e.manager.Recount(run); err != nil {
		return nil, err
	}
	if len(pending) == 0 && run.Status == model.RunCompleted {
		e.log.Info("run already complete", "job", jobName, "run", run.ID)
		return run, nil
	}
	e.log.Info("resuming run", "job", jobName, "run", run.ID, "pending", len(pending), "total", job.TotalKeywords())
	run.Status = model.RunRunning
	run.CompletedAt = nil
	return run, e.execute(ctx, job, run, pending)
}

// Rerun 忽略已有运行，从头开始新的运行
func (e *Engine) Rerun(ctx context.Context, jobName string) (*model.Run, error) {
	return e.Start(ctx, jobName)
}

// execute 处理关键词；ctx 取消时运行标记为 paused，可以之后 Resume
func (e *Engine) execute(ctx context.Context, job *model.Job, run *model.Run, keywords []string) error {
	if e.runLogs {
		closer, err := logger.OpenFile(e.manager.RunLogPath(job.Name, run.ID))
		if err != nil {
			e.log.Warn("run log unavailable", "error", err)
		} else {
			defer closer.Close()
		}
	}

	log := e.log.With("job", job.Name, "run", run.ID)
	log.Info("crawl started", "keywords", len(keywords))
	if err := e.manager.UpdateRun(run); err != nil {
		return err
	}

	for i, kw := range keywords {
		result, err := e.process(ctx, run.ID, kw)
		if err != nil {
			run.Status = model.RunPaused
			if uerr := e.manager.UpdateRun(run); uerr != nil {
				log.Error("save run failed", "error", uerr)
			}
			log.Warn("crawl interrupted", "processed", run.ProcessedKeywords, "error", err)
			return err
		}
		if err := e.manager.SaveResult(result); err != nil {
			run.Status = model.RunFailed
			_ = e.manager.UpdateRun(run)
			return err
		}

		run.ProcessedKeywords++
		if !result.Success {
			run.FailedKeywords++
		}
		if (i+1)%e.progressEvery == 0 {
			if err := e.manager.UpdateRun(run); err != nil {
				log.Error("save run failed", "error", err)
			}
			log.Info("crawl progress", "done", i+1, "of", len(keywords), "failed", run.FailedKeywords)
		}
	}

	run.Status = model.RunCompleted
	if err := e.manager.UpdateRun(run); err != nil {
		return err
	}
	log.Info("crawl completed", "processed", run.ProcessedKeywords, "failed", run.FailedKeywords)
	return nil
}

// process 调用一个关键词；无可用账号时按固定间隔无限重试，其他错误记为失败结果。
// 只有 ctx 结束时返回 error。
func (e *Engine) process(ctx context.Context, runID, keyword string) (*model.KeywordResult, error) {
	ts := time.Now()
	params := model.CallParams{Prompt: keyword, EnableSearch: true}

	for retries := 0; ; retries++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := e.caller.Call(ctx, params)
		if err == nil {
			if retries > 0 {
				e.log.Info("keyword succeeded after waiting for accounts", "keyword", keyword, "retries", retries)
			}
			return &model.KeywordResult{
				RunID:       runID,
				Keyword:     keyword,
				Timestamp:   ts,
				Success:     true,
				Content:     res.Content,
				NumSources:  len(res.Sources),
				NumRankings: len(res.Rankings),
				Rankings:    res.Rankings,
				Sources:     res.Sources,
			}, nil
		}

		var noAccount *core.NoAccountAvailableError
		switch {
		case errors.As(err, &noAccount):
			e.log.Warn("no account available, waiting", "keyword", keyword, "retry", retries+1, "backoff", e.backoff)
			if err := e.sleep(ctx, e.backoff); err != nil {
				return nil, err
			}
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			e.log.Error("keyword failed", "keyword", keyword, "error", err)
			return &model.KeywordResult{
				RunID:        runID,
				Keyword:      keyword,
				Timestamp:    ts,
				ErrorMessage: err.Error(),
				Rankings:     []model.Ranking{},
				Sources:      []model.Source{},
			}, nil
		}
	}
}
