// Package crawler runs keyword batches through a platform and keeps
// per-keyword results so interrupted runs can resume.
package crawler

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/xiaopang/geoprobe/internal/logger"
	"github.com/xiaopang/geoprobe/internal/model"
	"github.com/xiaopang/geoprobe/internal/store"
)

// 错误定义
var (
	ErrJobExists  = errors.New("job already exists")
	ErrNoKeywords = errors.New("job has no keywords")
	ErrNoRuns     = errors.New("job has no runs")
)

// Store 任务持久化
type Store interface {
	SaveJob(job *model.Job) error
	GetJob(name string) (*model.Job, error)
	ListJobs() ([]string, error)
	SaveRun(run *model.Run) error
	GetRun(id string) (*model.Run, error)
	SaveResult(r *model.KeywordResult) error
	ListResults(runID string) ([]*model.KeywordResult, error)
	ProcessedKeywords(runID string) (map[string]bool, error)
	BrandStats(runID, target string) ([]*model.BrandStats, error)
}

// Manager 任务和运行管理
type Manager struct {
	store   Store
	jobsDir string
	now     func() time.Time
}

// NewManager 创建任务管理器，jobsDir 存放每次运行的日志
func NewManager(s Store, jobsDir string) *Manager {
	return &Manager{store: s, jobsDir: jobsDir, now: time.Now}
}

// CreateJob 创建任务；关键词去空白、去重并保持顺序
func (m *Manager) CreateJob(name string, keywords []string, target, provider string) (*model.Job, error) {
	if _, err := m.store.GetJob(name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobExists, name)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	job := &model.Job{
		Name:          name,
		CreatedAt:     m.now(),
		Keywords:      cleanKeywords(keywords),
		TargetProduct: strings.TrimSpace(target),
		Provider:      provider,
	}
	if len(job.Keywords) == 0 {
		return nil, ErrNoKeywords
	}
	if err := m.store.SaveJob(job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}
	logger.Info("job created", "job", name, "keywords", len(job.Keywords), "provider", provider)
	return job, nil
}

// LoadJob 读取任务
func (m *Manager) LoadJob(name string) (*model.Job, error) {
	return m.store.GetJob(name)
}

// ListJobs 所有任务名
func (m *Manager) ListJobs() ([]string, error) {
	return m.store.ListJobs()
}

// EditJob 替换关键词和目标产品
func (m *Manager) EditJob(name string, keywords []string, target string) (*model.Job, error) {
	job, err := m.store.GetJob(name)
	if err != nil {
		return nil, err
	}
	job.Keywords = cleanKeywords(keywords)
	if len(job.Keywords) == 0 {
		return nil, ErrNoKeywords
	}
	job.TargetProduct = strings.TrimSpace(target)
	if err := m.store.SaveJob(job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}
	logger.Info("job edited", "job", name, "keywords", len(job.Keywords))
	return job, nil
}

// StartRun 创建新的运行
func (m *Manager) StartRun(jobName string) (*model.Run, error) {
	if _, err := m.store.GetJob(jobName); err != nil {
		return nil, err
	}
	now := m.now()
	run := &model.Run{
		ID:        fmt.Sprintf("run_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8]),
		JobName:   jobName,
		StartedAt: now,
		Status:    model.RunRunning,
	}
	if err := m.store.SaveRun(run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	logger.Info("run started", "job", jobName, "run", run.ID)
	return run, nil
}

// UpdateRun 保存运行状态；完成或失败时记录结束时间
func (m *Manager) UpdateRun(run *model.Run) error {
	if (run.Status == model.RunCompleted || run.Status == model.RunFailed) && run.CompletedAt == nil {
		t := m.now()
		run.CompletedAt = &t
	}
	return m.store.SaveRun(run)
}

// LatestRun 任务最近一次运行
func (m *Manager) LatestRun(jobName string) (*model.Job, *model.Run, error) {
	job, err := m.store.GetJob(jobName)
	if err != nil {
		return nil, nil, err
	}
	run := job.LatestRun()
	if run == nil {
		return job, nil, fmt.Errorf("%w: %s", ErrNoRuns, jobName)
	}
	return job, run, nil
}

// EndLatestRun 手动把最近一次运行标记为完成
func (m *Manager) EndLatestRun(jobName string) (*model.Run, error) {
	_, run, err := m.LatestRun(jobName)
	if err != nil {
		return nil, err
	}
	run.Status = model.RunCompleted
	run.CompletedAt = nil
	if err := m.UpdateRun(run); err != nil {
		return nil, err
	}
	logger.Info("run ended manually", "job", jobName, "run", run.ID)
	return run, nil
}

// Unprocessed 运行中尚无结果的关键词，按任务顺序
func (m *Manager) Unprocessed(job *model.Job, runID string) ([]string, error) {
	done, err := m.store.ProcessedKeywords(runID)
	if err != nil {
		return nil, err
	}
	return lo.Filter(job.Keywords, func(kw string, _ int) bool { return !done[kw] }), nil
}

// Recount 按已保存的结果重算运行的计数
func (m *Manager) Recount(run *model.Run) error {
	results, err := m.store.ListResults(run.ID)
	if err != nil {
		return err
	}
	run.ProcessedKeywords = len(results)
	run.FailedKeywords = lo.CountBy(results, func(r *model.KeywordResult) bool { return !r.Success })
	return nil
}

// SaveResult 保存关键词结果
func (m *Manager) SaveResult(r *model.KeywordResult) error {
	return m.store.SaveResult(r)
}

// Export 以 JSONL 写出运行结果，返回条数
func (m *Manager) Export(w io.Writer, runID string) (int, error) {
	results, err := m.store.ListResults(runID)
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return 0, err
		}
	}
	return len(results), bw.Flush()
}

// Stats 运行的品牌统计，目标产品会被标记
func (m *Manager) Stats(jobName, runID string) ([]*model.BrandStats, error) {
	job, err := m.store.GetJob(jobName)
	if err != nil {
		return nil, err
	}
	return m.store.BrandStats(runID, job.TargetProduct)
}

// RunLogPath 运行日志文件路径
func (m *Manager) RunLogPath(jobName, runID string) string {
	return filepath.Join(m.jobsDir, jobName, "runs", runID, "crawl.log")
}

func cleanKeywords(keywords []string) []string {
	trimmed := lo.Map(keywords, func(kw string, _ int) string { return strings.TrimSpace(kw) })
	return lo.Uniq(lo.Compact(trimmed))
}
