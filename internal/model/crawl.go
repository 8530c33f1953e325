package model

import "time"

// RunStatus 运行状态
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPaused    RunStatus = "paused"
	RunFailed    RunStatus = "failed"
)

// Job 一组关键词的采集任务
type Job struct {
	Name          string    `json:"job_name"`
	CreatedAt     time.Time `json:"created_at"`
	Keywords      []string  `json:"keywords"`
	TargetProduct string    `json:"target_product,omitempty"`
	Provider      string    `json:"provider"`
	Runs          []*Run    `json:"runs,omitempty"`
}

// TotalKeywords 关键词总数
func (j *Job) TotalKeywords() int {
	return len(j.Keywords)
}

// LatestRun 最近一次运行
func (j *Job) LatestRun() *Run {
	if len(j.Runs) == 0 {
		return nil
	}
	return j.Runs[len(j.Runs)-1]
}

// Run 任务的一次运行
type Run struct {
	ID                string     `json:"run_id"`
	JobName           string     `json:"job_name"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	Status            RunStatus  `json:"status"`
	ProcessedKeywords int        `json:"processed_keywords"`
	FailedKeywords    int        `json:"failed_keywords"`
}

// KeywordResult 单个关键词的采集结果
type KeywordResult struct {
	RunID        string    `json:"run_id"`
	Keyword      string    `json:"keyword"`
	Timestamp    time.Time `json:"timestamp"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Content      string    `json:"content"`
	NumSources   int       `json:"num_sources"`
	NumRankings  int       `json:"num_rankings"`
	Rankings     []Ranking `json:"rankings"`
	Sources      []Source  `json:"sources"`
}

// BrandStats 某次运行中某品牌的统计
type BrandStats struct {
	Name     string  `json:"name"`
	Mentions int     `json:"mentions"`
	Keywords int     `json:"keywords"`
	AvgRank  float64 `json:"avg_rank"`
	BestRank int     `json:"best_rank"`
	IsTarget bool    `json:"is_target,omitempty"`
}
