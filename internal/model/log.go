package model

import "time"

// AttemptLog 一次调用尝试的记录
type AttemptLog struct {
	ID        string    `json:"id"`
	CallID    string    `json:"call_id"`
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
	AccountID string    `json:"account_id"`
	Attempt   int       `json:"attempt"`

	Success   bool   `json:"success"`
	ErrorKind string `json:"error_kind,omitempty"` // token_expired | banned | rate_limited | api_error | ...
	Error     string `json:"error,omitempty"`

	WaitMs    int64 `json:"wait_ms"`
	LatencyMs int64 `json:"latency_ms"`

	NumSources  int `json:"num_sources"`
	NumRankings int `json:"num_rankings"`
}

// AttemptQuery 尝试记录查询参数
type AttemptQuery struct {
	Provider  string    `form:"provider"`
	AccountID string    `form:"account_id"`
	CallID    string    `form:"call_id"`
	Success   *bool     `form:"success"`
	StartTime time.Time `form:"start_time"`
	EndTime   time.Time `form:"end_time"`
	Limit     int       `form:"limit"`
	Offset    int       `form:"offset"`
}

// AccountStats 账号统计
type AccountStats struct {
	Provider     string  `json:"provider"`
	AccountID    string  `json:"account_id"`
	AttemptCount int     `json:"attempt_count"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatency   float64 `json:"avg_latency_ms"`
	LastError    string  `json:"last_error,omitempty"`
}
