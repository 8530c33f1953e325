package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaopang/geoprobe/internal/model"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// Store 数据存储
type Store struct {
	db *sql.DB
}

// New 创建存储实例
func New(dbPath string) (*Store, error) {
	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

// migrate 数据库迁移
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		call_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		provider TEXT NOT NULL,
		account_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		success INTEGER NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		wait_ms INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		num_sources INTEGER NOT NULL DEFAULT 0,
		num_rankings INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_timestamp ON attempts(timestamp);
	CREATE INDEX IF NOT EXISTS idx_attempts_account ON attempts(provider, account_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_call ON attempts(call_id);

	CREATE TABLE IF NOT EXISTS jobs (
		name TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		keywords TEXT NOT NULL,
		target_product TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		job_name TEXT NOT NULL REFERENCES jobs(name),
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL,
		processed_keywords INTEGER NOT NULL DEFAULT 0,
		failed_keywords INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(job_name, started_at);

	CREATE TABLE IF NOT EXISTS results (
		run_id TEXT NOT NULL REFERENCES runs(id),
		keyword TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		success INTEGER NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		num_sources INTEGER NOT NULL DEFAULT 0,
		num_rankings INTEGER NOT NULL DEFAULT 0,
		rankings TEXT NOT NULL DEFAULT '[]',
		sources TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (run_id, keyword)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// === Attempts ===

// SaveAttempt 保存一次调用尝试
func (s *Store) SaveAttempt(log *model.AttemptLog) error {
	_, err := s.db.Exec(`
		INSERT INTO attempts (id, call_id, timestamp, provider, account_id, attempt,
			success, error_kind, error, wait_ms, latency_ms, num_sources, num_rankings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, log.ID, log.CallID, log.Timestamp.UTC(), log.Provider, log.AccountID, log.Attempt,
		log.Success, log.ErrorKind, log.Error, log.WaitMs, log.LatencyMs, log.NumSources, log.NumRankings)
	return err
}

// QueryAttempts 查询尝试记录，按时间倒序
func (s *Store) QueryAttempts(query *model.AttemptQuery) ([]*model.AttemptLog, error) {
	q := `SELECT id, call_id, timestamp, provider, account_id, attempt, success, error_kind, error,
		wait_ms, latency_ms, num_sources, num_rankings FROM attempts WHERE 1=1`
	args := []any{}

	if query.Provider != "" {
		q += " AND provider = ?"
		args = append(args, query.Provider)
	}
	if query.AccountID != "" {
		q += " AND account_id = ?"
		args = append(args, query.AccountID)
	}
	if query.CallID != "" {
		q += " AND call_id = ?"
		args = append(args, query.CallID)
	}
	if query.Success != nil {
		q += " AND success = ?"
		args = append(args, *query.Success)
	}
	if !query.StartTime.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, query.StartTime.UTC())
	}
	if !query.EndTime.IsZero() {
		q += " AND timestamp <= ?"
		args = append(args, query.EndTime.UTC())
	}

	q += " ORDER BY timestamp DESC, attempt DESC"

	if query.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", query.Limit)
	} else {
		q += " LIMIT 100"
	}
	if query.Offset > 0 {
		q += fmt.Sprintf(" OFFSET %d", query.Offset)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*model.AttemptLog
	for rows.Next() {
		var l model.AttemptLog
		if err := rows.Scan(&l.ID, &l.CallID, &l.Timestamp, &l.Provider, &l.AccountID, &l.Attempt,
			&l.Success, &l.ErrorKind, &l.Error, &l.WaitMs, &l.LatencyMs, &l.NumSources, &l.NumRankings); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// AccountStats 最近 days 天内每个账号的统计
func (s *Store) AccountStats(days int) ([]*model.AccountStats, error) {
	rows, err := s.db.Query(`
		SELECT
			a.provider,
			a.account_id,
			COUNT(*) AS attempt_count,
			ROUND(SUM(CASE WHEN a.success = 1 THEN 1 ELSE 0 END) * 100.0 / COUNT(*), 2) AS success_rate,
			ROUND(AVG(a.latency_ms), 2) AS avg_latency,
			COALESCE((
				SELECT e.error FROM attempts e
				WHERE e.provider = a.provider AND e.account_id = a.account_id AND e.success = 0
				ORDER BY e.timestamp DESC LIMIT 1
			), '') AS last_error
		FROM attempts a
		WHERE a.timestamp >= ?
		GROUP BY a.provider, a.account_id
		ORDER BY a.provider, a.account_id
	`, cutoff(days))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*model.AccountStats
	for rows.Next() {
		var st model.AccountStats
		if err := rows.Scan(&st.Provider, &st.AccountID, &st.AttemptCount, &st.SuccessRate, &st.AvgLatency, &st.LastError); err != nil {
			return nil, err
		}
		stats = append(stats, &st)
	}
	return stats, rows.Err()
}

// CleanOldAttempts 清理过期的尝试记录
func (s *Store) CleanOldAttempts(retentionDays int) (int64, error) {
	result, err := s.db.Exec("DELETE FROM attempts WHERE timestamp < ?", cutoff(retentionDays))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func cutoff(days int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -days)
}

// === Jobs / Runs ===

// SaveJob 创建或更新任务
func (s *Store) SaveJob(job *model.Job) error {
	keywords, err := json.Marshal(job.Keywords)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO jobs (name, created_at, keywords, target_product, provider)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			keywords = excluded.keywords,
			target_product = excluded.target_product,
			provider = excluded.provider
	`, job.Name, job.CreatedAt.UTC(), string(keywords), job.TargetProduct, job.Provider)
	return err
}

// GetJob 获取任务及其所有运行（按开始时间排序）
func (s *Store) GetJob(name string) (*model.Job, error) {
	row := s.db.QueryRow(`SELECT name, created_at, keywords, target_product, provider FROM jobs WHERE name = ?`, name)

	var job model.Job
	var keywords string
	if err := row.Scan(&job.Name, &job.CreatedAt, &keywords, &job.TargetProduct, &job.Provider); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", name, ErrNotFound)
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(keywords), &job.Keywords); err != nil {
		return nil, fmt.Errorf("job %s keywords: %w", name, err)
	}

	runs, err := s.listRuns(name)
	if err != nil {
		return nil, err
	}
	job.Runs = runs
	return &job, nil
}

// ListJobs 列出所有任务名
func (s *Store) ListJobs() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM jobs ORDER BY created_at, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SaveRun 创建或更新运行
func (s *Store) SaveRun(run *model.Run) error {
	var completed any
	if run.CompletedAt != nil {
		completed = run.CompletedAt.UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, job_name, started_at, completed_at, status, processed_keywords, failed_keywords)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			completed_at = excluded.completed_at,
			status = excluded.status,
			processed_keywords = excluded.processed_keywords,
			failed_keywords = excluded.failed_keywords
	`, run.ID, run.JobName, run.StartedAt.UTC(), completed, run.Status, run.ProcessedKeywords, run.FailedKeywords)
	return err
}

// GetRun 获取运行
func (s *Store) GetRun(id string) (*model.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, job_name, started_at, completed_at, status, processed_keywords, failed_keywords
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

func (s *Store) listRuns(jobName string) ([]*model.Run, error) {
	rows, err := s.db.Query(`
		SELECT id, job_name, started_at, completed_at, status, processed_keywords, failed_keywords
		FROM runs WHERE job_name = ? ORDER BY started_at, rowid
	`, jobName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var completed sql.NullTime
	var status string
	if err := row.Scan(&run.ID, &run.JobName, &run.StartedAt, &completed, &status,
		&run.ProcessedKeywords, &run.FailedKeywords); err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}
	return &run, nil
}

// === Results ===

// SaveResult 保存关键词结果，同一运行内同一关键词覆盖
func (s *Store) SaveResult(r *model.KeywordResult) error {
	rankings, err := json.Marshal(nonNilRankings(r.Rankings))
	if err != nil {
		return err
	}
	sources, err := json.Marshal(nonNilSources(r.Sources))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO results (run_id, keyword, timestamp, success, error_message, content,
			num_sources, num_rankings, rankings, sources)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, r.Keyword, r.Timestamp.UTC(), r.Success, r.ErrorMessage, r.Content,
		r.NumSources, r.NumRankings, string(rankings), string(sources))
	return err
}

// ListResults 运行的全部结果，按写入顺序
func (s *Store) ListResults(runID string) ([]*model.KeywordResult, error) {
	rows, err := s.db.Query(`
		SELECT run_id, keyword, timestamp, success, error_message, content,
			num_sources, num_rankings, rankings, sources
		FROM results WHERE run_id = ? ORDER BY timestamp, rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.KeywordResult
	for rows.Next() {
		var r model.KeywordResult
		var rankings, sources string
		if err := rows.Scan(&r.RunID, &r.Keyword, &r.Timestamp, &r.Success, &r.ErrorMessage, &r.Content,
			&r.NumSources, &r.NumRankings, &rankings, &sources); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rankings), &r.Rankings); err != nil {
			return nil, fmt.Errorf("result %s rankings: %w", r.Keyword, err)
		}
		if err := json.Unmarshal([]byte(sources), &r.Sources); err != nil {
			return nil, fmt.Errorf("result %s sources: %w", r.Keyword, err)
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// ProcessedKeywords 运行中已有结果的关键词（成功或失败）
func (s *Store) ProcessedKeywords(runID string) (map[string]bool, error) {
	rows, err := s.db.Query("SELECT keyword FROM results WHERE run_id = ?", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var kw string
		if err := rows.Scan(&kw); err != nil {
			return nil, err
		}
		done[kw] = true
	}
	return done, rows.Err()
}

// BrandStats 统计运行中成功结果里各品牌的提及次数和排名
func (s *Store) BrandStats(runID, target string) ([]*model.BrandStats, error) {
	rows, err := s.db.Query(`
		SELECT
			json_extract(j.value, '$.name') AS name,
			COUNT(*) AS mentions,
			COUNT(DISTINCT r.keyword) AS keywords,
			ROUND(AVG(json_extract(j.value, '$.rank')), 2) AS avg_rank,
			MIN(json_extract(j.value, '$.rank')) AS best_rank
		FROM results r, json_each(r.rankings) j
		WHERE r.run_id = ? AND r.success = 1 AND json_extract(j.value, '$.name') IS NOT NULL
		GROUP BY name
		ORDER BY mentions DESC, avg_rank ASC, name ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*model.BrandStats
	for rows.Next() {
		var st model.BrandStats
		if err := rows.Scan(&st.Name, &st.Mentions, &st.Keywords, &st.AvgRank, &st.BestRank); err != nil {
			return nil, err
		}
		st.IsTarget = target != "" && st.Name == target
		stats = append(stats, &st)
	}
	return stats, rows.Err()
}

func nonNilRankings(r []model.Ranking) []model.Ranking {
	if r == nil {
		return []model.Ranking{}
	}
	return r
}

func nonNilSources(s []model.Source) []model.Source {
	if s == nil {
		return []model.Source{}
	}
	return s
}
