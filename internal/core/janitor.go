package core

import (
	"context"
	"sync"
	"time"

	"github.com/xiaopang/geoprobe/internal/logger"
)

// DefaultJanitorInterval 后台维护任务默认间隔
const DefaultJanitorInterval = 10 * time.Minute

type janitorTask struct {
	name string
	fn   func(ctx context.Context) error
}

// Janitor 周期性执行维护任务（清理过期记录、限流窗口等）
type Janitor struct {
	interval time.Duration
	tasks    []janitorTask
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	log      *logger.Logger
}

// NewJanitor 创建维护器，interval <= 0 时使用默认值
func NewJanitor(interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	return &Janitor{
		interval: interval,
		log:      logger.With("component", "janitor"),
	}
}

// Add 注册任务，须在 Start 之前调用
func (j *Janitor) Add(name string, fn func(ctx context.Context) error) {
	j.tasks = append(j.tasks, janitorTask{name: name, fn: fn})
}

// Start 启动后台循环，启动时立即执行一次
func (j *Janitor) Start() {
	if len(j.tasks) == 0 {
		return
	}
	j.ctx, j.cancel = context.WithCancel(context.Background())
	j.wg.Add(1)
	go j.run()
}

// Stop 停止并等待当前任务结束
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

func (j *Janitor) run() {
	defer j.wg.Done()

	j.runAll()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.runAll()
		}
	}
}

func (j *Janitor) runAll() {
	for _, t := range j.tasks {
		if j.ctx.Err() != nil {
			return
		}
		if err := t.fn(j.ctx); err != nil {
			j.log.Warn("maintenance task failed", "task", t.name, "error", err)
		}
	}
}
