package core

import (
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/xiaopang/geoprobe/internal/logger"
	"github.com/xiaopang/geoprobe/internal/model"
)

// SimplePool 账号池：互斥占用 + 滑动窗口限流 + 健康状态
//
// 所有变更都在 mu 下完成；调用方拿到的是快照，写操作按 ID 回到池内实例。
type SimplePool struct {
	mu       sync.Mutex
	accounts []*model.Account // 配置顺序，决定同等等待时间下的选择顺序
	index    map[string]*model.Account
	limit    model.RateLimitConfig
	recovery model.RecoveryPolicy
	storage  TokenStorage
	now      func() time.Time
	log      *logger.Logger
}

// NewSimplePool 创建账号池，storage 可以为 nil
func NewSimplePool(accounts []*model.Account, limit model.RateLimitConfig, recovery model.RecoveryPolicy, storage TokenStorage) *SimplePool {
	p := &SimplePool{
		index:    make(map[string]*model.Account, len(accounts)),
		limit:    limit,
		recovery: recovery,
		storage:  storage,
		now:      time.Now,
		log:      logger.With("component", "pool"),
	}
	for _, acc := range accounts {
		if _, dup := p.index[acc.ID]; dup {
			p.log.Warn("duplicate account ignored", "account", acc.ID)
			continue
		}
		if acc.Status == "" {
			acc.Status = model.StatusNeedLogin
			if acc.HasToken() {
				acc.Status = model.StatusLoggedIn
			}
		}
		p.accounts = append(p.accounts, acc)
		p.index[acc.ID] = acc
	}
	return p
}

// Acquire 选择等待时间最短的可用账号并标记为使用中
func (p *SimplePool) Acquire(exclude []string) (*model.Account, time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var best *model.Account
	var bestWait time.Duration
	for _, acc := range p.accounts {
		if acc.InUse || lo.Contains(exclude, acc.ID) {
			continue
		}
		if !p.recoverLocked(acc, now) {
			continue
		}
		acc.RequestTimestamps = pruneWindow(acc.RequestTimestamps, now.Add(-p.limit.Period()))
		if p.limit.MaxRequestsPerPeriod > 0 && len(acc.RequestTimestamps) >= p.limit.MaxRequestsPerPeriod {
			continue
		}
		wait := p.waitLocked(acc, now)
		if best == nil || wait < bestWait {
			best, bestWait = acc, wait
		}
	}
	if best == nil {
		return nil, 0, false
	}
	best.InUse = true
	return best.Clone(), bestWait, true
}

// Release 归还账号，token 在锁外持久化
func (p *SimplePool) Release(acc *model.Account, recordRequest bool) {
	p.mu.Lock()
	cur, ok := p.index[acc.ID]
	if !ok {
		p.mu.Unlock()
		return
	}
	now := p.now()
	cur.InUse = false
	cur.LastUsed = now
	if recordRequest {
		cur.RequestTimestamps = append(cur.RequestTimestamps, now)
	}
	id, token := cur.ID, cur.Token
	p.mu.Unlock()

	acc.InUse = false
	p.persist(id, token)
}

// MarkStatus 设置账号状态
func (p *SimplePool) MarkStatus(acc *model.Account, status model.AccountStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.index[acc.ID]
	if !ok {
		return
	}
	if cur.Status != status {
		p.log.Info("account status changed", "account", cur.ID, "from", cur.Status, "to", status)
	}
	cur.Status = status
	cur.StatusChangedAt = p.now()
	if status == model.StatusLoggedIn {
		cur.ErrorCount = 0
		cur.CooldownUntil = time.Time{}
	} else {
		cur.ErrorCount++
	}
	acc.Status = status
}

// SetToken 写入新 token 并持久化
func (p *SimplePool) SetToken(acc *model.Account, token string) {
	p.mu.Lock()
	cur, ok := p.index[acc.ID]
	if ok {
		cur.Token = token
	}
	p.mu.Unlock()

	acc.Token = token
	if ok {
		p.persist(acc.ID, token)
	}
}

// SetCooldown 设置最早可恢复时间，仅在 cooldown 恢复策略下生效
func (p *SimplePool) SetCooldown(acc *model.Account, d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.index[acc.ID]; ok {
		cur.CooldownUntil = p.now().Add(d)
	}
}

// GetAccountsNeedingLogin 返回等待人工登录的账号
func (p *SimplePool) GetAccountsNeedingLogin() []*model.Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*model.Account
	for _, acc := range p.accounts {
		if acc.Status.NeedsManualLogin() {
			out = append(out, acc.Clone())
		}
	}
	return out
}

// Get 返回账号快照
func (p *SimplePool) Get(id string) (*model.Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.index[id]
	if !ok {
		return nil, false
	}
	return acc.Clone(), true
}

// List 按配置顺序返回所有账号快照
func (p *SimplePool) List() []*model.Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo.Map(p.accounts, func(acc *model.Account, _ int) *model.Account {
		return acc.Clone()
	})
}

// Reset 人工恢复账号（清除封禁 / 限流 / 错误状态）
func (p *SimplePool) Reset(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.index[id]
	if !ok {
		return ErrAccountNotFound
	}
	p.reviveLocked(acc, p.now())
	acc.ErrorCount = 0
	p.log.Info("account reset", "account", id, "status", acc.Status)
	return nil
}

// Size 账号数量
func (p *SimplePool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// recoverLocked 检查账号是否可调度，冷却期满的账号在这里恢复
func (p *SimplePool) recoverLocked(acc *model.Account, now time.Time) bool {
	if acc.Status.IsHealthy() {
		return true
	}
	cooldown := p.recovery.CooldownFor(acc.Status)
	if cooldown <= 0 {
		return false
	}
	readyAt := acc.StatusChangedAt.Add(cooldown)
	if acc.CooldownUntil.After(readyAt) {
		readyAt = acc.CooldownUntil
	}
	if now.Before(readyAt) {
		return false
	}
	p.log.Info("account recovered after cooldown", "account", acc.ID, "was", acc.Status)
	p.reviveLocked(acc, now)
	return true
}

func (p *SimplePool) reviveLocked(acc *model.Account, now time.Time) {
	acc.Status = model.StatusNeedLogin
	if acc.HasToken() {
		acc.Status = model.StatusLoggedIn
	}
	acc.StatusChangedAt = now
	acc.CooldownUntil = time.Time{}
}

func (p *SimplePool) waitLocked(acc *model.Account, now time.Time) time.Duration {
	if len(acc.RequestTimestamps) == 0 {
		return 0
	}
	last := acc.RequestTimestamps[len(acc.RequestTimestamps)-1]
	wait := p.limit.MinDelay() - now.Sub(last)
	if wait < 0 {
		return 0
	}
	return wait
}

func (p *SimplePool) persist(id, token string) {
	if p.storage == nil || token == "" {
		return
	}
	if err := p.storage.Save(id, token); err != nil {
		p.log.Warn("persist token failed", "account", id, "error", err)
	}
}

// pruneWindow 丢弃窗口起点之前的时间戳
func pruneWindow(timestamps []time.Time, windowStart time.Time) []time.Time {
	valid := timestamps[:0]
	for _, t := range timestamps {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	return valid
}
