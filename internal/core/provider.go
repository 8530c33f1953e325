package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/xiaopang/geoprobe/internal/logger"
	"github.com/xiaopang/geoprobe/internal/model"
)

// Provider 组合账号池、认证、会话、客户端和解析器，对外提供带重试的 Call
type Provider struct {
	name           string
	pool           AccountPool
	auth           Authenticator
	session        SessionManager
	client         Client
	parser         ResponseParser
	maxRetries     int
	attemptTimeout time.Duration
	recorder       AttemptRecorder
	sleep          func(ctx context.Context, d time.Duration) error
	log            *logger.Logger
}

// ProviderOption Provider 可选配置
type ProviderOption func(*Provider)

// WithRecorder 每次尝试写一条记录
func WithRecorder(r AttemptRecorder) ProviderOption {
	return func(p *Provider) { p.recorder = r }
}

// WithAttemptTimeout 单次尝试的超时
func WithAttemptTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) { p.attemptTimeout = d }
}

// NewProvider 创建 Provider，最多尝试 maxRetries+1 次
func NewProvider(name string, pool AccountPool, auth Authenticator, session SessionManager, client Client, parser ResponseParser, maxRetries int, opts ...ProviderOption) *Provider {
	if session == nil {
		session = NoopSessionManager{}
	}
	if parser == nil {
		parser = PassthroughParser{}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	p := &Provider{
		name:       name,
		pool:       pool,
		auth:       auth,
		session:    session,
		client:     client,
		parser:     parser,
		maxRetries: maxRetries,
		sleep:      SleepContext,
		log:        logger.With("provider", name),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name 平台名
func (p *Provider) Name() string { return p.name }

// Pool 账号池
func (p *Provider) Pool() AccountPool { return p.pool }

// Authenticator 认证器
func (p *Provider) Authenticator() Authenticator { return p.auth }

// Call 依次尝试不同账号，账号级错误转换为状态并换号重试，其他错误直接返回
func (p *Provider) Call(ctx context.Context, params model.CallParams) (*model.CallResult, error) {
	callID := uuid.NewString()
	var tried []string
	var lastErr error

	for attempt := 1; attempt <= p.maxRetries+1; attempt++ {
		acc, wait, ok := p.pool.Acquire(tried)
		if !ok {
			return nil, &NoAccountAvailableError{Tried: append([]string(nil), tried...)}
		}
		tried = append(tried, acc.ID)

		result, err := p.attempt(ctx, callID, attempt, acc, wait, params)
		if err == nil {
			return result, nil
		}
		if !isAccountError(err) {
			return nil, err
		}
		lastErr = err
		p.log.Warn("attempt failed, switching account", "call", callID, "attempt", attempt, "account", acc.ID, "error", err)
	}
	return nil, &AllRetriesFailedError{Attempts: len(tried), LastErr: lastErr}
}

// attempt 单次尝试；返回前先更新账号状态再归还账号
func (p *Provider) attempt(ctx context.Context, callID string, n int, acc *model.Account, wait time.Duration, params model.CallParams) (result *model.CallResult, err error) {
	start := time.Now()
	defer func() {
		p.absorb(acc, err)
		p.pool.Release(acc, true)
		p.record(callID, n, acc, wait, start, result, err)
	}()

	if wait > 0 {
		p.log.Debug("waiting for rate limit", "account", acc.ID, "wait", wait)
		if err := p.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	actx := ctx
	if p.attemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, p.attemptTimeout)
		defer cancel()
	}

	if acc.Status == model.StatusNeedLogin {
		if err := p.login(actx, acc); err != nil {
			return nil, err
		}
	}
	if !acc.HasToken() {
		return nil, &TokenExpiredError{AccountID: acc.ID, Stage: "login"}
	}

	session, err := p.session.Prepare(actx, acc, acc.Token)
	if err != nil {
		return nil, err
	}
	raw, err := p.client.Call(actx, params, acc.Token, session)
	if err != nil {
		return nil, err
	}
	result, err = p.parser.Parse(actx, raw)
	if err != nil {
		return nil, err
	}
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["provider"] = p.name
	result.Metadata["account_id"] = acc.ID
	result.Metadata["attempt"] = n
	return result, nil
}

// login 先尝试 Refresh，拿不到 token 再完整登录
func (p *Provider) login(ctx context.Context, acc *model.Account) error {
	token := ""
	if acc.HasToken() {
		refreshed, err := p.auth.Refresh(ctx, acc)
		if err != nil {
			p.log.Debug("token refresh failed", "account", acc.ID, "error", err)
		}
		token = refreshed
	}
	if token == "" {
		var err error
		token, err = p.auth.Login(ctx, acc)
		if err != nil {
			return err
		}
	}
	if token == "" {
		return nil
	}
	p.pool.SetToken(acc, token)
	p.pool.MarkStatus(acc, model.StatusLoggedIn)
	p.log.Info("account logged in", "account", acc.ID)
	return nil
}

// absorb 把账号级错误转换为账号状态，并补全错误中缺失的账号 ID
func (p *Provider) absorb(acc *model.Account, err error) {
	var (
		expired *TokenExpiredError
		banned  *AccountBannedError
		limited *RateLimitedError
	)
	switch {
	case err == nil:
	case errors.As(err, &expired):
		if expired.AccountID == "" {
			expired.AccountID = acc.ID
		}
		p.pool.MarkStatus(acc, model.StatusNeedLogin)
	case errors.As(err, &banned):
		if banned.AccountID == "" {
			banned.AccountID = acc.ID
		}
		p.pool.MarkStatus(acc, model.StatusBanned)
	case errors.As(err, &limited):
		if limited.AccountID == "" {
			limited.AccountID = acc.ID
		}
		p.pool.MarkStatus(acc, model.StatusRateLimited)
		p.pool.SetCooldown(acc, limited.RetryAfter)
	}
}

func (p *Provider) record(callID string, n int, acc *model.Account, wait time.Duration, start time.Time, result *model.CallResult, err error) {
	if p.recorder == nil {
		return
	}
	entry := &model.AttemptLog{
		ID:        uuid.NewString(),
		CallID:    callID,
		Timestamp: start,
		Provider:  p.name,
		AccountID: acc.ID,
		Attempt:   n,
		Success:   err == nil,
		WaitMs:    wait.Milliseconds(),
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.ErrorKind = ErrorKind(err)
		entry.Error = err.Error()
	}
	if result != nil {
		entry.NumSources = len(result.Sources)
		entry.NumRankings = len(result.Rankings)
	}
	if rerr := p.recorder.SaveAttempt(entry); rerr != nil {
		p.log.Warn("record attempt failed", "call", callID, "error", rerr)
	}
}

// isAccountError 是否是应当换号重试的账号级错误
func isAccountError(err error) bool {
	var (
		expired *TokenExpiredError
		banned  *AccountBannedError
		limited *RateLimitedError
	)
	return errors.As(err, &expired) || errors.As(err, &banned) || errors.As(err, &limited)
}

// SleepContext 等待 d，ctx 取消时提前返回 ctx.Err()
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
