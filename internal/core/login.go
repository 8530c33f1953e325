package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/xiaopang/geoprobe/internal/logger"
	"github.com/xiaopang/geoprobe/internal/model"
)

// DefaultLoginPollInterval 人工登录轮询间隔
const DefaultLoginPollInterval = time.Second

// ManagedPool 支持按 ID 查询的账号池
type ManagedPool interface {
	AccountPool
	Get(id string) (*model.Account, bool)
}

type loginWatcher struct {
	session *model.LoginSession
	cancel  context.CancelFunc
	done    chan struct{}
}

// LoginManager 人工登录协调器（验证码 / 扫码），每个账号最多一个后台监视
type LoginManager struct {
	pool     ManagedPool
	auth     Authenticator
	interval time.Duration

	mu       sync.Mutex
	watchers map[string]*loginWatcher
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	log      *logger.Logger
}

// NewLoginManager 创建登录管理器，interval <= 0 时使用默认值
func NewLoginManager(pool ManagedPool, auth Authenticator, interval time.Duration) *LoginManager {
	if interval <= 0 {
		interval = DefaultLoginPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LoginManager{
		pool:     pool,
		auth:     auth,
		interval: interval,
		watchers: make(map[string]*loginWatcher),
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.With("component", "login"),
	}
}

// StartLogin 发起人工登录并在后台等待完成，会取代该账号之前的登录
func (m *LoginManager) StartLogin(ctx context.Context, accountID string) (*model.LoginSession, error) {
	acc, ok := m.pool.Get(accountID)
	if !ok {
		return nil, ErrAccountNotFound
	}
	m.stopWatcher(accountID)

	session, err := m.auth.InitiateLogin(ctx, acc)
	if err != nil {
		return nil, err
	}
	switch session.LoginType {
	case model.LoginTypeQRCode:
		m.pool.MarkStatus(acc, model.StatusNeedQRCode)
	default:
		m.pool.MarkStatus(acc, model.StatusNeedCaptcha)
	}

	wctx, cancel := context.WithCancel(m.ctx)
	w := &loginWatcher{session: session, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	prev := m.watchers[accountID]
	m.watchers[accountID] = w
	m.wg.Add(1)
	m.mu.Unlock()
	if prev != nil {
		prev.cancel()
	}

	go m.watch(wctx, acc, w)
	m.log.Info("manual login started", "account", accountID, "type", session.LoginType)
	return session, nil
}

// SubmitCaptcha 提交验证码
func (m *LoginManager) SubmitCaptcha(ctx context.Context, accountID, answer string) error {
	submitter, ok := m.auth.(CaptchaSubmitter)
	if !ok {
		return ErrCaptchaUnsupported
	}
	session, ok := m.Session(accountID)
	if !ok {
		return ErrNoActiveLogin
	}
	return submitter.SubmitCaptcha(ctx, session, answer)
}

// Session 返回账号当前的登录会话
func (m *LoginManager) Session(accountID string) (*model.LoginSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watchers[accountID]
	if !ok {
		return nil, false
	}
	return w.session, true
}

// Active 正在等待登录的账号 ID
func (m *LoginManager) Active() []string {
	m.mu.Lock()
	ids := lo.Keys(m.watchers)
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Stop 取消所有后台监视并等待退出
func (m *LoginManager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *LoginManager) stopWatcher(accountID string) {
	m.mu.Lock()
	w, ok := m.watchers[accountID]
	if ok {
		delete(m.watchers, accountID)
	}
	m.mu.Unlock()
	if ok {
		w.cancel()
		<-w.done
	}
}

func (m *LoginManager) watch(ctx context.Context, acc *model.Account, w *loginWatcher) {
	defer m.wg.Done()
	defer close(w.done)
	defer m.forget(acc.ID, w)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		switch {
		case w.session.IsComplete():
			m.pool.SetToken(acc, w.session.Token())
			m.pool.MarkStatus(acc, model.StatusLoggedIn)
			m.log.Info("manual login completed", "account", acc.ID)
			return
		case w.session.IsExpired():
			m.pool.MarkStatus(acc, model.StatusNeedLogin)
			m.log.Warn("manual login expired", "account", acc.ID)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// forget 只移除自己，避免误删新的监视
func (m *LoginManager) forget(accountID string, w *loginWatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchers[accountID] == w {
		delete(m.watchers, accountID)
	}
}
