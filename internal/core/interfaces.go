package core

import (
	"context"
	"time"

	"github.com/xiaopang/geoprobe/internal/model"
)

// AccountPool 账号池：选择、限流、健康状态
type AccountPool interface {
	// Acquire 选择一个可用账号并标记为使用中，返回账号快照和需要等待的时间
	Acquire(exclude []string) (*model.Account, time.Duration, bool)
	// Release 归还账号，每次 Acquire 成功后必须且只能调用一次
	Release(acc *model.Account, recordRequest bool)
	MarkStatus(acc *model.Account, status model.AccountStatus)
	SetToken(acc *model.Account, token string)
	// SetCooldown 平台给出的限流恢复时间
	SetCooldown(acc *model.Account, d time.Duration)
	GetAccountsNeedingLogin() []*model.Account
}

// TokenStorage token 持久化
type TokenStorage interface {
	Load(accountID string) (string, bool, error)
	Save(accountID, token string) error
	LoadAll() (map[string]string, error)
}

// Authenticator 账号认证
type Authenticator interface {
	// Login 使用账号凭证登录，返回 token
	Login(ctx context.Context, acc *model.Account) (string, error)
	// Refresh 刷新 token，返回空字符串表示需要完整登录
	Refresh(ctx context.Context, acc *model.Account) (string, error)
	NeedsManualLogin() bool
	// InitiateLogin 发起人工登录（验证码 / 扫码）
	InitiateLogin(ctx context.Context, acc *model.Account) (*model.LoginSession, error)
}

// CaptchaSubmitter 支持提交验证码的认证器
type CaptchaSubmitter interface {
	SubmitCaptcha(ctx context.Context, session *model.LoginSession, answer string) error
}

// SessionData 会话准备结果，从 SessionManager 传给 Client
type SessionData struct {
	SessionID   string
	PowResponse string
}

// SessionManager 每次调用前的会话协商
type SessionManager interface {
	Prepare(ctx context.Context, acc *model.Account, token string) (*SessionData, error)
}

// Client 平台网络调用，返回原始响应文本
type Client interface {
	Call(ctx context.Context, params model.CallParams, token string, session *SessionData) (string, error)
}

// ResponseParser 两阶段解析：原始响应 -> 正文和来源 -> 排名
type ResponseParser interface {
	ParseResponse(ctx context.Context, raw string) (*model.CallResult, error)
	ParseContent(ctx context.Context, result *model.CallResult) (*model.CallResult, error)
	Parse(ctx context.Context, raw string) (*model.CallResult, error)
}

// AttemptRecorder 记录每次尝试
type AttemptRecorder interface {
	SaveAttempt(log *model.AttemptLog) error
}

// NoopSessionManager 无会话平台使用
type NoopSessionManager struct{}

// Prepare 返回空会话
func (NoopSessionManager) Prepare(context.Context, *model.Account, string) (*SessionData, error) {
	return &SessionData{}, nil
}

// PassthroughParser 原样返回原始响应
type PassthroughParser struct{}

func (PassthroughParser) ParseResponse(_ context.Context, raw string) (*model.CallResult, error) {
	return &model.CallResult{RawResponse: raw, Content: raw}, nil
}

func (PassthroughParser) ParseContent(_ context.Context, result *model.CallResult) (*model.CallResult, error) {
	return result, nil
}

func (p PassthroughParser) Parse(ctx context.Context, raw string) (*model.CallResult, error) {
	result, err := p.ParseResponse(ctx, raw)
	if err != nil {
		return nil, err
	}
	return p.ParseContent(ctx, result)
}
