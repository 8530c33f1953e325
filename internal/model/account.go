package model

import (
	"sync"
	"time"
)

// AccountStatus 账号状态，同一个字段同时承载登录状态和健康状态
type AccountStatus string

const (
	// 登录状态
	StatusLoggedIn    AccountStatus = "logged_in"
	StatusNeedLogin   AccountStatus = "need_login"
	StatusNeedCaptcha AccountStatus = "need_captcha"
	StatusNeedQRCode  AccountStatus = "need_qrcode"

	// 健康状态
	StatusBanned      AccountStatus = "banned"
	StatusRateLimited AccountStatus = "rate_limited"
	StatusError       AccountStatus = "error"
)

// IsHealthy 是否处于可调度的健康状态
func (s AccountStatus) IsHealthy() bool {
	switch s {
	case StatusBanned, StatusRateLimited, StatusError:
		return false
	default:
		return true
	}
}

// NeedsManualLogin 是否需要人工介入（验证码 / 扫码）
func (s AccountStatus) NeedsManualLogin() bool {
	return s == StatusNeedCaptcha || s == StatusNeedQRCode
}

// Account 平台账号及其运行时状态
//
// Account values handed out by the pool are snapshots; the pool owns the
// canonical instance and is the only writer.
type Account struct {
	ID          string            `json:"id"`
	Credentials map[string]string `json:"-"`
	Token       string            `json:"-"`

	InUse           bool          `json:"in_use"`
	Status          AccountStatus `json:"status"`
	StatusChangedAt time.Time     `json:"status_changed_at"`
	CooldownUntil   time.Time     `json:"cooldown_until,omitempty"`

	LastUsed          time.Time      `json:"last_used"`
	RequestTimestamps []time.Time    `json:"-"`
	ErrorCount        int            `json:"error_count"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// HasToken 是否持有 token
func (a *Account) HasToken() bool {
	return a.Token != ""
}

// Clone 深拷贝
func (a *Account) Clone() *Account {
	c := *a
	if a.Credentials != nil {
		c.Credentials = make(map[string]string, len(a.Credentials))
		for k, v := range a.Credentials {
			c.Credentials[k] = v
		}
	}
	if a.RequestTimestamps != nil {
		c.RequestTimestamps = append([]time.Time(nil), a.RequestTimestamps...)
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// AccountResponse 账号状态响应（不含凭证和 token）
type AccountResponse struct {
	ID              string        `json:"id"`
	Status          AccountStatus `json:"status"`
	InUse           bool          `json:"in_use"`
	HasToken        bool          `json:"has_token"`
	LastUsed        time.Time     `json:"last_used"`
	StatusChangedAt time.Time     `json:"status_changed_at"`
	CooldownUntil   time.Time     `json:"cooldown_until,omitempty"`
	RecentRequests  int           `json:"recent_requests"`
	ErrorCount      int           `json:"error_count"`
}

// ToResponse 转换为响应格式
func (a *Account) ToResponse() AccountResponse {
	return AccountResponse{
		ID:              a.ID,
		Status:          a.Status,
		InUse:           a.InUse,
		HasToken:        a.HasToken(),
		LastUsed:        a.LastUsed,
		StatusChangedAt: a.StatusChangedAt,
		CooldownUntil:   a.CooldownUntil,
		RecentRequests:  len(a.RequestTimestamps),
		ErrorCount:      a.ErrorCount,
	}
}

// RateLimitConfig 频率限制配置
type RateLimitConfig struct {
	MaxRequestsPerPeriod    int     `json:"max_requests_per_period" yaml:"max_requests_per_period"`
	PeriodSeconds           float64 `json:"period_seconds" yaml:"period_seconds"`
	MinDelayBetweenRequests float64 `json:"min_delay_between_requests" yaml:"min_delay_between_requests"`
}

// DefaultRateLimit 默认频率限制
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{
		MaxRequestsPerPeriod:    10,
		PeriodSeconds:           60,
		MinDelayBetweenRequests: 1,
	}
}

// Period 滑动窗口长度
func (r RateLimitConfig) Period() time.Duration {
	return secondsToDuration(r.PeriodSeconds)
}

// MinDelay 两次请求最小间隔
func (r RateLimitConfig) MinDelay() time.Duration {
	return secondsToDuration(r.MinDelayBetweenRequests)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// RecoveryPolicy 封禁 / 限流账号的恢复策略
type RecoveryPolicy struct {
	Mode                string  `json:"mode" yaml:"mode"`                                   // manual | cooldown
	BannedCooldown      float64 `json:"banned_cooldown" yaml:"banned_cooldown"`             // 秒
	RateLimitedCooldown float64 `json:"rate_limited_cooldown" yaml:"rate_limited_cooldown"` // 秒
	ErrorCooldown       float64 `json:"error_cooldown" yaml:"error_cooldown"`               // 秒
}

const (
	RecoveryManual   = "manual"
	RecoveryCooldown = "cooldown"
)

// CooldownFor 返回某健康状态的冷却时长，0 表示不自动恢复
func (p RecoveryPolicy) CooldownFor(status AccountStatus) time.Duration {
	if p.Mode != RecoveryCooldown {
		return 0
	}
	switch status {
	case StatusBanned:
		return secondsToDuration(p.BannedCooldown)
	case StatusRateLimited:
		return secondsToDuration(p.RateLimitedCooldown)
	case StatusError:
		return secondsToDuration(p.ErrorCooldown)
	default:
		return 0
	}
}

// LoginType 人工登录方式
const (
	LoginTypeCaptcha = "captcha"
	LoginTypeQRCode  = "qrcode"
	LoginTypeAPI     = "api"
)

// LoginSession 人工登录会话（验证码 / 扫码）
type LoginSession struct {
	AccountID    string     `json:"account_id"`
	LoginType    string     `json:"login_type"`
	CaptchaImage []byte     `json:"captcha_image,omitempty"`
	QRCodeData   string     `json:"qrcode_data,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`

	mu    sync.RWMutex
	token string
}

// IsExpired 是否已过期，未设置过期时间则永不过期
func (s *LoginSession) IsExpired() bool {
	if s.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*s.ExpiresAt)
}

// IsComplete 是否已拿到 token
func (s *LoginSession) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// Complete 写入登录得到的 token
func (s *LoginSession) Complete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Token 获取 token
func (s *LoginSession) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}
