package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// 错误定义
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrCaptchaUnsupported  = errors.New("captcha submission not supported")
	ErrNoActiveLogin       = errors.New("no active login session")
	ErrMissingSessionField = errors.New("session data incomplete")
)

// NoAccountAvailableError 账号池本轮无可用账号
type NoAccountAvailableError struct {
	Tried []string
}

func (e *NoAccountAvailableError) Error() string {
	if len(e.Tried) == 0 {
		return "no account available (tried: none)"
	}
	return "no account available (tried: " + strings.Join(e.Tried, ", ") + ")"
}

// TokenExpiredError token 失效，需要重新登录
type TokenExpiredError struct {
	AccountID string
	Stage     string // login | session | pow | completion
}

func (e *TokenExpiredError) Error() string {
	switch {
	case e.AccountID != "" && e.Stage != "":
		return fmt.Sprintf("token expired for account %s during %s", e.AccountID, e.Stage)
	case e.AccountID != "":
		return "token expired for account " + e.AccountID
	case e.Stage != "":
		return "token expired during " + e.Stage
	default:
		return "token expired"
	}
}

// AccountBannedError 账号被平台封禁
type AccountBannedError struct {
	AccountID string
	Reason    string
}

func (e *AccountBannedError) Error() string {
	msg := "account banned: " + e.AccountID
	if e.Reason != "" {
		msg += " (reason: " + e.Reason + ")"
	}
	return msg
}

// RateLimitedError 账号被平台限流
type RateLimitedError struct {
	AccountID  string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	msg := "rate limited for account: " + e.AccountID
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after: %s)", e.RetryAfter)
	}
	return msg
}

// AllRetriesFailedError 重试次数耗尽
type AllRetriesFailedError struct {
	Attempts int
	LastErr  error
}

func (e *AllRetriesFailedError) Error() string {
	msg := fmt.Sprintf("all %d retry attempts failed", e.Attempts)
	if e.LastErr != nil {
		msg += ": last error: " + e.LastErr.Error()
	}
	return msg
}

func (e *AllRetriesFailedError) Unwrap() error {
	return e.LastErr
}

// LoginRequiredError 需要人工登录，交给 LoginManager 处理，不自动重试
type LoginRequiredError struct {
	AccountID string
	LoginType string
}

func (e *LoginRequiredError) Error() string {
	return fmt.Sprintf("manual %s login required for account: %s", e.LoginType, e.AccountID)
}

// APIError 通用接口 / 校验错误，Provider 不重试
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Detail)
}

// NewAPIError 创建 APIError
func NewAPIError(status int, format string, args ...any) *APIError {
	return &APIError{StatusCode: status, Detail: fmt.Sprintf(format, args...)}
}

// ErrorKind 错误分类，用于尝试记录
func ErrorKind(err error) string {
	var (
		noAccount *NoAccountAvailableError
		expired   *TokenExpiredError
		banned    *AccountBannedError
		limited   *RateLimitedError
		exhausted *AllRetriesFailedError
		login     *LoginRequiredError
		apiErr    *APIError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &exhausted):
		return "all_retries_failed"
	case errors.As(err, &noAccount):
		return "no_account"
	case errors.As(err, &expired):
		return "token_expired"
	case errors.As(err, &banned):
		return "banned"
	case errors.As(err, &limited):
		return "rate_limited"
	case errors.As(err, &login):
		return "login_required"
	case errors.As(err, &apiErr):
		return "api_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
