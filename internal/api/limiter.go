package api

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiaopang/geoprobe/internal/model"
)

// ClientLimiter 查询接口的客户端限流：每分钟请求数和并发数
type ClientLimiter struct {
	rpm        int
	concurrent int

	mu       sync.Mutex
	windows  map[string][]time.Time // client -> 最近一分钟的请求时间
	inflight map[string]int
	now      func() time.Time
}

// NewClientLimiter 创建限流器，两个上限都 <= 0 时返回 nil
func NewClientLimiter(rpm, concurrent int) *ClientLimiter {
	if rpm <= 0 && concurrent <= 0 {
		return nil
	}
	return &ClientLimiter{
		rpm:        rpm,
		concurrent: concurrent,
		windows:    make(map[string][]time.Time),
		inflight:   make(map[string]int),
		now:        time.Now,
	}
}

// Enter 原子地检查并记账，返回的 release 总是非 nil 且可重复调用
func (l *ClientLimiter) Enter(client string) (bool, string, func()) {
	var once sync.Once
	release := func() {
		once.Do(func() {
			if l.concurrent <= 0 {
				return
			}
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.inflight[client] > 0 {
				l.inflight[client]--
			}
			if l.inflight[client] == 0 {
				delete(l.inflight, client)
			}
		})
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.rpm > 0 {
		valid := prune(l.windows[client], now.Add(-time.Minute))
		l.windows[client] = valid
		if len(valid) >= l.rpm {
			return false, fmt.Sprintf("RPM limit exceeded (%d/%d)", len(valid), l.rpm), func() {}
		}
	}
	if l.concurrent > 0 && l.inflight[client] >= l.concurrent {
		return false, fmt.Sprintf("Concurrent limit exceeded (%d/%d)", l.inflight[client], l.concurrent), func() {}
	}

	// 全部检查通过后才记账
	if l.rpm > 0 {
		l.windows[client] = append(l.windows[client], now)
	}
	if l.concurrent > 0 {
		l.inflight[client]++
	}
	return true, "", release
}

// Sweep 清理过期窗口，由调用方定期触发
func (l *ClientLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	windowStart := l.now().Add(-time.Minute)
	for k, timestamps := range l.windows {
		valid := prune(timestamps, windowStart)
		if len(valid) == 0 {
			delete(l.windows, k)
		} else {
			l.windows[k] = valid
		}
	}
}

func prune(timestamps []time.Time, windowStart time.Time) []time.Time {
	valid := timestamps[:0]
	for _, t := range timestamps {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	return valid
}

// LimitMiddleware 按 API Key（无 Key 时按 IP）限流
func LimitMiddleware(l *ClientLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		client := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if client == "" {
			client = c.ClientIP()
		}

		ok, reason, release := l.Enter(client)
		if !ok {
			c.AbortWithStatusJSON(429, model.ErrorResponse{
				Error: model.ErrorDetail{
					Message: reason,
					Type:    "rate_limit_error",
					Code:    "rate_limit_exceeded",
				},
			})
			return
		}
		defer release()
		c.Next()
	}
}
