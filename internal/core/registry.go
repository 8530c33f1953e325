package core

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/xiaopang/geoprobe/internal/model"
)

// ErrPlatformNotFound 平台未注册
var ErrPlatformNotFound = errors.New("platform not found")

// Platform 一个平台的运行时组件
type Platform struct {
	Name     string
	Provider *Provider
	Pool     *SimplePool
	Logins   *LoginManager
	closers  []func(context.Context) error
}

// OnClose 注册关闭时需要释放的资源
func (p *Platform) OnClose(fn func(context.Context) error) {
	p.closers = append(p.closers, fn)
}

// Call 通过平台的 Provider 调用
func (p *Platform) Call(ctx context.Context, params model.CallParams) (*model.CallResult, error) {
	return p.Provider.Call(ctx, params)
}

// Close 停止登录监视并释放资源
func (p *Platform) Close(ctx context.Context) error {
	if p.Logins != nil {
		p.Logins.Stop()
	}
	var errs []error
	for _, fn := range p.closers {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Registry 平台注册表
type Registry struct {
	platforms map[string]*Platform
	mu        sync.RWMutex
}

// NewRegistry 创建平台注册表
func NewRegistry() *Registry {
	return &Registry{platforms: make(map[string]*Platform)}
}

// Register 注册平台，同名覆盖
func (r *Registry) Register(p *Platform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[p.Name] = p
}

// Get 获取平台
func (r *Registry) Get(name string) (*Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.platforms[name]
	if !ok {
		return nil, ErrPlatformNotFound
	}
	return p, nil
}

// Names 已注册的平台名（排序）
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := lo.Keys(r.platforms)
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Close 关闭所有平台
func (r *Registry) Close(ctx context.Context) error {
	r.mu.RLock()
	platforms := lo.Values(r.platforms)
	r.mu.RUnlock()

	var errs []error
	for _, p := range platforms {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
