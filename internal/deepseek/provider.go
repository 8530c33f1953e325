package deepseek

import (
	"context"
	"fmt"

	"github.com/xiaopang/geoprobe/internal/config"
	"github.com/xiaopang/geoprobe/internal/core"
	"github.com/xiaopang/geoprobe/internal/logger"
	"github.com/xiaopang/geoprobe/internal/pow"
	"github.com/xiaopang/geoprobe/internal/ranking"
	"github.com/xiaopang/geoprobe/internal/transport"
)

// Name 平台名
const Name = "deepseek"

// New 按配置组装 DeepSeek 平台：token 存储、账号池、PoW 求解器、登录管理。
// llm 为 nil 时不提取排名。
func New(ctx context.Context, cfg config.DeepSeekConfig, llm ranking.Completer, opts ...core.ProviderOption) (*core.Platform, error) {
	storage := core.NewJSONFileTokenStorage(cfg.TokenStoragePath)
	accounts, err := core.BuildAccounts(cfg.Accounts, storage)
	if err != nil {
		return nil, fmt.Errorf("deepseek accounts: %w", err)
	}
	pool := core.NewSimplePool(accounts, cfg.RateLimit, cfg.Recovery, storage)

	solver, err := pow.Load(ctx, cfg.WASMPath)
	if err != nil {
		return nil, fmt.Errorf("deepseek pow: %w", err)
	}

	httpClient, err := transport.NewHTTPClient(cfg.Impersonate, cfg.Proxy, 0)
	if err != nil {
		solver.Close(ctx)
		return nil, fmt.Errorf("deepseek http client: %w", err)
	}

	auth := NewAuthenticator(cfg.BaseURL, httpClient)
	opts = append([]core.ProviderOption{core.WithAttemptTimeout(config.Duration(cfg.AttemptTimeout))}, opts...)
	provider := core.NewProvider(Name, pool, auth,
		NewSessionManager(cfg.BaseURL, httpClient, solver),
		NewClient(cfg.BaseURL, httpClient),
		NewParser(newExtractor(llm)),
		cfg.MaxRetries, opts...)

	platform := &core.Platform{
		Name:     Name,
		Provider: provider,
		Pool:     pool,
		Logins:   core.NewLoginManager(pool, auth, config.Duration(cfg.LoginPollInterval)),
	}
	platform.OnClose(solver.Close)

	logger.Info("platform ready", "platform", Name, "accounts", pool.Size(), "wasm", cfg.WASMPath)
	return platform, nil
}

func newExtractor(llm ranking.Completer) *ranking.Extractor {
	if llm == nil {
		return nil
	}
	return ranking.NewLineExtractor(llm)
}
