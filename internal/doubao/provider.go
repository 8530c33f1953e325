package doubao

import (
	"fmt"

	"github.com/xiaopang/geoprobe/internal/config"
	"github.com/xiaopang/geoprobe/internal/core"
	"github.com/xiaopang/geoprobe/internal/logger"
	"github.com/xiaopang/geoprobe/internal/ranking"
	"github.com/xiaopang/geoprobe/internal/transport"
)

// Name 平台名
const Name = "doubao"

// New 按配置组装豆包平台；API Key 不落盘
func New(cfg config.DoubaoConfig, llm ranking.Completer, opts ...core.ProviderOption) (*core.Platform, error) {
	if cfg.EndpointID == "" {
		return nil, fmt.Errorf("doubao: endpoint_id is required")
	}
	storage := core.NewMemoryTokenStorage()
	accounts, err := core.BuildAccounts(cfg.Accounts, storage)
	if err != nil {
		return nil, fmt.Errorf("doubao accounts: %w", err)
	}
	pool := core.NewSimplePool(accounts, cfg.RateLimit, cfg.Recovery, storage)

	httpClient, err := transport.NewHTTPClient("", cfg.Proxy, config.Duration(cfg.AttemptTimeout))
	if err != nil {
		return nil, fmt.Errorf("doubao http client: %w", err)
	}

	var extractor *ranking.Extractor
	if llm != nil {
		extractor = ranking.NewJSONExtractor(llm)
	}

	auth := Authenticator{}
	opts = append([]core.ProviderOption{core.WithAttemptTimeout(config.Duration(cfg.AttemptTimeout))}, opts...)
	provider := core.NewProvider(Name, pool, auth, nil,
		NewClient(cfg.BaseURL, cfg.EndpointID, cfg.Model, httpClient),
		NewParser(extractor),
		cfg.MaxRetries, opts...)

	logger.Info("platform ready", "platform", Name, "accounts", pool.Size(), "endpoint", cfg.EndpointID)
	return &core.Platform{
		Name:     Name,
		Provider: provider,
		Pool:     pool,
		Logins:   core.NewLoginManager(pool, auth, 0),
	}, nil
}
