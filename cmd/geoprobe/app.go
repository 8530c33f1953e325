package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/xiaopang/geoprobe/internal/config"
	"github.com/xiaopang/geoprobe/internal/core"
	"github.com/xiaopang/geoprobe/internal/deepseek"
	"github.com/xiaopang/geoprobe/internal/doubao"
	"github.com/xiaopang/geoprobe/internal/llm"
	"github.com/xiaopang/geoprobe/internal/logger"
	"github.com/xiaopang/geoprobe/internal/ranking"
	"github.com/xiaopang/geoprobe/internal/store"
)

// app 命令共用的运行时组件
type app struct {
	cfg      *config.Config
	store    *store.Store
	registry *core.Registry
	logFile  io.Closer
}

// openApp 加载配置、打开数据库并初始化已启用的平台
func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	a := &app{cfg: cfg, registry: core.NewRegistry()}
	if cfg.Logging.File != "" {
		if a.logFile, err = logger.OpenFile(cfg.Logging.File); err != nil {
			return nil, err
		}
	}

	a.store, err = store.New(cfg.Database.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}
	logger.Info("database initialized", "path", cfg.Database.Path)

	if err := a.registerPlatforms(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) registerPlatforms(ctx context.Context) error {
	// 未配置 LLM 时保持 nil 接口，排名提取被跳过
	var completer ranking.Completer
	if pool := llm.NewPool(a.cfg.LLM); pool != nil {
		completer = pool
		logger.Info("ranking extraction enabled", "endpoints", pool.Size())
	}
	opts := []core.ProviderOption{core.WithRecorder(a.store)}

	if ds := a.cfg.Providers.DeepSeek; ds.Enabled {
		p, err := deepseek.New(ctx, ds, completer, opts...)
		if err != nil {
			return fmt.Errorf("init %s: %w", deepseek.Name, err)
		}
		a.registry.Register(p)
	}
	if db := a.cfg.Providers.Doubao; db.Enabled {
		p, err := doubao.New(db, completer, opts...)
		if err != nil {
			return fmt.Errorf("init %s: %w", doubao.Name, err)
		}
		a.registry.Register(p)
	}
	if len(a.registry.Names()) == 0 {
		return errors.New("no provider enabled in config")
	}
	return nil
}

// platform 按名称获取平台，名称为空且只启用了一个平台时返回该平台
func (a *app) platform(name string) (*core.Platform, error) {
	if name == "" {
		names := a.registry.Names()
		if len(names) != 1 {
			return nil, fmt.Errorf("--provider is required (enabled: %v)", names)
		}
		name = names[0]
	}
	p, err := a.registry.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, name)
	}
	return p, nil
}

// Close 释放平台资源、数据库和日志文件
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.registry.Close(ctx); err != nil {
		logger.Warn("close platforms", "error", err)
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}
