package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaopang/geoprobe/internal/api"
	"github.com/xiaopang/geoprobe/internal/core"
	"github.com/xiaopang/geoprobe/internal/logger"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the query and admin HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// 监听 SIGINT / SIGTERM
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	limiter := api.NewClientLimiter(cfg.Server.QueryRPM, cfg.Server.QueryConcurrent)

	janitor := core.NewJanitor(0)
	if days := cfg.Logging.RetentionDays; days > 0 {
		janitor.Add("attempt_retention", func(context.Context) error {
			n, err := a.store.CleanOldAttempts(days)
			if n > 0 {
				logger.Info("old attempts removed", "count", n, "retention_days", days)
			}
			return err
		})
	}
	if limiter != nil {
		janitor.Add("limiter_sweep", func(context.Context) error {
			limiter.Sweep()
			return nil
		})
	}
	janitor.Start()
	defer janitor.Stop()

	r := api.SetupRouter(cfg, api.NewQueryHandler(a.registry), api.NewAdminHandler(a.registry, a.store), limiter)

	// 使用 http.Server 以支持 Graceful Shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("geoprobe starting", "addr", addr, "providers", a.registry.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	// 等待信号或服务器错误
	select {
	case err := <-srvErr:
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections")
	}

	// 平台调用可能较慢，给在途请求 30 秒
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}
