package api

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiaopang/geoprobe/internal/config"
	"github.com/xiaopang/geoprobe/internal/logger"
	"github.com/xiaopang/geoprobe/internal/model"
)

// AuthMiddleware API Key 认证中间件
func AuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 如果未设置 API Key，跳过认证
		if apiKey == "" {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(401, model.ErrorResponse{
				Error: model.ErrorDetail{
					Message: "Missing Authorization header",
					Type:    "authentication_error",
					Code:    "missing_api_key",
				},
			})
			return
		}

		// 兼容不带 Bearer 前缀的写法
		token := strings.TrimPrefix(auth, "Bearer ")
		if token != apiKey {
			c.AbortWithStatusJSON(401, model.ErrorResponse{
				Error: model.ErrorDetail{
					Message: "Invalid API key",
					Type:    "authentication_error",
					Code:    "invalid_api_key",
				},
			})
			return
		}

		c.Next()
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// RecoveryMiddleware 恢复中间件
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic in handler", "path", c.Request.URL.Path, "panic", err)
				c.AbortWithStatusJSON(500, model.ErrorResponse{
					Error: model.ErrorDetail{
						Message: "Internal server error",
						Type:    "internal_error",
						Code:    "internal_error",
					},
				})
			}
		}()
		c.Next()
	}
}

// LoggerMiddleware 请求日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	log := logger.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("request",
			"status", c.Writer.Status(),
			"latency", time.Since(start).Round(time.Millisecond),
			"method", c.Request.Method,
			"path", path)
	}
}

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, query *QueryHandler, admin *AdminHandler, limiter *ClientLimiter) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 查询 API
	v1 := r.Group("/v1")
	v1.Use(AuthMiddleware(cfg.Server.APIKey))
	{
		v1.POST("/query", LimitMiddleware(limiter), query.Query)
		v1.GET("/providers", query.ListProviders)
	}

	// 管理 API
	api := r.Group("/api")
	api.Use(AuthMiddleware(cfg.Server.AdminAPIKey))
	{
		// 账号
		api.GET("/accounts", admin.ListAccounts)
		api.GET("/accounts/pending-login", admin.PendingLogin)
		api.POST("/accounts/:id/login", admin.StartLogin)
		api.POST("/accounts/:id/captcha", admin.SubmitCaptcha)
		api.POST("/accounts/:id/reset", admin.ResetAccount)

		// 状态
		api.GET("/status", admin.GetStatus)

		// 调用记录
		api.GET("/attempts", admin.GetAttempts)
		api.GET("/stats", admin.GetStats)

		// 采集结果
		api.GET("/runs/:id/stats", admin.GetRunStats)
	}

	// 健康检查端点
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
