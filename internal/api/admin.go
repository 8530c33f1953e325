package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiaopang/geoprobe/internal/core"
	"github.com/xiaopang/geoprobe/internal/model"
	"github.com/xiaopang/geoprobe/internal/store"
)

// AdminHandler 管理 API 处理器
type AdminHandler struct {
	registry *core.Registry
	store    *store.Store
	started  time.Time
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(registry *core.Registry, store *store.Store) *AdminHandler {
	return &AdminHandler{
		registry: registry,
		store:    store,
		started:  time.Now(),
	}
}

// === 账号管理 ===

// ListAccounts 列出账号状态，可按 provider 过滤
func (h *AdminHandler) ListAccounts(c *gin.Context) {
	names := h.registry.Names()
	if p := c.Query("provider"); p != "" {
		names = []string{p}
	}

	resp := make([]gin.H, 0, len(names))
	for _, name := range names {
		platform, err := h.registry.Get(name)
		if err != nil {
			respondError(c, err)
			return
		}
		accounts := platform.Pool.List()
		items := make([]model.AccountResponse, 0, len(accounts))
		for _, acc := range accounts {
			items = append(items, acc.ToResponse())
		}
		resp = append(resp, gin.H{
			"provider": name,
			"accounts": items,
		})
	}
	c.JSON(200, gin.H{"data": resp})
}

// PendingLogin 等待人工登录的账号及其验证码 / 二维码
func (h *AdminHandler) PendingLogin(c *gin.Context) {
	resp := make([]gin.H, 0)
	for _, name := range h.registry.Names() {
		platform, err := h.registry.Get(name)
		if err != nil {
			continue
		}
		for _, acc := range platform.Pool.GetAccountsNeedingLogin() {
			item := gin.H{
				"provider": name,
				"account":  acc.ToResponse(),
			}
			if session, ok := platform.Logins.Session(acc.ID); ok {
				item["session"] = session
				item["expired"] = session.IsExpired()
			}
			resp = append(resp, item)
		}
	}
	c.JSON(200, gin.H{"data": resp})
}

// StartLogin 触发登录：接口登录的平台直接登录，否则发起人工登录
func (h *AdminHandler) StartLogin(c *gin.Context) {
	platform, acc, err := h.findAccount(c)
	if err != nil {
		respondError(c, err)
		return
	}

	auth := platform.Provider.Authenticator()
	if !auth.NeedsManualLogin() {
		token, err := auth.Login(c.Request.Context(), acc)
		if err != nil {
			respondError(c, err)
			return
		}
		platform.Pool.SetToken(acc, token)
		platform.Pool.MarkStatus(acc, model.StatusLoggedIn)
		c.JSON(200, gin.H{"data": acc.ToResponse()})
		return
	}

	session, err := platform.Logins.StartLogin(c.Request.Context(), acc.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(202, gin.H{"data": session})
}

// SubmitCaptcha 提交验证码
func (h *AdminHandler) SubmitCaptcha(c *gin.Context) {
	var req struct {
		Answer string `json:"answer" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}

	platform, acc, err := h.findAccount(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := platform.Logins.SubmitCaptcha(c.Request.Context(), acc.ID, req.Answer); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, gin.H{"success": true})
}

// ResetAccount 人工恢复封禁 / 限流账号
func (h *AdminHandler) ResetAccount(c *gin.Context) {
	platform, acc, err := h.findAccount(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := platform.Pool.Reset(acc.ID); err != nil {
		respondError(c, err)
		return
	}
	acc, _ = platform.Pool.Get(acc.ID)
	c.JSON(200, gin.H{"data": acc.ToResponse()})
}

// findAccount 按 ?provider= 定位，未指定时在所有平台中查找
func (h *AdminHandler) findAccount(c *gin.Context) (*core.Platform, *model.Account, error) {
	id := c.Param("id")
	names := h.registry.Names()
	if p := c.Query("provider"); p != "" {
		names = []string{p}
	}
	for _, name := range names {
		platform, err := h.registry.Get(name)
		if err != nil {
			return nil, nil, err
		}
		if acc, ok := platform.Pool.Get(id); ok {
			return platform, acc, nil
		}
	}
	return nil, nil, core.ErrAccountNotFound
}

// === 状态 ===

// GetStatus 平台和账号概览
func (h *AdminHandler) GetStatus(c *gin.Context) {
	providers := make([]gin.H, 0)
	for _, name := range h.registry.Names() {
		platform, err := h.registry.Get(name)
		if err != nil {
			continue
		}
		counts := make(map[model.AccountStatus]int)
		inUse := 0
		for _, acc := range platform.Pool.List() {
			counts[acc.Status]++
			if acc.InUse {
				inUse++
			}
		}
		providers = append(providers, gin.H{
			"name":          name,
			"accounts":      platform.Pool.Size(),
			"in_use":        inUse,
			"status_counts": counts,
			"pending_login": platform.Logins.Active(),
		})
	}
	c.JSON(200, gin.H{
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"providers": providers,
	})
}

// === 调用记录 ===

// GetAttempts 查询调用尝试记录
func (h *AdminHandler) GetAttempts(c *gin.Context) {
	var query model.AttemptQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "Invalid query: "+err.Error())
		return
	}

	attempts, err := h.store.QueryAttempts(&query)
	if err != nil {
		c.JSON(500, model.ErrorResponse{
			Error: model.ErrorDetail{
				Message: err.Error(),
				Type:    "internal_error",
			},
		})
		return
	}

	c.JSON(200, gin.H{"data": attempts})
}

// GetStats 按账号统计最近若干天的调用
func (h *AdminHandler) GetStats(c *gin.Context) {
	days := 7
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "days must be a positive integer")
			return
		}
		days = n
	}

	stats, err := h.store.AccountStats(days)
	if err != nil {
		c.JSON(500, model.ErrorResponse{
			Error: model.ErrorDetail{
				Message: err.Error(),
				Type:    "internal_error",
			},
		})
		return
	}

	c.JSON(200, gin.H{
		"days":     days,
		"accounts": stats,
	})
}

// === 采集结果 ===

// GetRunStats 某次运行的品牌统计
func (h *AdminHandler) GetRunStats(c *gin.Context) {
	run, err := h.store.GetRun(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	job, err := h.store.GetJob(run.JobName)
	if err != nil {
		respondError(c, err)
		return
	}
	stats, err := h.store.BrandStats(run.ID, job.TargetProduct)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"run":    run,
		"target": job.TargetProduct,
		"data":   stats,
	})
}
