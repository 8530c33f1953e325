package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiaopang/geoprobe/internal/core"
	"github.com/xiaopang/geoprobe/internal/logger"
	"github.com/xiaopang/geoprobe/internal/model"
)

// maxRawResponse 返回给客户端的原始响应上限
const maxRawResponse = 64 * 1024

// QueryRequest 查询请求
type QueryRequest struct {
	Provider       string          `json:"provider" binding:"required"`
	Prompt         string          `json:"prompt"`
	Messages       []model.Message `json:"messages"`
	EnableThinking bool            `json:"enable_thinking"`
	// 默认开启联网搜索
	EnableSearch *bool          `json:"enable_search"`
	Extra        map[string]any `json:"extra"`
	IncludeRaw   bool           `json:"include_raw"`
}

// Params 转换为调用参数
func (r *QueryRequest) Params() model.CallParams {
	params := model.CallParams{
		Prompt:         r.Prompt,
		Messages:       r.Messages,
		EnableThinking: r.EnableThinking,
		EnableSearch:   true,
		Extra:          r.Extra,
	}
	if r.EnableSearch != nil {
		params.EnableSearch = *r.EnableSearch
	}
	return params
}

// QueryHandler 查询处理器
type QueryHandler struct {
	registry *core.Registry
	log      *logger.Logger
}

// NewQueryHandler 创建查询处理器
func NewQueryHandler(registry *core.Registry) *QueryHandler {
	return &QueryHandler{
		registry: registry,
		log:      logger.With("component", "query"),
	}
}

// Query 调用指定平台
func (h *QueryHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	params := req.Params()
	if params.Text() == "" {
		badRequest(c, "prompt or messages is required")
		return
	}

	platform, err := h.registry.Get(req.Provider)
	if err != nil {
		respondError(c, err)
		return
	}

	start := time.Now()
	result, err := platform.Call(c.Request.Context(), params)
	if err != nil {
		h.log.Warn("query failed", "provider", req.Provider, "error", err)
		respondError(c, err)
		return
	}

	raw := result.RawResponse
	if req.IncludeRaw {
		result.RawResponse = truncateBody([]byte(raw), maxRawResponse)
	} else {
		result.RawResponse = ""
	}
	h.log.Info("query done",
		"provider", req.Provider,
		"latency", time.Since(start).Round(time.Millisecond),
		"sources", len(result.Sources),
		"rankings", len(result.Rankings))

	c.JSON(200, gin.H{"data": result})
}

// ListProviders 列出已注册的平台
func (h *QueryHandler) ListProviders(c *gin.Context) {
	names := h.registry.Names()
	resp := make([]gin.H, 0, len(names))
	for _, name := range names {
		p, err := h.registry.Get(name)
		if err != nil {
			continue
		}
		resp = append(resp, gin.H{
			"name":     name,
			"accounts": p.Pool.Size(),
		})
	}
	c.JSON(200, gin.H{"data": resp})
}
