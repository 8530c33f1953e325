package api

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/xiaopang/geoprobe/internal/core"
	"github.com/xiaopang/geoprobe/internal/model"
	"github.com/xiaopang/geoprobe/internal/store"
)

// respondError 按错误类型返回状态码和错误体
func respondError(c *gin.Context, err error) {
	status, typ := classify(err)
	c.JSON(status, model.ErrorResponse{
		Error: model.ErrorDetail{
			Message: err.Error(),
			Type:    typ,
			Code:    core.ErrorKind(err),
		},
	})
}

func classify(err error) (int, string) {
	var (
		noAccount *core.NoAccountAvailableError
		exhausted *core.AllRetriesFailedError
		login     *core.LoginRequiredError
		apiErr    *core.APIError
	)
	switch {
	case errors.Is(err, core.ErrPlatformNotFound),
		errors.Is(err, core.ErrAccountNotFound),
		errors.Is(err, core.ErrNoActiveLogin),
		errors.Is(err, store.ErrNotFound):
		return 404, "not_found_error"
	case errors.Is(err, core.ErrCaptchaUnsupported):
		return 400, "invalid_request_error"
	case errors.As(err, &noAccount):
		return 503, "no_account_available"
	case errors.As(err, &exhausted):
		return 502, "upstream_error"
	case errors.As(err, &login):
		return 409, "login_required"
	case errors.As(err, &apiErr):
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return apiErr.StatusCode, "invalid_request_error"
		}
		return 502, "upstream_error"
	case errors.Is(err, context.DeadlineExceeded):
		return 504, "timeout_error"
	default:
		return 500, "internal_error"
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(400, model.ErrorResponse{
		Error: model.ErrorDetail{
			Message: msg,
			Type:    "invalid_request_error",
		},
	})
}
