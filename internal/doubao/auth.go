// Package doubao implements the Doubao platform on the Volcengine Ark
// OpenAI-compatible chat API with web search.
package doubao

import (
	"context"
	"net/http"

	"github.com/xiaopang/geoprobe/internal/core"
	"github.com/xiaopang/geoprobe/internal/model"
)

// Authenticator API Key 即 token
type Authenticator struct{}

// Login 返回账号配置的 api_key
func (Authenticator) Login(_ context.Context, acc *model.Account) (string, error) {
	key := acc.Credentials["api_key"]
	if key == "" {
		return "", core.NewAPIError(http.StatusBadRequest, "account %s: missing api_key", acc.ID)
	}
	return key, nil
}

// Refresh 无刷新机制
func (Authenticator) Refresh(context.Context, *model.Account) (string, error) {
	return "", nil
}

// NeedsManualLogin API Key 无需人工登录
func (Authenticator) NeedsManualLogin() bool {
	return false
}

// InitiateLogin 不支持人工登录
func (Authenticator) InitiateLogin(_ context.Context, acc *model.Account) (*model.LoginSession, error) {
	return nil, &core.LoginRequiredError{AccountID: acc.ID, LoginType: model.LoginTypeAPI}
}
