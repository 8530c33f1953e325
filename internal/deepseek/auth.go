package deepseek

import (
	"context"
	"net/http"

	"github.com/xiaopang/geoprobe/internal/core"
	"github.com/xiaopang/geoprobe/internal/logger"
	"github.com/xiaopang/geoprobe/internal/model"
)

// Authenticator 邮箱 / 手机号 + 密码登录
type Authenticator struct {
	api *apiClient
	log *logger.Logger
}

// NewAuthenticator 创建认证器
func NewAuthenticator(baseURL string, client *http.Client) *Authenticator {
	return &Authenticator{
		api: newAPIClient(baseURL, client),
		log: logger.With("component", "deepseek.auth"),
	}
}

type loginData struct {
	User *struct {
		Token string `json:"token"`
	} `json:"user"`
}

// Login 登录并返回 token
func (a *Authenticator) Login(ctx context.Context, acc *model.Account) (string, error) {
	email := acc.Credentials["email"]
	mobile := acc.Credentials["mobile"]
	password := acc.Credentials["password"]
	if password == "" || (email == "" && mobile == "") {
		return "", core.NewAPIError(http.StatusBadRequest, "account %s: missing login credentials", acc.ID)
	}

	payload := map[string]any{
		"password":  password,
		"device_id": "Deepseek",
		"os":        "android",
	}
	if email != "" {
		payload["email"] = email
	} else {
		payload["mobile"] = mobile
		payload["area_code"] = nil
	}

	resp, err := a.api.post(ctx, pathLogin, "", nil, payload)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", core.NewAPIError(http.StatusInternalServerError, "account login failed: %v", err)
	}
	defer resp.Body.Close()

	env, _, err := decodeEnvelope(resp)
	if err != nil {
		return "", core.NewAPIError(http.StatusInternalServerError, "account login failed: %v", err)
	}
	var data loginData
	if ok, err := env.bizData(&data); err != nil || !ok || data.User == nil || data.User.Token == "" {
		a.log.Warn("login rejected", "account", acc.ID, "status", resp.StatusCode, "code", env.Code, "msg", env.Msg)
		return "", core.NewAPIError(http.StatusInternalServerError, "account login failed: invalid response format")
	}

	a.log.Info("login succeeded", "account", acc.ID)
	return data.User.Token, nil
}

// Refresh 平台没有刷新接口，总是要求完整登录
func (a *Authenticator) Refresh(context.Context, *model.Account) (string, error) {
	return "", nil
}

// NeedsManualLogin 密码登录无需人工介入
func (a *Authenticator) NeedsManualLogin() bool {
	return false
}

// InitiateLogin 不支持人工登录
func (a *Authenticator) InitiateLogin(_ context.Context, acc *model.Account) (*model.LoginSession, error) {
	return nil, &core.LoginRequiredError{AccountID: acc.ID, LoginType: model.LoginTypeAPI}
}
