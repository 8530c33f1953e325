package deepseek

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/xiaopang/geoprobe/internal/core"
	"github.com/xiaopang/geoprobe/internal/logger"
	"github.com/xiaopang/geoprobe/internal/model"
	"github.com/xiaopang/geoprobe/internal/pow"
)

// SessionManager 每次调用前创建对话并解 PoW 挑战
type SessionManager struct {
	api    *apiClient
	solver *pow.Solver
	log    *logger.Logger
}

// NewSessionManager 创建会话管理器
func NewSessionManager(baseURL string, client *http.Client, solver *pow.Solver) *SessionManager {
	return &SessionManager{
		api:    newAPIClient(baseURL, client),
		solver: solver,
		log:    logger.With("component", "deepseek.session"),
	}
}

// Prepare 创建对话会话并计算 PoW 响应
func (m *SessionManager) Prepare(ctx context.Context, acc *model.Account, token string) (*core.SessionData, error) {
	sessionID, err := m.createSession(ctx, acc, token)
	if err != nil {
		return nil, err
	}
	powResponse, err := m.createPoW(ctx, acc, token)
	if err != nil {
		return nil, err
	}
	return &core.SessionData{SessionID: sessionID, PowResponse: powResponse}, nil
}

func (m *SessionManager) createSession(ctx context.Context, acc *model.Account, token string) (string, error) {
	env, status, err := m.request(ctx, acc, token, pathCreateSession, map[string]any{"agent": "chat"}, "session_creation")
	if err != nil {
		return "", err
	}
	var data struct {
		ID string `json:"id"`
	}
	if ok, err := env.bizData(&data); err != nil || !ok || data.ID == "" {
		return "", core.NewAPIError(errorStatus(status), "create session: missing session id")
	}
	m.log.Debug("session created", "account", acc.ID, "session", data.ID)
	return data.ID, nil
}

func (m *SessionManager) createPoW(ctx context.Context, acc *model.Account, token string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, powRequestTimeout)
	defer cancel()

	env, status, err := m.request(reqCtx, acc, token, pathCreatePoW, map[string]any{"target_path": pathCompletion}, "pow_creation")
	if err != nil {
		return "", err
	}
	var data struct {
		Challenge *pow.Challenge `json:"challenge"`
	}
	if ok, err := env.bizData(&data); err != nil || !ok || data.Challenge == nil {
		return "", core.NewAPIError(errorStatus(status), "create pow challenge: missing challenge")
	}

	answer, err := m.solver.Answer(ctx, *data.Challenge)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", core.NewAPIError(http.StatusInternalServerError, "pow computation failed: %v", err)
	}
	encoded, err := answer.Encode()
	if err != nil {
		return "", core.NewAPIError(http.StatusInternalServerError, "pow encode failed: %v", err)
	}
	m.log.Debug("pow solved", "account", acc.ID, "answer", answer.Answer, "difficulty", data.Challenge.Difficulty)
	return encoded, nil
}

// request 发送请求并统一处理 token 失效和接口错误，返回 envelope 和 HTTP 状态码
func (m *SessionManager) request(ctx context.Context, acc *model.Account, token, path string, body any, stage string) (*envelope, int, error) {
	resp, err := m.api.post(ctx, path, token, nil, body)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, 0, ctx.Err()
		}
		return nil, 0, core.NewAPIError(http.StatusInternalServerError, "%s: %v", stage, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp, acc.ID, stage); err != nil {
		return nil, resp.StatusCode, err
	}
	env, raw, err := decodeEnvelope(resp)
	if err != nil {
		return nil, resp.StatusCode, core.NewAPIError(errorStatus(resp.StatusCode), "%s: %v", stage, err)
	}
	if env.authFailure() {
		return nil, resp.StatusCode, &core.TokenExpiredError{AccountID: acc.ID, Stage: stage}
	}
	if resp.StatusCode != http.StatusOK || env.Code != 0 {
		return nil, resp.StatusCode, core.NewAPIError(errorStatus(resp.StatusCode), "%s: %s", stage, strings.TrimSpace(string(raw)))
	}
	return env, resp.StatusCode, nil
}

// errorStatus 成功状态码下的业务错误按 500 处理
func errorStatus(status int) int {
	if status >= http.StatusBadRequest {
		return status
	}
	return http.StatusInternalServerError
}
