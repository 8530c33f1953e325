package core

import (
	"fmt"

	"github.com/xiaopang/geoprobe/internal/model"
)

// BuildAccounts 根据配置中的凭证和已保存的 token 构建账号
//
// 配置里写了 token 的账号直接使用，否则使用存储中的 token。
func BuildAccounts(creds []map[string]string, storage TokenStorage) ([]*model.Account, error) {
	saved := map[string]string{}
	if storage != nil {
		all, err := storage.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("load tokens: %w", err)
		}
		saved = all
	}

	accounts := make([]*model.Account, 0, len(creds))
	for i, c := range creds {
		acc := &model.Account{
			ID:          accountIDFor(c, i),
			Credentials: make(map[string]string, len(c)),
			Status:      model.StatusNeedLogin,
			Metadata:    map[string]any{},
		}
		for k, v := range c {
			if k == "token" {
				continue
			}
			acc.Credentials[k] = v
		}
		acc.Token = c["token"]
		if acc.Token == "" {
			acc.Token = saved[acc.ID]
		}
		if acc.HasToken() {
			acc.Status = model.StatusLoggedIn
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}
