package core

import (
	"fmt"
	"strings"
)

// accountIDFor 账号 ID：email > mobile > id > 序号
func accountIDFor(creds map[string]string, idx int) string {
	for _, key := range []string{"email", "mobile", "id"} {
		if v := strings.TrimSpace(creds[key]); v != "" {
			return v
		}
	}
	return fmt.Sprintf("account-%d", idx+1)
}

// MaskSecret 日志和接口中展示敏感字段
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
