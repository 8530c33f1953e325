package api

import (
	"strings"
	"unicode/utf8"
)

// truncateBody 截断到 max 字节以内，不切断多字节字符
func truncateBody(b []byte, max int) string {
	if max <= 0 {
		return ""
	}
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
