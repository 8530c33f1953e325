package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xiaopang/geoprobe/internal/logger"
)

// JSONFileTokenStorage 把 token 保存在一个 JSON 文件中（account_id -> token）
type JSONFileTokenStorage struct {
	mu   sync.Mutex
	path string
}

// NewJSONFileTokenStorage 创建 JSON 文件 token 存储
func NewJSONFileTokenStorage(path string) *JSONFileTokenStorage {
	return &JSONFileTokenStorage{path: path}
}

// Path 存储文件路径
func (s *JSONFileTokenStorage) Path() string { return s.path }

// Load 读取单个账号的 token
func (s *JSONFileTokenStorage) Load(accountID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens, err := s.read()
	if err != nil {
		return "", false, err
	}
	token, ok := tokens[accountID]
	return token, ok, nil
}

// LoadAll 读取全部 token，文件不存在时返回空 map
func (s *JSONFileTokenStorage) LoadAll() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Save 保存 token，先写临时文件再 rename
func (s *JSONFileTokenStorage) Save(accountID, token string) error {
	if token == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.read()
	if err != nil {
		return err
	}
	if tokens[accountID] == token {
		return nil
	}
	tokens[accountID] = token

	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create token dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write tokens: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace tokens: %w", err)
	}
	return nil
}

func (s *JSONFileTokenStorage) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tokens: %w", err)
	}
	tokens := map[string]string{}
	if len(data) == 0 {
		return tokens, nil
	}
	if err := json.Unmarshal(data, &tokens); err != nil {
		// 损坏的文件按空处理，下一次 Save 会覆盖
		logger.Warn("token file corrupt, ignoring", "path", s.path, "error", err)
		return map[string]string{}, nil
	}
	return tokens, nil
}

// MemoryTokenStorage 内存 token 存储，用于不需要持久化的场景
type MemoryTokenStorage struct {
	mu     sync.Mutex
	tokens map[string]string
}

// NewMemoryTokenStorage 创建内存 token 存储
func NewMemoryTokenStorage() *MemoryTokenStorage {
	return &MemoryTokenStorage{tokens: make(map[string]string)}
}

func (s *MemoryTokenStorage) Load(accountID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[accountID]
	return token, ok, nil
}

func (s *MemoryTokenStorage) LoadAll() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.tokens))
	for k, v := range s.tokens {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryTokenStorage) Save(accountID, token string) error {
	if token == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[accountID] = token
	return nil
}
