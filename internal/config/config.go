package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xiaopang/geoprobe/internal/model"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Providers ProvidersConfig `yaml:"providers"`
	LLM       []LLMConfig     `yaml:"llm"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	APIKey      string `yaml:"api_key"`
	AdminAPIKey string `yaml:"admin_api_key"`
	// 查询接口按客户端限流，0 表示不限制
	QueryRPM        int `yaml:"query_rpm"`
	QueryConcurrent int `yaml:"query_concurrent"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level         string `yaml:"level"`
	File          string `yaml:"file"`
	RetentionDays int    `yaml:"retention_days"`
}

// ProvidersConfig 各平台配置
type ProvidersConfig struct {
	DeepSeek DeepSeekConfig `yaml:"deepseek"`
	Doubao   DoubaoConfig   `yaml:"doubao"`
}

// DeepSeekConfig DeepSeek 平台配置
type DeepSeekConfig struct {
	Enabled           bool                  `yaml:"enabled"`
	BaseURL           string                `yaml:"base_url"`
	Accounts          []map[string]string   `yaml:"accounts"`
	RateLimit         model.RateLimitConfig `yaml:"rate_limit"`
	Recovery          model.RecoveryPolicy  `yaml:"recovery"`
	TokenStoragePath  string                `yaml:"token_storage_path"`
	WASMPath          string                `yaml:"wasm_path"`
	MaxRetries        int                   `yaml:"max_retries"`
	AttemptTimeout    float64               `yaml:"attempt_timeout"` // 秒
	Impersonate       string                `yaml:"impersonate"`     // chrome | none
	Proxy             string                `yaml:"proxy"`
	LoginPollInterval float64               `yaml:"login_poll_interval"` // 秒
}

// DoubaoConfig 豆包（火山方舟）平台配置
type DoubaoConfig struct {
	Enabled        bool                  `yaml:"enabled"`
	BaseURL        string                `yaml:"base_url"`
	EndpointID     string                `yaml:"endpoint_id"`
	Model          string                `yaml:"model"`
	Accounts       []map[string]string   `yaml:"accounts"`
	RateLimit      model.RateLimitConfig `yaml:"rate_limit"`
	Recovery       model.RecoveryPolicy  `yaml:"recovery"`
	MaxRetries     int                   `yaml:"max_retries"`
	AttemptTimeout float64               `yaml:"attempt_timeout"` // 秒
	Proxy          string                `yaml:"proxy"`
}

// LLMConfig 排名提取使用的 OpenAI 兼容模型
type LLMConfig struct {
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	Model        string  `yaml:"model"`
	Timeout      float64 `yaml:"timeout"` // 秒
	MaxRetries   int     `yaml:"max_retries"`
	Organization string  `yaml:"organization"`
	Project      string  `yaml:"project"`
}

// CrawlerConfig 批量抓取配置
type CrawlerConfig struct {
	JobsDir          string  `yaml:"jobs_dir"`
	NoAccountBackoff float64 `yaml:"no_account_backoff"` // 秒
	ProgressEvery    int     `yaml:"progress_every"`
}

var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Load 从文件加载配置，先加载 .env，再展开凭证中的 ${VAR}
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// 支持通过 "auto" 自动生成 API Key（首次加载后落盘）
	if maybeGenerateKeys(cfg) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	expandSecrets(cfg)
	setDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()

	return cfg, nil
}

func maybeGenerateKeys(cfg *Config) bool {
	changed := false

	if strings.EqualFold(strings.TrimSpace(cfg.Server.APIKey), "auto") {
		cfg.Server.APIKey = generateAPIKey("geoprobe-user")
		changed = true
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Server.AdminAPIKey), "auto") {
		cfg.Server.AdminAPIKey = generateAPIKey("geoprobe-admin")
		changed = true
	}

	return changed
}

func generateAPIKey(prefix string) string {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return prefix + "-fallback-key"
	}
	return prefix + "-" + hex.EncodeToString(b)
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv 只展开 ${VAR} 形式，密码中的普通 $ 保持原样
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envRef.FindStringSubmatch(m)[1])
	})
}

func expandSecrets(cfg *Config) {
	cfg.Server.APIKey = ExpandEnv(cfg.Server.APIKey)
	cfg.Server.AdminAPIKey = ExpandEnv(cfg.Server.AdminAPIKey)
	for _, accounts := range [][]map[string]string{cfg.Providers.DeepSeek.Accounts, cfg.Providers.Doubao.Accounts} {
		for _, acc := range accounts {
			for k, v := range acc {
				acc[k] = ExpandEnv(v)
			}
		}
	}
	for i := range cfg.LLM {
		cfg.LLM[i].APIKey = ExpandEnv(cfg.LLM[i].APIKey)
		cfg.LLM[i].BaseURL = ExpandEnv(cfg.LLM[i].BaseURL)
	}
}

// Get 获取全局配置
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 18080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/geoprobe.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.RetentionDays == 0 {
		cfg.Logging.RetentionDays = 30
	}

	ds := &cfg.Providers.DeepSeek
	if ds.BaseURL == "" {
		ds.BaseURL = "https://chat.deepseek.com"
	}
	ds.RateLimit = rateLimitDefaults(ds.RateLimit, model.DefaultRateLimit())
	if ds.Recovery.Mode == "" {
		ds.Recovery.Mode = model.RecoveryManual
	}
	if ds.TokenStoragePath == "" {
		ds.TokenStoragePath = "data/deepseek_tokens.json"
	}
	if ds.WASMPath == "" {
		ds.WASMPath = "sha3_wasm_bg.7b9ca65ddd.wasm"
	}
	if ds.MaxRetries == 0 {
		ds.MaxRetries = 3
	}
	if ds.AttemptTimeout == 0 {
		ds.AttemptTimeout = 300
	}
	if ds.Impersonate == "" {
		ds.Impersonate = "chrome"
	}
	if ds.LoginPollInterval == 0 {
		ds.LoginPollInterval = 1
	}

	db := &cfg.Providers.Doubao
	if db.BaseURL == "" {
		db.BaseURL = "https://ark.cn-beijing.volces.com/api/v3/"
	}
	if db.Model == "" {
		db.Model = "doubao-pro-32k"
	}
	db.RateLimit = rateLimitDefaults(db.RateLimit, model.RateLimitConfig{MaxRequestsPerPeriod: 60, PeriodSeconds: 60})
	if db.Recovery.Mode == "" {
		db.Recovery.Mode = model.RecoveryManual
	}
	if db.MaxRetries == 0 {
		db.MaxRetries = 2
	}
	if db.AttemptTimeout == 0 {
		db.AttemptTimeout = 120
	}

	for i := range cfg.LLM {
		if cfg.LLM[i].Timeout == 0 {
			cfg.LLM[i].Timeout = 60
		}
		if cfg.LLM[i].MaxRetries == 0 {
			cfg.LLM[i].MaxRetries = 2
		}
	}

	if cfg.Crawler.JobsDir == "" {
		cfg.Crawler.JobsDir = "jobs"
	}
	if cfg.Crawler.NoAccountBackoff == 0 {
		cfg.Crawler.NoAccountBackoff = 1
	}
	if cfg.Crawler.ProgressEvery == 0 {
		cfg.Crawler.ProgressEvery = 10
	}
}

func rateLimitDefaults(rl, def model.RateLimitConfig) model.RateLimitConfig {
	if rl == (model.RateLimitConfig{}) {
		return def
	}
	if rl.PeriodSeconds == 0 {
		rl.PeriodSeconds = def.PeriodSeconds
	}
	return rl
}

// Validate 检查启用的平台配置是否完整
func (c *Config) Validate() error {
	var errs []error
	if ds := c.Providers.DeepSeek; ds.Enabled {
		if len(ds.Accounts) == 0 {
			errs = append(errs, errors.New("providers.deepseek: no accounts configured"))
		}
		switch ds.Recovery.Mode {
		case model.RecoveryManual, model.RecoveryCooldown:
		default:
			errs = append(errs, fmt.Errorf("providers.deepseek.recovery.mode: unknown mode %q", ds.Recovery.Mode))
		}
	}
	if db := c.Providers.Doubao; db.Enabled {
		if db.EndpointID == "" {
			errs = append(errs, errors.New("providers.doubao: endpoint_id is required"))
		}
		hasKey := false
		for _, acc := range db.Accounts {
			if acc["api_key"] != "" {
				hasKey = true
			}
		}
		if !hasKey {
			errs = append(errs, errors.New("providers.doubao: no account with api_key"))
		}
	}
	for i, l := range c.LLM {
		if l.BaseURL == "" || l.Model == "" {
			errs = append(errs, fmt.Errorf("llm[%d]: base_url and model are required", i))
		}
	}
	return errors.Join(errs...)
}

// Duration 把配置中的秒数转为 time.Duration
func Duration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// Save 保存配置到文件
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
