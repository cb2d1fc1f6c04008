package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server       ServerConfig
	AI           AIConfig
	Store        StoreConfig
	Memory       MemoryConfig
	Gamification GamificationConfig
	Log          LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	memory, err := loadMemoryConfig()
	if err != nil {
		return nil, err
	}

	gamification, err := loadGamificationConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:       server,
		AI:           ai,
		Store:        store,
		Memory:       memory,
		Gamification: gamification,
		Log:          logCfg,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。主模型失败且判定为过载时使用备用模型。
type AIConfig struct {
	APIKey        string
	AccessKey     string
	SecretKey     string
	PrimaryModel  string
	FallbackModel string
	BaseURL       string
	Region        string
	Temperature   *float64
	MaxTokens     *int
	Timeout       time.Duration
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.PrimaryModel != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// FallbackEnabled reports whether a distinct fallback tier is configured.
func (c AIConfig) FallbackEnabled() bool {
	return c.Enabled() && c.FallbackModel != "" && c.FallbackModel != c.PrimaryModel
}

// NewChatModel 使用配置为指定模型创建一个实例。
func (c AIConfig) NewChatModel(ctx context.Context, modelName string) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + MODEL_PRIMARY or an AK/SK pair")
	}
	if strings.TrimSpace(modelName) == "" {
		return nil, fmt.Errorf("model name is required")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       modelName,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeoutSeconds := 30
	if override, err := parseOptionalIntEnv("LLM_TIMEOUT_SECONDS"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AIConfig{}, fmt.Errorf("invalid LLM_TIMEOUT_SECONDS value %d: must be positive", *override)
		}
		timeoutSeconds = *override
	}

	return AIConfig{
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		PrimaryModel:  strings.TrimSpace(os.Getenv("MODEL_PRIMARY")),
		FallbackModel: strings.TrimSpace(os.Getenv("MODEL_FALLBACK")),
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:   temperature,
		MaxTokens:     maxTokens,
		Timeout:       time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// StoreConfig 描述持久化配置。Path 为空时使用内存存储。
type StoreConfig struct {
	Path         string
	CacheEnabled bool
}

func loadStoreConfig() (StoreConfig, error) {
	cacheEnabled, err := parseBoolEnv("SUMMARY_CACHE_ENABLED", true)
	if err != nil {
		return StoreConfig{}, err
	}
	return StoreConfig{
		Path:         strings.TrimSpace(os.Getenv("DB_PATH")),
		CacheEnabled: cacheEnabled,
	}, nil
}

// MemoryConfig 控制摘要压缩与上下文拼装。
type MemoryConfig struct {
	RecentTurns int
	Workers     int
}

func loadMemoryConfig() (MemoryConfig, error) {
	recent := 8
	if override, err := parseOptionalIntEnv("MEMORY_RECENT_TURNS"); err != nil {
		return MemoryConfig{}, err
	} else if override != nil {
		if *override < 1 {
			recent = 1
		} else {
			recent = *override
		}
	}

	workers := 4
	if override, err := parseOptionalIntEnv("SUMMARY_WORKERS"); err != nil {
		return MemoryConfig{}, err
	} else if override != nil {
		if *override < 1 {
			workers = 1
		} else {
			workers = *override
		}
	}

	return MemoryConfig{RecentTurns: recent, Workers: workers}, nil
}

// GamificationConfig 描述成长体系配置。日历日按 Location 计算。
type GamificationConfig struct {
	Location   *time.Location
	BadgeSweep string
}

func loadGamificationConfig() (GamificationConfig, error) {
	tz := getEnvOrDefault("GAMIFICATION_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return GamificationConfig{}, fmt.Errorf("invalid GAMIFICATION_TIMEZONE value %q: %w", tz, err)
	}

	sweep := "@every 1h"
	if raw, ok := os.LookupEnv("BADGE_SWEEP_CRON"); ok {
		sweep = strings.TrimSpace(raw)
	}

	return GamificationConfig{Location: loc, BadgeSweep: sweep}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level      string
	File       string
	Console    bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func loadLogConfig() (LogConfig, error) {
	console, err := parseBoolEnv("LOG_CONSOLE", true)
	if err != nil {
		return LogConfig{}, err
	}

	cfg := LogConfig{
		Level:      getEnvOrDefault("LOG_LEVEL", "info"),
		File:       strings.TrimSpace(os.Getenv("LOG_FILE")),
		Console:    console,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}

	for key, target := range map[string]*int{
		"LOG_MAX_SIZE_MB":  &cfg.MaxSizeMB,
		"LOG_MAX_BACKUPS":  &cfg.MaxBackups,
		"LOG_MAX_AGE_DAYS": &cfg.MaxAgeDays,
	} {
		val, err := parseOptionalIntEnv(key)
		if err != nil {
			return LogConfig{}, err
		}
		if val != nil {
			*target = *val
		}
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
