package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Telegram     TelegramConfig    `yaml:"telegram"`
	DatabasePath string            `yaml:"database_path"`
	LogLevel     string            `yaml:"log_level"`
	OperatorIDs  []int64           `yaml:"operator_ids"`
	LogChatID    int64             `yaml:"log_chat_id"`
	Health       HealthConfig      `yaml:"health"`
	Monitor      MonitorConfig     `yaml:"monitor"`
	Captcha      CaptchaConfig     `yaml:"captcha"`
	Enforcement  EnforcementConfig `yaml:"enforcement"`
	Profile      ProfileConfig     `yaml:"profile"`
}

type TelegramConfig struct {
	Token              string `yaml:"token"`
	PollTimeoutSeconds int    `yaml:"poll_timeout_seconds"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type MonitorConfig struct {
	RetentionSeconds     int     `yaml:"retention_seconds"`
	Capacity             int     `yaml:"capacity"`
	SweepIntervalSeconds int     `yaml:"sweep_interval_seconds"`
	EvictFraction        float64 `yaml:"evict_fraction"`
}

type CaptchaConfig struct {
	Enabled              bool      `yaml:"enabled"`
	TimeoutSeconds       int       `yaml:"timeout_seconds"`
	SuccessNoticeSeconds int       `yaml:"success_notice_seconds"`
	FailureNoticeSeconds int       `yaml:"failure_notice_seconds"`
	Problems             []Problem `yaml:"problems"`
}

type Problem struct {
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
}

type EnforcementConfig struct {
	WarnNoticeSeconds int `yaml:"warn_notice_seconds"`
}

type ProfileConfig struct {
	Patterns []string `yaml:"patterns"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath: "/data/chatwarden.db",
		LogLevel:     "info",
		Telegram:     TelegramConfig{PollTimeoutSeconds: 10},
		Health:       HealthConfig{Enabled: false, Addr: ":8080"},
		Monitor: MonitorConfig{
			RetentionSeconds:     600,
			Capacity:             5000,
			SweepIntervalSeconds: 10,
			EvictFraction:        0.1,
		},
		Captcha: CaptchaConfig{
			Enabled:              true,
			TimeoutSeconds:       15,
			SuccessNoticeSeconds: 5,
			FailureNoticeSeconds: 3,
			Problems:             DefaultProblems(),
		},
		Enforcement: EnforcementConfig{WarnNoticeSeconds: 5},
		Profile:     ProfileConfig{Patterns: DefaultProfilePatterns()},
	}
}

func DefaultProblems() []Problem {
	return []Problem{
		{"2+3", "5"}, {"5-2", "3"}, {"4*2", "8"},
		{"6/3", "2"}, {"1+4", "5"}, {"7-3", "4"},
		{"3+2", "5"}, {"8-4", "4"}, {"2*3", "6"},
		{"9/3", "3"}, {"5+1", "6"}, {"6-1", "5"},
	}
}

func DefaultProfilePatterns() []string {
	return []string{
		`t\.me/\+[a-zA-Z0-9_-]+`,
		`t\.me/[a-zA-Z0-9_]{4,32}`,
		`https://t\.me/\+[a-zA-Z0-9_-]+`,
		`https://t\.me/[a-zA-Z0-9_]{4,32}`,
		`http://t\.me/[a-zA-Z0-9_]{4,32}`,
		`telegram\.me/[a-zA-Z0-9_]{4,32}`,
		`https://telegram\.me/[a-zA-Z0-9_]{4,32}`,
		`tg://resolve\?domain=[a-zA-Z0-9_]{4,32}`,
		`tg://join\?invite=[a-zA-Z0-9_]+`,
		`https?://[^\s]+`,
		`блог`,
		`канал`,
		`channel`,
		`подпис`,
		`subscribe`,
		`партнер`,
		`реклама`,
		`продвижение`,
		`заработок`,
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.Telegram.Token == "" {
		return Config{}, errors.New("TELEGRAM_TOKEN is required")
	}
	normalize(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Telegram.Token = envString("TELEGRAM_TOKEN", cfg.Telegram.Token)
	cfg.Telegram.PollTimeoutSeconds = envInt("TELEGRAM_POLL_TIMEOUT", cfg.Telegram.PollTimeoutSeconds)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.OperatorIDs = envInt64List("OPERATOR_IDS", cfg.OperatorIDs)
	cfg.LogChatID = envInt64("LOG_CHAT_ID", cfg.LogChatID)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Monitor.RetentionSeconds = envInt("MONITOR_RETENTION_SECONDS", cfg.Monitor.RetentionSeconds)
	cfg.Monitor.Capacity = envInt("MONITOR_CAPACITY", cfg.Monitor.Capacity)
	cfg.Monitor.SweepIntervalSeconds = envInt("MONITOR_SWEEP_SECONDS", cfg.Monitor.SweepIntervalSeconds)
	cfg.Captcha.Enabled = envBool("CAPTCHA_ENABLED", cfg.Captcha.Enabled)
	cfg.Captcha.TimeoutSeconds = envInt("CAPTCHA_TIMEOUT", cfg.Captcha.TimeoutSeconds)
}

// normalize replaces unusable values with defaults.
func normalize(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.Telegram.PollTimeoutSeconds <= 0 {
		cfg.Telegram.PollTimeoutSeconds = defaults.Telegram.PollTimeoutSeconds
	}
	if cfg.Monitor.RetentionSeconds <= 0 {
		cfg.Monitor.RetentionSeconds = defaults.Monitor.RetentionSeconds
	}
	if cfg.Monitor.Capacity <= 0 {
		cfg.Monitor.Capacity = defaults.Monitor.Capacity
	}
	if cfg.Monitor.SweepIntervalSeconds <= 0 {
		cfg.Monitor.SweepIntervalSeconds = defaults.Monitor.SweepIntervalSeconds
	}
	if cfg.Monitor.EvictFraction <= 0 || cfg.Monitor.EvictFraction > 1 {
		cfg.Monitor.EvictFraction = defaults.Monitor.EvictFraction
	}
	if cfg.Captcha.TimeoutSeconds <= 0 {
		cfg.Captcha.TimeoutSeconds = defaults.Captcha.TimeoutSeconds
	}
	if cfg.Captcha.SuccessNoticeSeconds <= 0 {
		cfg.Captcha.SuccessNoticeSeconds = defaults.Captcha.SuccessNoticeSeconds
	}
	if cfg.Captcha.FailureNoticeSeconds <= 0 {
		cfg.Captcha.FailureNoticeSeconds = defaults.Captcha.FailureNoticeSeconds
	}
	if len(cfg.Captcha.Problems) == 0 {
		cfg.Captcha.Problems = defaults.Captcha.Problems
	}
	if cfg.Enforcement.WarnNoticeSeconds <= 0 {
		cfg.Enforcement.WarnNoticeSeconds = defaults.Enforcement.WarnNoticeSeconds
	}
	if len(cfg.Profile.Patterns) == 0 {
		cfg.Profile.Patterns = defaults.Profile.Patterns
	}
}

func (c Config) IsOperator(userID int64) bool {
	for _, id := range c.OperatorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func envInt64List(key string, fallback []int64) []int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var ids []int64
	for _, part := range strings.Split(value, ",") {
		parsed, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, parsed)
	}
	if len(ids) == 0 {
		return fallback
	}
	return ids
}
