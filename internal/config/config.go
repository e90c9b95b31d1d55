package config

import (
	"fmt"
	"os"
	"time"

	"mailtriage/internal/classify"
	"mailtriage/internal/engine"
	"mailtriage/pkg/circuitbreaker"
	"mailtriage/pkg/config"
	"mailtriage/pkg/logger"
)

// ClassifierConfig 外部分类服务
type ClassifierConfig struct {
	URL        string                    `yaml:"url"`
	Timeout    time.Duration             `yaml:"timeout"`
	Breaker    circuitbreaker.Config     `yaml:"breaker"`
	Dispatcher classify.DispatcherConfig `yaml:"dispatcher"`
	// 单封邮件超时/不可用后的最大尝试次数
	MaxAttempts  int           `yaml:"max_attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Config is the triage service configuration.
type Config struct {
	Server     config.ServerConfig `yaml:"server"`
	DB         config.DBConfig     `yaml:"db"`
	MQ         config.MQConfig     `yaml:"mq"`
	Redis      config.RedisConfig  `yaml:"redis"`
	JWT        config.JWTConfig    `yaml:"jwt"`
	Log        logger.Config       `yaml:"log"`
	Classifier ClassifierConfig    `yaml:"classifier"`
	Engine     engine.Config       `yaml:"engine"`
	// tick 周期：逾期检查、升级与提醒
	TickInterval time.Duration `yaml:"tick_interval"`
}

// Default 返回默认配置，配置文件只需覆盖差异
func Default() Config {
	return Config{
		Server: config.ServerConfig{Port: "8080", ShutdownTimeout: 10 * time.Second},
		MQ:     config.MQConfig{Exchange: "triage", Prefetch: 10},
		Redis:  config.RedisConfig{DedupTTL: 24 * time.Hour, RetryTTL: time.Hour},
		Log:    logger.Config{Level: "info"},
		Classifier: ClassifierConfig{
			Timeout:      15 * time.Second,
			Breaker:      circuitbreaker.DefaultConfig(),
			Dispatcher:   classify.DefaultDispatcherConfig(),
			MaxAttempts:  3,
			PollInterval: 5 * time.Second,
		},
		Engine:       engine.DefaultConfig(),
		TickInterval: time.Minute,
	}
}

// Load reads base.yaml and <env>.yaml from configDir, then applies
// environment overrides.
func Load(env, configDir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	if url := os.Getenv("CLASSIFIER_URL"); url != "" {
		cfg.Classifier.URL = url
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Log.Level = lvl
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Classifier.URL == "" {
		return fmt.Errorf("classifier.url is required")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.Classifier.PollInterval <= 0 {
		return fmt.Errorf("classifier.poll_interval must be positive, got %s", c.Classifier.PollInterval)
	}
	if b := c.Engine.Learning.Bound; b <= 0 || b > 1 {
		return fmt.Errorf("engine.learning.bound must be in (0, 1], got %v", b)
	}
	if f := c.Engine.Learning.DecayFraction; f < 0 || f > 1 {
		return fmt.Errorf("engine.learning.decay_fraction must be in [0, 1], got %v", f)
	}
	if p := c.Engine.Persist; p.Timeout <= 0 || p.MaxPending <= 0 {
		return fmt.Errorf("engine.persist.timeout and max_pending must be positive, got %s / %d", p.Timeout, p.MaxPending)
	}
	return nil
}
