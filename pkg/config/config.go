package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"PortfolioAgent/pkg/model"
)

// Config 应用配置
type Config struct {
	App struct {
		Name string `yaml:"name" default:"portfolio-agent"`
		Env  string `yaml:"env" default:"dev"`
	} `yaml:"app"`

	API API `yaml:"api"`

	Database Database `yaml:"database"`

	DataSources struct {
		Tushare Tushare `yaml:"tushare"`
	} `yaml:"data_sources"`

	Cache Cache `yaml:"cache"`

	Batch Batch `yaml:"batch"`

	LLM LLM `yaml:"llm"`

	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix" default:"portfolio"`
	} `yaml:"nats"`

	Redis Redis `yaml:"redis"`

	Logging Logging `yaml:"logging"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
}

// API HTTP服务配置
type API struct {
	Port            string        `yaml:"port" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5s"`
}

// Database 数据库配置，driver 为 sqlite 时使用 Path
type Database struct {
	Driver   string `yaml:"driver" default:"sqlite" validate:"oneof=sqlite postgres"`
	Path     string `yaml:"path" default:"./data/portfolio.db"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" default:"5432"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode" default:"disable"`
}

// Tushare 数据源配置
type Tushare struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url" default:"https://api.tushare.pro"`
	Timeout           time.Duration `yaml:"timeout" default:"10s"`
	RateLimit         int           `yaml:"rate_limit" default:"200" validate:"gt=0"` // 每分钟请求数
	MaxAttempts       int           `yaml:"max_attempts" default:"3" validate:"gte=1"`
	BackoffBase       time.Duration `yaml:"backoff_base" default:"1s"`
	PriceLookbackDays int           `yaml:"price_lookback_days" default:"730" validate:"gt=0"`
}

// Cache 缓存与刷新配置
type Cache struct {
	PriceTTL     time.Duration `yaml:"price_ttl" default:"24h" validate:"gt=0"`
	FinancialTTL time.Duration `yaml:"financial_ttl" default:"2160h" validate:"gt=0"`
	ValuationTTL time.Duration `yaml:"valuation_ttl" default:"24h" validate:"gt=0"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" default:"30s" validate:"gt=0"`
	DefaultLimit int           `yaml:"default_limit" default:"200" validate:"gt=0"`
}

// TTL 返回数据类别对应的 TTL
func (c Cache) TTL(kind model.DataKind) time.Duration {
	switch kind {
	case model.KindFinancial:
		return c.FinancialTTL
	case model.KindValuation:
		return c.ValuationTTL
	default:
		return c.PriceTTL
	}
}

// Batch 批量刷新配置
type Batch struct {
	Workers   int      `yaml:"workers" default:"4" validate:"gt=0"`
	Cron      string   `yaml:"cron" default:"30 17 * * 1-5"`
	Watchlist []string `yaml:"watchlist"`
	DataKinds []string `yaml:"data_kinds"`
}

// LLM 大模型配置
type LLM struct {
	APIURL      string        `yaml:"api_url" default:"https://api.deepseek.com/chat/completions"`
	APIKey      string        `yaml:"api_key"`
	ModelName   string        `yaml:"model_name" default:"deepseek-chat"`
	Timeout     time.Duration `yaml:"timeout" default:"10s"`
	MaxAttempts int           `yaml:"max_attempts" default:"3" validate:"gte=1"`
}

// Redis 跨进程刷新锁配置，Addr 为空时不启用
type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl" default:"60s"`
	LockWait time.Duration `yaml:"lock_wait" default:"45s"`
}

// Logging 日志配置
type Logging struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"console" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

// Default 返回全部使用默认值的配置
func Default() *Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		panic(fmt.Sprintf("设置默认配置失败: %v", err))
	}
	return &cfg
}

// LoadConfig 从文件加载配置
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	// 读取配置文件
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 环境变量覆盖
	overrideFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault 配置文件不存在时使用默认值加环境变量
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		overrideFromEnv(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadConfig(path)
}

var validate = validator.New()

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	if c.Database.Driver == "postgres" && c.Database.Host == "" {
		return fmt.Errorf("配置校验失败: postgres 需要 database.host")
	}
	if _, err := model.ParseDataKinds(c.Batch.DataKinds); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	return nil
}

// overrideFromEnv 使用环境变量覆盖配置
func overrideFromEnv(config *Config) {
	// 应用
	setString(&config.App.Name, "APP_NAME")
	setString(&config.App.Env, "APP_ENV")

	// Tushare配置
	setString(&config.DataSources.Tushare.APIKey, "TUSHARE_API_KEY")
	setString(&config.DataSources.Tushare.APIKey, "TUSHARE_TOKEN")
	setString(&config.DataSources.Tushare.BaseURL, "TUSHARE_BASE_URL")

	// 数据库配置
	setString(&config.Database.Driver, "DB_DRIVER")
	setString(&config.Database.Path, "DB_PATH")
	setString(&config.Database.Host, "DB_HOST")
	setString(&config.Database.User, "DB_USER")
	setString(&config.Database.Password, "DB_PASSWORD")
	setString(&config.Database.DBName, "DB_NAME")
	if env := os.Getenv("DB_PORT"); env != "" {
		if port, err := strconv.Atoi(env); err == nil && port > 0 {
			config.Database.Port = port
		}
	}

	// 缓存TTL，支持 "24h" 或秒数
	setDuration(&config.Cache.PriceTTL, "PRICE_TTL")
	setDuration(&config.Cache.FinancialTTL, "FINANCIAL_TTL")
	setDuration(&config.Cache.ValuationTTL, "VALUATION_TTL")

	// 大模型
	setString(&config.LLM.APIKey, "DEEPSEEK_API_KEY")
	setString(&config.LLM.APIURL, "DEEPSEEK_API_URL")

	// 消息与锁
	setString(&config.NATS.URL, "NATS_URL")
	setString(&config.Redis.Addr, "REDIS_ADDR")
	setString(&config.Redis.Password, "REDIS_PASSWORD")

	// API配置
	setString(&config.API.Port, "API_PORT")
	setString(&config.Logging.Level, "LOG_LEVEL")

	if env := os.Getenv("WATCHLIST"); env != "" {
		config.Batch.Watchlist = splitList(env)
	}
}

func setString(dst *string, key string) {
	if env := os.Getenv(key); env != "" {
		*dst = env
	}
}

func setDuration(dst *time.Duration, key string) {
	env := os.Getenv(key)
	if env == "" {
		return
	}
	if d, err := time.ParseDuration(env); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.ParseInt(env, 10, 64); err == nil && secs > 0 {
		*dst = time.Duration(secs) * time.Second
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetDefaultConfigPath 获取默认配置文件路径
func GetDefaultConfigPath() string {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev" // 默认开发环境
	}

	return fmt.Sprintf("configs/%s/app.yaml", env)
}
