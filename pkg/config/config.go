// Package config 提供 TOML 配置加载、环境变量覆盖与配置校验
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 服务配置
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`

	HTTP         HTTPConfig         `mapstructure:"http"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	RateLimit    RateLimitConfig    `mapstructure:"ratelimit"`
	Ledger       RPCClientConfig    `mapstructure:"ledger"`
	Rates        RPCClientConfig    `mapstructure:"rates"`
	Notification NotificationConfig `mapstructure:"notification"`
	Settlement   SettlementConfig   `mapstructure:"settlement"`
	// 支持的币种列表
	Currencies []string `mapstructure:"currencies"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql, postgres
	Driver string `mapstructure:"driver"`
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	// 是否启用 SQL 日志
	LogEnabled bool `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold"`
	// 启动时自动迁移表结构
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxPoolSize  int    `mapstructure:"max_pool_size"`
	ConnTimeout  int    `mapstructure:"conn_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	// Broker 地址列表
	Brokers []string `mapstructure:"brokers"`
	// 最大重试次数
	MaxRetries int `mapstructure:"max_retries"`
	// 重试退避（毫秒）
	RetryBackoff int `mapstructure:"retry_backoff"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// OTel 收集器端点
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
	// 采样率
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RateLimitConfig 接口限流配置
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	QPS     int  `mapstructure:"qps"`
	Burst   int  `mapstructure:"burst"`
}

// RPCClientConfig 下游 gRPC 服务配置
type RPCClientConfig struct {
	// 目标地址
	Target string `mapstructure:"target"`
	// 连接超时（秒）
	ConnTimeout int `mapstructure:"conn_timeout"`
	// 单次请求超时（毫秒）
	RequestTimeout int `mapstructure:"request_timeout"`
	// Keepalive 间隔（秒），0 表示关闭
	KeepaliveInterval int `mapstructure:"keepalive_interval"`
	// 熔断：连续失败多少次后打开
	BreakerFailures int `mapstructure:"breaker_failures"`
	// 熔断打开持续时间（秒）
	BreakerTimeout int `mapstructure:"breaker_timeout"`
}

// NotificationConfig 通知投递配置
type NotificationConfig struct {
	Topic string `mapstructure:"topic"`
	// 投递超时（毫秒）
	Timeout int `mapstructure:"timeout"`
}

// SettlementConfig 结算与对账配置
type SettlementConfig struct {
	// 单次账本调用超时
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// 账本变更最大尝试次数
	MaxAttempts int `mapstructure:"max_attempts"`
	// 一次请求内记账执行的总时长上限，须小于 HTTP 写超时与对账接管时长
	SettleTimeout time.Duration `mapstructure:"settle_timeout"`
	// 对账扫描周期
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	// 未决记账超过该时长才会被对账任务接管
	ReconcileGrace time.Duration `mapstructure:"reconcile_grace"`
	// 每轮对账处理的记账条数
	ReconcileBatch int `mapstructure:"reconcile_batch"`
	// 对账任务调用账本时使用的服务凭证
	ServiceToken string `mapstructure:"service_token"`
}

// Load 从 TOML 文件加载配置，缺失项使用默认值，支持 APP_ 前缀环境变量覆盖
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required for %s driver", c.Database.Driver)
	}
	if c.Ledger.Target == "" {
		return fmt.Errorf("ledger.target is required")
	}
	if c.Rates.Target == "" {
		return fmt.Errorf("rates.target is required")
	}
	if c.Settlement.MaxAttempts <= 0 {
		return fmt.Errorf("settlement.max_attempts must be positive")
	}
	if c.Settlement.ServiceToken == "" {
		return fmt.Errorf("settlement.service_token is required")
	}
	if c.Settlement.SettleTimeout <= 0 {
		c.Settlement.SettleTimeout = 20 * time.Second
	}
	if c.HTTP.WriteTimeout > 0 && c.Settlement.SettleTimeout >= time.Duration(c.HTTP.WriteTimeout)*time.Second {
		return fmt.Errorf("settlement.settle_timeout %v must be shorter than http.write_timeout %ds", c.Settlement.SettleTimeout, c.HTTP.WriteTimeout)
	}
	if c.Settlement.ReconcileGrace > 0 && c.Settlement.SettleTimeout >= c.Settlement.ReconcileGrace {
		return fmt.Errorf("settlement.settle_timeout %v must be shorter than settlement.reconcile_grace %v", c.Settlement.SettleTimeout, c.Settlement.ReconcileGrace)
	}
	if len(c.Currencies) < 2 {
		return fmt.Errorf("at least two currencies must be configured")
	}
	for i, code := range c.Currencies {
		c.Currencies[i] = strings.ToUpper(strings.TrimSpace(code))
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "order")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 1000)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/order.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.collector_endpoint", "localhost:4317")
	v.SetDefault("tracing.sampling_rate", 1.0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.qps", 50)
	v.SetDefault("ratelimit.burst", 100)

	for _, svc := range []string{"ledger", "rates"} {
		v.SetDefault(svc+".conn_timeout", 5)
		v.SetDefault(svc+".request_timeout", 3000)
		v.SetDefault(svc+".keepalive_interval", 30)
		v.SetDefault(svc+".breaker_failures", 5)
		v.SetDefault(svc+".breaker_timeout", 30)
	}

	v.SetDefault("notification.topic", "notification.worker")
	v.SetDefault("notification.timeout", 2000)

	v.SetDefault("settlement.call_timeout", "5s")
	v.SetDefault("settlement.max_attempts", 5)
	v.SetDefault("settlement.settle_timeout", "20s")
	v.SetDefault("settlement.reconcile_interval", "30s")
	v.SetDefault("settlement.reconcile_grace", "1m")
	v.SetDefault("settlement.reconcile_batch", 100)

	v.SetDefault("currencies", []string{"NGN", "USD"})
}
