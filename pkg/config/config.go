// Package config 提供 TOML 配置加载与环境变量覆盖，基于 viper
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wyfcoding/corebanking/pkg/logger"
)

// Config 服务配置根结构
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// HTTP 服务配置
	HTTP HTTPConfig `mapstructure:"http"`
	// 数据库配置
	Database DatabaseConfig `mapstructure:"database"`
	// Redis 配置
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka 配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 日志配置
	Logger logger.Config `mapstructure:"logger"`
	// 指标配置
	Metrics MetricsConfig `mapstructure:"metrics"`
	// 欺诈评分配置
	Fraud FraudConfig `mapstructure:"fraud"`
	// 路由器配置
	Router RouterConfig `mapstructure:"router"`
	// 恢复监督配置
	Recovery RecoveryConfig `mapstructure:"recovery"`
	// 系统账户配置
	SystemAccounts SystemAccountsConfig `mapstructure:"system_accounts"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动，目前仅支持 mysql
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
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用（关闭时行为画像缓存退化为直读账本）
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxPoolSize  int    `mapstructure:"max_pool_size"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	// 行为画像缓存 TTL（秒）
	ProfileTTL int `mapstructure:"profile_ttl"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	// 是否启用（关闭时审计事件仅写日志）
	Enabled      bool     `mapstructure:"enabled"`
	Brokers      []string `mapstructure:"brokers"`
	AuditTopic   string   `mapstructure:"audit_topic"`
	MaxRetries   int      `mapstructure:"max_retries"`
	RetryBackoff int      `mapstructure:"retry_backoff"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// FraudConfig 欺诈评分配置：权重、阈值与硬规则均为部署配置而非代码常量
type FraudConfig struct {
	// 信号权重
	VelocityWeight            float64 `mapstructure:"velocity_weight"`
	AmountDeviationWeight     float64 `mapstructure:"amount_deviation_weight"`
	CounterpartyNoveltyWeight float64 `mapstructure:"counterparty_novelty_weight"`
	TimeAnomalyWeight         float64 `mapstructure:"time_anomaly_weight"`
	// 速度限制
	MaxTxPerHour     int    `mapstructure:"max_tx_per_hour"`
	MaxAmountPerHour string `mapstructure:"max_amount_per_hour"`
	MaxTxPerDay      int    `mapstructure:"max_tx_per_day"`
	MaxAmountPerDay  string `mapstructure:"max_amount_per_day"`
	// 金额偏离倍数（与 30 天均值的标准差倍数）
	DeviationSigma float64 `mapstructure:"deviation_sigma"`
	// 夜间时段 [start, end)
	NightStartHour int `mapstructure:"night_start_hour"`
	NightEndHour   int `mapstructure:"night_end_hour"`
	// 单笔绝对上限，超过则强制 critical
	AbsoluteCeiling string  `mapstructure:"absolute_ceiling"`
	CeilingFloor    float64 `mapstructure:"ceiling_floor"`
	// 客户申报风险分硬规则
	CustomerRiskBar   float64 `mapstructure:"customer_risk_bar"`
	CustomerRiskFloor float64 `mapstructure:"customer_risk_floor"`
	// 风险分档阈值：low < medium <= high <= critical
	MediumThreshold   float64 `mapstructure:"medium_threshold"`
	HighThreshold     float64 `mapstructure:"high_threshold"`
	CriticalThreshold float64 `mapstructure:"critical_threshold"`
	// 风险等级到动作的映射
	Actions map[string]string `mapstructure:"actions"`
}

// RouterConfig 路由器配置
type RouterConfig struct {
	// 版本冲突最大重试次数
	MaxCommitRetries int `mapstructure:"max_commit_retries"`
	// 重试间隔（毫秒）
	RetryDelay int `mapstructure:"retry_delay"`
	// 重新评分阈值（毫秒），重试延迟超过该值时重新调用欺诈评分
	RescoreAfter int `mapstructure:"rescore_after"`
}

// RecoveryConfig 恢复监督配置
type RecoveryConfig struct {
	// 扫描周期（秒）
	ScanInterval int `mapstructure:"scan_interval"`
	// 退避初始值（毫秒）
	InitialBackoff int `mapstructure:"initial_backoff"`
	// 退避上限（毫秒）
	MaxBackoff int `mapstructure:"max_backoff"`
	// 最大确认尝试次数
	MaxAttempts int `mapstructure:"max_attempts"`
	// 对账周期（秒），0 表示禁用
	ReconcileInterval int `mapstructure:"reconcile_interval"`
}

// SystemAccountsConfig 内部过渡账户
type SystemAccountsConfig struct {
	// 现金总账账户
	Cash string `mapstructure:"cash"`
	// 贷款放款账户
	LoanFunding string `mapstructure:"loan_funding"`
}

// RetryDelayDuration 重试间隔
func (c RouterConfig) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay) * time.Millisecond
}

// RescoreAfterDuration 重新评分阈值
func (c RouterConfig) RescoreAfterDuration() time.Duration {
	return time.Duration(c.RescoreAfter) * time.Millisecond
}

// Load 加载配置文件，环境变量以 COREBANKING_ 前缀覆盖
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetEnvPrefix("COREBANKING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 配置文件缺失时允许仅用默认值 + 环境变量启动
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "corebanking")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.slow_query_threshold", 1000)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)
	v.SetDefault("redis.profile_ttl", 300)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.audit_topic", "corebanking.audit")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("fraud.velocity_weight", 0.4)
	v.SetDefault("fraud.amount_deviation_weight", 0.3)
	v.SetDefault("fraud.counterparty_novelty_weight", 0.2)
	v.SetDefault("fraud.time_anomaly_weight", 0.1)
	v.SetDefault("fraud.max_tx_per_hour", 10)
	v.SetDefault("fraud.max_amount_per_hour", "5000")
	v.SetDefault("fraud.max_tx_per_day", 20)
	v.SetDefault("fraud.max_amount_per_day", "50000")
	v.SetDefault("fraud.deviation_sigma", 3.0)
	v.SetDefault("fraud.night_start_hour", 0)
	v.SetDefault("fraud.night_end_hour", 5)
	v.SetDefault("fraud.absolute_ceiling", "50000")
	v.SetDefault("fraud.ceiling_floor", 0.9)
	v.SetDefault("fraud.customer_risk_bar", 0.6)
	v.SetDefault("fraud.customer_risk_floor", 0.6)
	v.SetDefault("fraud.medium_threshold", 0.3)
	v.SetDefault("fraud.high_threshold", 0.6)
	v.SetDefault("fraud.critical_threshold", 0.85)
	v.SetDefault("fraud.actions", map[string]string{
		"low":      "allow",
		"medium":   "hold",
		"high":     "block",
		"critical": "block",
	})

	v.SetDefault("router.max_commit_retries", 3)
	v.SetDefault("router.retry_delay", 50)
	v.SetDefault("router.rescore_after", 1000)

	v.SetDefault("recovery.scan_interval", 5)
	v.SetDefault("recovery.initial_backoff", 1000)
	v.SetDefault("recovery.max_backoff", 60000)
	v.SetDefault("recovery.max_attempts", 5)
	v.SetDefault("recovery.reconcile_interval", 3600)

	v.SetDefault("system_accounts.cash", "SYS-CASH")
	v.SetDefault("system_accounts.loan_funding", "SYS-LOAN-FUNDING")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/corebanking.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
}
