// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Spark         SparkConfig         `mapstructure:"spark"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储管理后台 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers        string `mapstructure:"brokers"`
	IngestionTopic string `mapstructure:"ingestion_topic"`
	LeadSyncTopic  string `mapstructure:"lead_sync_topic"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
// 模型标识采用 "provider/model" 形式，例如 "gemini/gemini-3-flash-preview"。
type LLMConfig struct {
	PrimaryModel          string                    `mapstructure:"primary_model"`
	FallbackModel         string                    `mapstructure:"fallback_model"`
	PreflightModel        string                    `mapstructure:"preflight_model"`
	RequestTimeoutSeconds int                       `mapstructure:"request_timeout_seconds"`
	Generation            LLMGenerationConfig       `mapstructure:"generation"`
	Providers             map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig 单个模型提供商的接入配置。
// Gemini 走原生 SDK（只需 api_key），其余提供商走 OpenAI 兼容接口。
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// SparkConfig 存储 Spark 会话产品级的默认参数，可被单个客户端配置覆盖。
type SparkConfig struct {
	MaxTurnsDefault          int     `mapstructure:"max_turns_default"`
	WindDownTurns            int     `mapstructure:"wind_down_turns"`
	MinTurnsBeforeWindDown   int     `mapstructure:"min_turns_before_winddown"`
	ContextTurns             int     `mapstructure:"context_turns"`
	RateLimitRPM             int     `mapstructure:"rate_limit_rpm"`
	AdminRateLimitRPM        int     `mapstructure:"admin_rate_limit_rpm"`
	MaxDocChunks             int     `mapstructure:"max_doc_chunks"`
	DocMatchThreshold        float64 `mapstructure:"doc_match_threshold"`
	SessionTimeoutMinutes    int     `mapstructure:"session_timeout_minutes"`
	PreflightTimeoutSeconds  int     `mapstructure:"preflight_timeout_seconds"`
	TerminateSignalThreshold int     `mapstructure:"terminate_signal_threshold"`
	SweepIntervalMinutes     int     `mapstructure:"sweep_interval_minutes"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	setSparkDefaults()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

// setSparkDefaults 设置产品级参数的兜底默认值，配置文件缺项时仍可启动。
func setSparkDefaults() {
	viper.SetDefault("spark.max_turns_default", 20)
	viper.SetDefault("spark.wind_down_turns", 3)
	viper.SetDefault("spark.min_turns_before_winddown", 5)
	viper.SetDefault("spark.context_turns", 8)
	viper.SetDefault("spark.rate_limit_rpm", 30)
	viper.SetDefault("spark.admin_rate_limit_rpm", 60)
	viper.SetDefault("spark.max_doc_chunks", 5)
	viper.SetDefault("spark.doc_match_threshold", 0.3)
	viper.SetDefault("spark.session_timeout_minutes", 30)
	viper.SetDefault("spark.preflight_timeout_seconds", 3)
	viper.SetDefault("spark.terminate_signal_threshold", 2)
	viper.SetDefault("spark.sweep_interval_minutes", 5)
	viper.SetDefault("llm.request_timeout_seconds", 60)
}
