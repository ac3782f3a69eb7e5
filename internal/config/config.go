// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"time"

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
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	RAG           RAGConfig           `mapstructure:"rag"`
	VectorStore   VectorStoreConfig   `mapstructure:"vectorstore"`
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

// JWTConfig 存储 JWT 相关的配置。
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
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
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
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	Dimensions   int           `mapstructure:"dimensions"`
	MaxBatchSize int           `mapstructure:"max_batch_size"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retry        RetryConfig   `mapstructure:"retry"`
}

// RetryConfig 配置针对 Provider 瞬时错误的重试策略。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// RAGConfig 配置检索增强生成管线的预算与阈值。
type RAGConfig struct {
	ChunkSize           int           `mapstructure:"chunk_size"`
	ChunkOverlap        int           `mapstructure:"chunk_overlap"`
	TopK                int           `mapstructure:"top_k"`
	ScoreThreshold      float64       `mapstructure:"score_threshold"`
	WidenTopK           int           `mapstructure:"widen_top_k"`
	WidenScoreThreshold float64       `mapstructure:"widen_score_threshold"`
	HistoryLimit        int           `mapstructure:"history_limit"`
	HistoryTokenBudget  int           `mapstructure:"history_token_budget"`
	ContextTokenBudget  int           `mapstructure:"context_token_budget"`
	GateTimeout         time.Duration `mapstructure:"gate_timeout"`
	RewriteTimeout      time.Duration `mapstructure:"rewrite_timeout"`
	GenerateTimeout     time.Duration `mapstructure:"generate_timeout"`
}

// VectorStoreConfig 选择向量存储后端。
type VectorStoreConfig struct {
	Provider    string `mapstructure:"provider"` // "elasticsearch" 或 "chromem"
	ChromemPath string `mapstructure:"chromem_path"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults(&Conf)
}

// applyDefaults 为未配置的管线参数填充默认值。
func applyDefaults(c *Config) {
	if c.Embedding.MaxBatchSize <= 0 {
		c.Embedding.MaxBatchSize = 16
	}
	if c.Embedding.Timeout <= 0 {
		c.Embedding.Timeout = 30 * time.Second
	}
	if c.Embedding.Retry.MaxAttempts <= 0 {
		c.Embedding.Retry.MaxAttempts = 3
	}
	if c.Embedding.Retry.BaseDelay <= 0 {
		c.Embedding.Retry.BaseDelay = 500 * time.Millisecond
	}
	if c.Embedding.Retry.MaxDelay <= 0 {
		c.Embedding.Retry.MaxDelay = 8 * time.Second
	}
	if c.RAG.ChunkSize <= 0 {
		c.RAG.ChunkSize = 500
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		c.RAG.ChunkOverlap = 50
	}
	if c.RAG.TopK <= 0 {
		c.RAG.TopK = 5
	}
	if c.RAG.ScoreThreshold <= 0 {
		c.RAG.ScoreThreshold = 0.70
	}
	if c.RAG.WidenTopK <= 0 {
		c.RAG.WidenTopK = c.RAG.TopK * 2
	}
	if c.RAG.WidenScoreThreshold <= 0 {
		c.RAG.WidenScoreThreshold = 0.50
	}
	if c.RAG.HistoryLimit <= 0 {
		c.RAG.HistoryLimit = 10
	}
	if c.RAG.HistoryTokenBudget <= 0 {
		c.RAG.HistoryTokenBudget = 1000
	}
	if c.RAG.ContextTokenBudget <= 0 {
		c.RAG.ContextTokenBudget = 2000
	}
	if c.RAG.GateTimeout <= 0 {
		c.RAG.GateTimeout = 5 * time.Second
	}
	if c.RAG.RewriteTimeout <= 0 {
		c.RAG.RewriteTimeout = 8 * time.Second
	}
	if c.RAG.GenerateTimeout <= 0 {
		c.RAG.GenerateTimeout = 60 * time.Second
	}
	if c.VectorStore.Provider == "" {
		c.VectorStore.Provider = "elasticsearch"
	}
}

// Validate 在启动时校验必需的凭证与参数。
// 缺失 Provider 密钥属于致命的配置错误，不进入重试逻辑。
func (c *Config) Validate() error {
	if c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding.api_key 未配置")
	}
	if c.Embedding.BaseURL == "" {
		return fmt.Errorf("embedding.base_url 未配置")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key 未配置")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url 未配置")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret 未配置")
	}
	switch c.VectorStore.Provider {
	case "elasticsearch", "chromem":
	default:
		return fmt.Errorf("vectorstore.provider 不支持: %s", c.VectorStore.Provider)
	}
	return nil
}
