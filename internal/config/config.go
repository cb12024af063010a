package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"resume-parser-go/internal/logger"
	"resume-parser-go/internal/structuring"
)

// DefaultConfigPath 命令行未指定 --config 时使用的配置文件
const DefaultConfigPath = "configs/config.yaml"

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Address                string `yaml:"address" validate:"required"` // 例如 ":8080"
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds" validate:"gte=0"`
}

// SynonymConfig 额外的章节标题同义词
type SynonymConfig struct {
	Keyword string `yaml:"keyword" validate:"required"`
	Section string `yaml:"section" validate:"required,oneof=skills experience education projects achievements"`
}

// StructuringConfig 结构化引擎配置
type StructuringConfig struct {
	NameScanBudget int             `yaml:"name_scan_budget" validate:"gte=1"` // 送入实体识别的前缀长度(rune)
	ExtraSynonyms  []SynonymConfig `yaml:"extra_synonyms" validate:"dive"`   // 追加在内置同义词表之后
}

// NERConfig 命名实体识别配置，provider 为 none 时只使用首行回退
type NERConfig struct {
	Provider       string  `yaml:"provider" validate:"oneof=none llm"`
	APIKey         string  `yaml:"api_key"`
	APIURL         string  `yaml:"api_url" validate:"required_if=Provider llm"`
	Model          string  `yaml:"model" validate:"required_if=Provider llm"`
	Temperature    float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	QPM            int     `yaml:"qpm" validate:"gte=1"`
	TimeoutSeconds int     `yaml:"timeout_seconds" validate:"gte=1"`
	MaxRetries     int     `yaml:"max_retries" validate:"gte=0"`
}

// OCRConfig Tesseract 配置
type OCRConfig struct {
	Languages []string `yaml:"languages" validate:"min=1,dive,required"`
	DPI       int      `yaml:"dpi" validate:"gte=0"`
}

// ExtractionConfig 文本提取配置
type ExtractionConfig struct {
	PDFTimeoutSeconds int `yaml:"pdf_timeout_seconds" validate:"gte=1"`
	MaxUploadMB       int `yaml:"max_upload_mb" validate:"gte=1"`
}

// MinIOConfig MinIO配置，endpoint 为空表示不启用对象存储
type MinIOConfig struct {
	Endpoint               string `yaml:"endpoint"`
	AccessKeyID            string `yaml:"accessKeyID"`
	SecretAccessKey        string `yaml:"secretAccessKey"`
	UseSSL                 bool   `yaml:"useSSL"`
	Location               string `yaml:"location"`
	OriginalsBucket        string `yaml:"originalsBucket"`           // 原始简历存储桶
	ParsedTextBucket       string `yaml:"parsedTextBucket"`          // 提取文本存储桶
	OriginalFileExpireDays int    `yaml:"original_file_expire_days"` // 原始文件过期天数
	ParsedTextExpireDays   int    `yaml:"parsed_text_expire_days"`   // 提取文本过期天数
}

// MySQLConfig MySQL配置，host 为空表示不持久化解析结果
type MySQLConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port" validate:"omitempty,gte=1,lte=65535"`
	Username               string `yaml:"username"`
	Password               string `yaml:"password"`
	Database               string `yaml:"database"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogLevel               int    `yaml:"log_level" validate:"gte=0,lte=4"` // gorm 日志级别(1-4)，0 使用默认值
}

// DSN 拼接 MySQL 连接串
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig Redis配置，address 为空表示不缓存
type RedisConfig struct {
	Address             string `yaml:"address"`
	Password            string `yaml:"password"`
	DB                  int    `yaml:"db"`
	PoolSize            int    `yaml:"pool_size"`
	MinIdleConns        int    `yaml:"min_idle_conns"`
	DialTimeoutSeconds  int    `yaml:"dial_timeout_seconds"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	MaxRetries          int    `yaml:"max_retries"`
	CacheTTLMinutes     int    `yaml:"cache_ttl_minutes" validate:"gte=0"` // 解析结果缓存时间
}

// RabbitMQConfig RabbitMQ配置，url 为空表示不启用异步解析
type RabbitMQConfig struct {
	URL             string `yaml:"url"`
	Exchange        string `yaml:"exchange"`
	ParseQueue      string `yaml:"parse_queue"`
	ParseRoutingKey string `yaml:"parse_routing_key"`
	PrefetchCount   int    `yaml:"prefetch_count" validate:"gte=0"`
	ConsumerWorkers int    `yaml:"consumer_workers" validate:"gte=0"`
	RetryInterval   string `yaml:"retry_interval"` // 发件箱轮询间隔，例如 5s

	// 开启后提交记录与任务消息在同一事务写入 MySQL，由中继投递
	UseOutbox        bool `yaml:"use_outbox"`
	OutboxBatchSize  int  `yaml:"outbox_batch_size" validate:"gte=0"`
	OutboxMaxRetries int  `yaml:"outbox_max_retries" validate:"gte=0"`
}

// TracingConfig OpenTelemetry 配置
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint" validate:"required_if=Enabled true"` // OTLP gRPC 地址，例如 localhost:4317
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// AuthConfig API Key 认证，api_keys 为空时不启用
type AuthConfig struct {
	APIKeys   []string `yaml:"api_keys" validate:"dive,required"`
	KeyLookup string   `yaml:"key_lookup"` // 例如 header:X-API-Key
}

// Config 应用程序配置
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logger      logger.Config     `yaml:"logger"`
	Structuring StructuringConfig `yaml:"structuring"`
	NER         NERConfig         `yaml:"ner"`
	OCR         OCRConfig         `yaml:"ocr"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	MinIO       MinIOConfig       `yaml:"minio"`
	MySQL       MySQLConfig       `yaml:"mysql"`
	Redis       RedisConfig       `yaml:"redis"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Auth        AuthConfig        `yaml:"auth"`
}

// LoadDotEnv 加载 .env 文件到进程环境变量，文件不存在不视为错误
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("加载环境变量文件 %s 失败: %w", p, err)
		}
	}
	return nil
}

// LoadConfig 从文件加载配置。
// 顺序：解析 YAML -> 环境变量覆盖 -> 填充默认值 -> 校验。
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("配置文件不存在: %s", configPath)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	return Parse(data)
}

// Parse 从 YAML 内容构建配置
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	config.applyEnvOverrides()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// DefaultConfig 不依赖配置文件的默认配置，所有外部存储均未启用
func DefaultConfig() *Config {
	config := &Config{}
	config.applyEnvOverrides()
	config.applyDefaults()
	return config
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NER_API_KEY"); v != "" {
		c.NER.APIKey = v
	}
	if v := os.Getenv("NER_API_URL"); v != "" {
		c.NER.APIURL = v
	}
	if v := os.Getenv("NER_MODEL"); v != "" {
		c.NER.Model = v
	}
	if v := os.Getenv("NER_PROVIDER"); v != "" {
		c.NER.Provider = v
	}
	if v := os.Getenv("SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeoutSeconds == 0 {
		c.Server.ShutdownTimeoutSeconds = 5
	}

	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}

	if c.Structuring.NameScanBudget == 0 {
		c.Structuring.NameScanBudget = structuring.DefaultNameScanBudget
	}

	if c.NER.Provider == "" {
		c.NER.Provider = "none"
	}
	c.NER.Provider = strings.ToLower(c.NER.Provider)
	if c.NER.QPM == 0 {
		c.NER.QPM = 60
	}
	if c.NER.TimeoutSeconds == 0 {
		c.NER.TimeoutSeconds = 30
	}
	if c.NER.MaxRetries == 0 {
		c.NER.MaxRetries = 2
	}

	if len(c.OCR.Languages) == 0 {
		c.OCR.Languages = []string{"eng"}
	}
	if c.OCR.DPI == 0 {
		c.OCR.DPI = 300
	}

	if c.Extraction.PDFTimeoutSeconds == 0 {
		c.Extraction.PDFTimeoutSeconds = 60
	}
	if c.Extraction.MaxUploadMB == 0 {
		c.Extraction.MaxUploadMB = 10
	}

	if c.MinIO.OriginalsBucket == "" {
		c.MinIO.OriginalsBucket = "resume-originals"
	}
	if c.MinIO.ParsedTextBucket == "" {
		c.MinIO.ParsedTextBucket = "resume-text"
	}

	if c.MySQL.Port == 0 {
		c.MySQL.Port = 3306
	}
	if c.MySQL.MaxIdleConns == 0 {
		c.MySQL.MaxIdleConns = 10
	}
	if c.MySQL.MaxOpenConns == 0 {
		c.MySQL.MaxOpenConns = 100
	}
	if c.MySQL.ConnMaxLifetimeMinutes == 0 {
		c.MySQL.ConnMaxLifetimeMinutes = 60
	}

	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.DialTimeoutSeconds == 0 {
		c.Redis.DialTimeoutSeconds = 5
	}
	if c.Redis.ReadTimeoutSeconds == 0 {
		c.Redis.ReadTimeoutSeconds = 3
	}
	if c.Redis.WriteTimeoutSeconds == 0 {
		c.Redis.WriteTimeoutSeconds = 3
	}
	if c.Redis.CacheTTLMinutes == 0 {
		c.Redis.CacheTTLMinutes = 24 * 60
	}

	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "resume.events.exchange"
	}
	if c.RabbitMQ.ParseQueue == "" {
		c.RabbitMQ.ParseQueue = "q.resume_parse"
	}
	if c.RabbitMQ.ParseRoutingKey == "" {
		c.RabbitMQ.ParseRoutingKey = "resume.parse"
	}
	if c.RabbitMQ.PrefetchCount == 0 {
		c.RabbitMQ.PrefetchCount = 10
	}
	if c.RabbitMQ.ConsumerWorkers == 0 {
		c.RabbitMQ.ConsumerWorkers = 4
	}
	if c.RabbitMQ.RetryInterval == "" {
		c.RabbitMQ.RetryInterval = "5s"
	}
	if c.RabbitMQ.OutboxBatchSize == 0 {
		c.RabbitMQ.OutboxBatchSize = 10
	}
	if c.RabbitMQ.OutboxMaxRetries == 0 {
		c.RabbitMQ.OutboxMaxRetries = 5
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "resume-parser-go"
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}

	if c.Auth.KeyLookup == "" {
		c.Auth.KeyLookup = "header:X-API-Key"
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 使用结构体标签校验配置
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s(%s=%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("配置校验失败: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("配置校验失败: %w", err)
	}
	return nil
}

// ToSynonyms 把 extra_synonyms 转换为注册表使用的同义词
func (c StructuringConfig) ToSynonyms() ([]structuring.HeaderSynonym, error) {
	out := make([]structuring.HeaderSynonym, 0, len(c.ExtraSynonyms))
	for _, s := range c.ExtraSynonyms {
		section, err := structuring.ParseSection(s.Section)
		if err != nil {
			return nil, err
		}
		out = append(out, structuring.HeaderSynonym{Keyword: s.Keyword, Section: section})
	}
	return out, nil
}

// NewRegistry 按配置构造章节注册表
func (c StructuringConfig) NewRegistry() (*structuring.Registry, error) {
	extra, err := c.ToSynonyms()
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return structuring.DefaultRegistry(), nil
	}
	return structuring.ExtendDefault(extra)
}

// MaxUploadBytes 上传文件大小上限(字节)
func (c ExtractionConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// CacheTTL 解析结果缓存时间
func (c RedisConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// Timeout 单次实体识别调用的超时
func (c NERConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Addr 用于日志输出的 host:port
func (c MySQLConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// GetDuration 解析配置中的时间字符串，失败时返回默认值
func GetDuration(durationStr string, defaultDuration time.Duration) time.Duration {
	if durationStr == "" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return defaultDuration
	}
	return d
}
