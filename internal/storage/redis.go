package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"resume-parser-go/internal/config"
	"resume-parser-go/internal/constants"
	"resume-parser-go/internal/structuring"
	"resume-parser-go/internal/tracing"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound is returned when a key is not found in Redis.
var ErrNotFound = redis.Nil

var redisTracer = otel.Tracer("resume-parser-go/storage/redis")

// Redis 解析结果缓存与提交状态
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
	ttl    time.Duration
}

// RecordCacheKey 解析结果缓存键
func RecordCacheKey(textMD5 string) string {
	return fmt.Sprintf(constants.KeyParsedRecord, textMD5)
}

// SubmissionStatusKey 提交状态键
func SubmissionStatusKey(submissionUUID string) string {
	return fmt.Sprintf(constants.KeySubmissionStatus, submissionUUID)
}

// FileDedupKey 原始文件MD5映射键
func FileDedupKey(fileMD5 string) string {
	return fmt.Sprintf(constants.KeyFileMD5ToSubmissionUUID, fileMD5)
}

// NewRedisAdapter creates a new Redis client connection
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		MaxRetries:   cfg.MaxRetries,
	}

	client := redis.NewClient(opt)

	// 添加OpenTelemetry钩子, 记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	ttl := cfg.CacheTTL()
	if ttl <= 0 {
		ttl = constants.DefaultRecordCacheTTL
	}

	return &Redis{
		Client: client,
		config: cfg,
		ttl:    ttl,
	}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// CacheTTL 解析结果缓存时间
func (r *Redis) CacheTTL() time.Duration {
	return r.ttl
}

func (r *Redis) startSpan(ctx context.Context, name, operation, key string) (context.Context, trace.Span) {
	return redisTracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemRedis,
			attribute.Int("db.redis.database_index", r.config.DB),
			attribute.String("db.operation", operation),
			attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
		))
}

// GetCachedRecord 按原文MD5读取缓存的解析结果，未命中返回 (nil, nil)
func (r *Redis) GetCachedRecord(ctx context.Context, textMD5 string) (*structuring.ResumeRecord, error) {
	if r.Client == nil {
		return nil, fmt.Errorf("redis client is not initialized")
	}
	key := RecordCacheKey(textMD5)
	ctx, span := r.startSpan(ctx, "Redis.GetCachedRecord", "GET", key)
	defer span.End()

	val, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, nil
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return nil, fmt.Errorf("读取解析缓存失败: %w", err)
	}

	var rec structuring.ResumeRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		// 损坏的缓存直接丢弃
		_ = r.Client.Del(ctx, key).Err()
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return nil, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return &rec, nil
}

// CacheRecord 缓存解析结果，ttl<=0 时使用配置的默认值
func (r *Redis) CacheRecord(ctx context.Context, textMD5 string, rec *structuring.ResumeRecord, ttl time.Duration) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	if rec == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = r.ttl
	}
	key := RecordCacheKey(textMD5)
	ctx, span := r.startSpan(ctx, "Redis.CacheRecord", "SET", key)
	defer span.End()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("序列化解析结果失败: %w", err)
	}
	if err := r.Client.Set(ctx, key, data, ttl).Err(); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return fmt.Errorf("写入解析缓存失败: %w", err)
	}
	return nil
}

// SetSubmissionStatus 记录异步提交的处理状态
func (r *Redis) SetSubmissionStatus(ctx context.Context, submissionUUID, status string) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	key := SubmissionStatusKey(submissionUUID)
	ctx, span := r.startSpan(ctx, "Redis.SetSubmissionStatus", "SET", key)
	defer span.End()

	if err := r.Client.Set(ctx, key, status, constants.DefaultStatusKeyTTL).Err(); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return fmt.Errorf("写入提交状态失败: %w", err)
	}
	return nil
}

// GetSubmissionStatus 读取提交状态，不存在时返回 ErrNotFound
func (r *Redis) GetSubmissionStatus(ctx context.Context, submissionUUID string) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	key := SubmissionStatusKey(submissionUUID)
	ctx, span := r.startSpan(ctx, "Redis.GetSubmissionStatus", "GET", key)
	defer span.End()

	status, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return "", fmt.Errorf("读取提交状态失败: %w", err)
	}
	return status, nil
}

// ClaimFileMD5 记录文件MD5对应的提交；已存在时返回已有的 submissionUUID 和 false
func (r *Redis) ClaimFileMD5(ctx context.Context, fileMD5, submissionUUID string) (string, bool, error) {
	if r.Client == nil {
		return "", false, fmt.Errorf("redis client is not initialized")
	}
	key := FileDedupKey(fileMD5)
	ctx, span := r.startSpan(ctx, "Redis.ClaimFileMD5", "SETNX", key)
	defer span.End()

	ok, err := r.Client.SetNX(ctx, key, submissionUUID, constants.DefaultFileDedupKeyTTL).Result()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return "", false, fmt.Errorf("写入文件去重键失败: %w", err)
	}
	if ok {
		return submissionUUID, true, nil
	}
	existing, err := r.Client.Get(ctx, key).Result()
	if err != nil {
		return "", false, fmt.Errorf("读取文件去重键失败: %w", err)
	}
	return existing, false, nil
}

// ReleaseFileMD5 提交失败时撤销去重键
func (r *Redis) ReleaseFileMD5(ctx context.Context, fileMD5 string) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Del(ctx, FileDedupKey(fileMD5)).Err()
}
