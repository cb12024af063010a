package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"resume-parser-go/internal/config"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
)

// Storage 存储管理器，聚合所有存储相关依赖。未配置的组件为 nil
type Storage struct {
	// 对象存储
	MinIO *MinIO

	// 消息队列
	RabbitMQ *RabbitMQ

	// 关系型数据库
	MySQL *MySQL

	// 键值存储
	Redis *Redis

	logger zerolog.Logger
}

// NewStorage 按配置初始化各存储组件。单个组件失败只记录警告；
// 全部已配置的组件都失败时返回错误
func NewStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	logger = logger.With().Str("component", "storage").Logger()

	s := &Storage{logger: logger}
	var initErrors []string
	configured := 0

	if cfg.MinIO.Endpoint != "" {
		configured++
		m, err := NewMinIO(&cfg.MinIO, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化MinIO失败")
			initErrors = append(initErrors, fmt.Sprintf("MinIO: %v", err))
		} else {
			s.MinIO = m
		}
	}

	if cfg.RabbitMQ.URL != "" {
		configured++
		mq, err := NewRabbitMQ(&cfg.RabbitMQ, logger)
		if err == nil {
			err = mq.Setup()
			if err != nil {
				_ = mq.Close()
			}
		}
		if err != nil {
			logger.Warn().Err(err).Msg("初始化RabbitMQ失败")
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
		} else {
			s.RabbitMQ = mq
		}
	}

	if cfg.MySQL.Host != "" {
		configured++
		db, err := NewMySQL(&cfg.MySQL, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化MySQL失败")
			initErrors = append(initErrors, fmt.Sprintf("MySQL: %v", err))
		} else {
			s.MySQL = db
		}
	}

	if cfg.Redis.Address != "" {
		configured++
		r, err := NewRedisAdapter(&cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化Redis失败")
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		} else {
			s.Redis = r
		}
	}

	if configured > 0 && len(initErrors) == configured {
		return nil, fmt.Errorf("所有存储组件初始化失败: %s", strings.Join(initErrors, "; "))
	}

	logger.Info().
		Bool("minio", s.MinIO != nil).
		Bool("rabbitmq", s.RabbitMQ != nil).
		Bool("mysql", s.MySQL != nil).
		Bool("redis", s.Redis != nil).
		Msg("存储组件初始化完成")
	return s, nil
}

// Close 关闭所有连接
func (s *Storage) Close() error {
	var errs []error
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭RabbitMQ连接失败: %w", err))
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭MySQL连接失败: %w", err))
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭Redis连接失败: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NewSubmissionUUID 生成按时间排序的 UUIDv7
func NewSubmissionUUID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("生成 submission uuid 失败: %w", err)
	}
	return id.String(), nil
}
