package processor

import (
	"context"
	"time"

	"resume-parser-go/internal/storage"
	"resume-parser-go/internal/storage/models"
	"resume-parser-go/internal/structuring"
)

// Parser 把纯文本结构化为简历记录，*structuring.Engine 实现该接口
type Parser interface {
	Parse(ctx context.Context, text string) *structuring.ResumeRecord
	HasRecognizer() bool
}

// TextExtractor 从上传文件中提取文本，*extractor.Extractor 实现该接口
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, contentType, filename string) (string, error)
	Supported(contentType string) bool
}

// RecordCache 按原文MD5缓存解析结果
type RecordCache interface {
	GetCachedRecord(ctx context.Context, textMD5 string) (*structuring.ResumeRecord, error)
	CacheRecord(ctx context.Context, textMD5 string, rec *structuring.ResumeRecord, ttl time.Duration) error
}

// StatusTracker 在缓存中记录异步提交的状态，状态不存在时 Get 返回 storage.ErrNotFound
type StatusTracker interface {
	SetSubmissionStatus(ctx context.Context, submissionUUID, status string) error
	GetSubmissionStatus(ctx context.Context, submissionUUID string) (string, error)
}

// FileDeduper 原始文件去重
type FileDeduper interface {
	ClaimFileMD5(ctx context.Context, fileMD5, submissionUUID string) (string, bool, error)
	ReleaseFileMD5(ctx context.Context, fileMD5 string) error
}

// RecordStore 解析结果持久化
type RecordStore interface {
	SaveParsedResume(ctx context.Context, row *models.ParsedResume) error
	UpdateStatus(ctx context.Context, submissionUUID, status, errMsg string) error
	GetParsedResume(ctx context.Context, submissionUUID string) (*models.ParsedResume, error)
	ListParsedResumes(ctx context.Context, status string, offset, limit int) ([]models.ParsedResume, int64, error)
}

// OutboxWriter 在同一事务中写入 PENDING 记录和待投递的任务消息
type OutboxWriter interface {
	SaveWithOutbox(ctx context.Context, row *models.ParsedResume, msg *models.OutboxMessage) error
}

// ObjectStore 原始文件与提取文本的对象存储
type ObjectStore interface {
	UploadOriginal(ctx context.Context, submissionUUID, fileExt, contentType string, data []byte) (string, error)
	UploadRawText(ctx context.Context, submissionUUID, text string) (string, error)
	GetOriginal(ctx context.Context, objectKey string) ([]byte, error)
	GetRawText(ctx context.Context, objectKey string) (string, error)
	DeleteOriginal(ctx context.Context, objectKey string) error
}

// JobQueue 异步解析任务队列
type JobQueue interface {
	PublishParseJob(ctx context.Context, msg storage.ParseJobMessage) error
	StartConsumer(queueName string, prefetchCount int, handler func([]byte) bool) (chan<- struct{}, error)
	ParseRoute() (exchange, routingKey string)
	ParseQueue() string
	PrefetchCount() int
}

var (
	_ RecordCache   = (*storage.Redis)(nil)
	_ StatusTracker = (*storage.Redis)(nil)
	_ FileDeduper   = (*storage.Redis)(nil)
	_ RecordStore   = (*storage.MySQL)(nil)
	_ OutboxWriter  = (*storage.MySQL)(nil)
	_ ObjectStore   = (*storage.MinIO)(nil)
	_ JobQueue      = (*storage.RabbitMQ)(nil)
	_ Parser        = (*structuring.Engine)(nil)
)
