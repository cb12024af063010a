package processor

import (
	"time"

	"resume-parser-go/internal/constants"
	"resume-parser-go/internal/storage"

	"github.com/rs/zerolog"
)

// Components 服务依赖的组件。Parser 和 Extractor 必需，其余为 nil 时相应功能关闭
type Components struct {
	Parser    Parser
	Extractor TextExtractor

	// 存储层依赖
	Cache   RecordCache
	Status  StatusTracker
	Dedup   FileDeduper
	Records RecordStore
	Outbox  OutboxWriter
	Objects ObjectStore
	Queue   JobQueue
}

// Settings 纯配置项，不包含任何业务逻辑组件
type Settings struct {
	MaxUploadBytes int64          // 上传文件大小上限，<=0 表示不限制
	CacheTTL       time.Duration  // 解析结果缓存时间
	PersistSync    bool           // 同步解析的结果是否也落库
	UseOutbox      bool           // 提交时通过发件箱投递任务，需要 Outbox 组件
	Logger         zerolog.Logger // 日志记录器
}

// ComponentOpt 组件选项类型，仅改变 Components 结构体内的字段
type ComponentOpt func(*Components)

// SettingOpt 设置选项类型，仅改变 Settings 结构体内的字段
type SettingOpt func(*Settings)

// WithStorage 挂载聚合存储中已初始化的组件
func WithStorage(s *storage.Storage) ComponentOpt {
	return func(c *Components) {
		if s == nil {
			return
		}
		// 逐个判断，避免把 nil 指针装进接口
		if s.Redis != nil {
			c.Cache = s.Redis
			c.Status = s.Redis
			c.Dedup = s.Redis
		}
		if s.MySQL != nil {
			c.Records = s.MySQL
			c.Outbox = s.MySQL
		}
		if s.MinIO != nil {
			c.Objects = s.MinIO
		}
		if s.RabbitMQ != nil {
			c.Queue = s.RabbitMQ
		}
	}
}

func WithCache(cache RecordCache) ComponentOpt {
	return func(c *Components) { c.Cache = cache }
}

func WithStatusTracker(t StatusTracker) ComponentOpt {
	return func(c *Components) { c.Status = t }
}

func WithDeduper(d FileDeduper) ComponentOpt {
	return func(c *Components) { c.Dedup = d }
}

func WithRecordStore(r RecordStore) ComponentOpt {
	return func(c *Components) { c.Records = r }
}

func WithOutboxWriter(w OutboxWriter) ComponentOpt {
	return func(c *Components) { c.Outbox = w }
}

func WithObjectStore(o ObjectStore) ComponentOpt {
	return func(c *Components) { c.Objects = o }
}

func WithJobQueue(q JobQueue) ComponentOpt {
	return func(c *Components) { c.Queue = q }
}

func WithMaxUploadBytes(n int64) SettingOpt {
	return func(s *Settings) { s.MaxUploadBytes = n }
}

func WithCacheTTL(ttl time.Duration) SettingOpt {
	return func(s *Settings) { s.CacheTTL = ttl }
}

func WithPersistSync(enabled bool) SettingOpt {
	return func(s *Settings) { s.PersistSync = enabled }
}

func WithOutbox(enabled bool) SettingOpt {
	return func(s *Settings) { s.UseOutbox = enabled }
}

func WithLogger(l zerolog.Logger) SettingOpt {
	return func(s *Settings) { s.Logger = l }
}

func defaultSettings() Settings {
	return Settings{
		MaxUploadBytes: 10 << 20,
		CacheTTL:       constants.DefaultRecordCacheTTL,
		PersistSync:    true,
		Logger:         zerolog.Nop(),
	}
}
