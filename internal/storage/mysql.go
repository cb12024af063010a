package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"resume-parser-go/internal/config"
	"resume-parser-go/internal/storage/models"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// ErrRecordNotFound 查询的提交不存在
var ErrRecordNotFound = errors.New("parsed resume not found")

var mysqlTracer = otel.Tracer("resume-parser-go/storage/mysql")

type spanContextKey struct{}

// GormTracingPlugin 是一个GORM插件，用于向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("INSERT")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	return cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after())
}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		newCtx, span := p.tracer.Start(ctx, fmt.Sprintf("%s %s", operation, tableName),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			))
		db.Statement.Context = context.WithValue(newCtx, spanContextKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if db.Statement.Context == nil {
			return
		}
		span, ok := db.Statement.Context.Value(spanContextKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		if sql := db.Statement.SQL.String(); sql != "" {
			span.SetAttributes(attribute.String("db.statement", sql))
		}

		switch {
		case db.Error == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(db.Error, gorm.ErrRecordNotFound):
			// 查不到是正常业务结果
			span.SetAttributes(attribute.String("error.type", "record_not_found"))
			span.SetStatus(codes.Ok, "record not found")
		default:
			span.SetAttributes(attribute.String("error.type", "database_error"))
			span.RecordError(db.Error)
			span.SetStatus(codes.Error, db.Error.Error())
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		disableErrSkip: true,
	}
}

// WithTracer 替换 tracer，测试时注入 SpanRecorder
func (p *GormTracingPlugin) WithTracer(t trace.Tracer) *GormTracingPlugin {
	p.tracer = t
	return p
}

// MySQL 保存解析结果
type MySQL struct {
	db     *gorm.DB
	cfg    *config.MySQLConfig
	logger zerolog.Logger
}

func gormLogLevel(level int) gormlogger.LogLevel {
	switch level {
	case 1:
		return gormlogger.Silent
	case 2:
		return gormlogger.Error
	case 3:
		return gormlogger.Warn
	case 4:
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// NewMySQL 连接MySQL，注册追踪插件并迁移表结构
func NewMySQL(cfg *config.MySQLConfig, logger zerolog.Logger) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}
	logger = logger.With().Str("component", "mysql").Logger()

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	m := &MySQL{db: db, cfg: cfg, logger: logger}
	if err := m.autoMigrateSchema(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr()).Str("database", cfg.Database).Msg("成功连接到MySQL并迁移数据库结构")
	return m, nil
}

func (m *MySQL) autoMigrateSchema() error {
	silentDB := m.db.Session(&gorm.Session{Logger: m.db.Logger.LogMode(gormlogger.Silent)})
	if err := silentDB.AutoMigrate(&models.ParsedResume{}, &models.OutboxMessage{}); err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// SaveParsedResume 按 submission_uuid 插入或覆盖一行
func (m *MySQL) SaveParsedResume(ctx context.Context, row *models.ParsedResume) error {
	if row == nil || row.SubmissionUUID == "" {
		return fmt.Errorf("submission_uuid 不能为空")
	}
	err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "submission_uuid"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"original_filename", "content_type", "original_object_key", "raw_text_object_key",
			"raw_file_md5", "raw_text_md5", "raw_text", "candidate_name",
			"skills", "experience", "education", "projects", "achievements",
			"status", "error_message", "source_channel", "completed_at", "updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("保存解析结果失败 (uuid=%s): %w", row.SubmissionUUID, err)
	}
	return nil
}

// SaveWithOutbox 在同一事务中写入解析记录和待投递的任务消息
func (m *MySQL) SaveWithOutbox(ctx context.Context, row *models.ParsedResume, msg *models.OutboxMessage) error {
	if row == nil || row.SubmissionUUID == "" {
		return fmt.Errorf("submission_uuid 不能为空")
	}
	if msg == nil {
		return fmt.Errorf("发件箱消息不能为空")
	}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		return tx.Create(msg).Error
	})
	if err != nil {
		return fmt.Errorf("写入解析记录和发件箱失败 (uuid=%s): %w", row.SubmissionUUID, err)
	}
	return nil
}

// ProcessOutboxBatch 锁定一批待投递消息，逐条交给 handle 修改状态后保存。
// FOR UPDATE SKIP LOCKED 让多个实例可以同时运行中继。返回本批处理的条数
func (m *MySQL) ProcessOutboxBatch(ctx context.Context, limit int, handle func(context.Context, *models.OutboxMessage)) (int, error) {
	processed := 0
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var messages []models.OutboxMessage
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", models.OutboxStatusPending).
			Order("created_at asc").
			Limit(limit).
			Find(&messages).Error
		if err != nil {
			return fmt.Errorf("查询待投递消息失败: %w", err)
		}
		for i := range messages {
			handle(ctx, &messages[i])
			// 保存失败时整批回滚，下次轮询重新拾取
			if err := tx.Save(&messages[i]).Error; err != nil {
				return fmt.Errorf("更新发件箱消息 %d 失败: %w", messages[i].ID, err)
			}
			processed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return processed, nil
}

// UpdateStatus 更新处理状态和错误信息
func (m *MySQL) UpdateStatus(ctx context.Context, submissionUUID, status, errMsg string) error {
	res := m.db.WithContext(ctx).Model(&models.ParsedResume{}).
		Where("submission_uuid = ?", submissionUUID).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errMsg,
		})
	if res.Error != nil {
		return fmt.Errorf("更新状态失败 (uuid=%s): %w", submissionUUID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("更新状态失败 (uuid=%s): %w", submissionUUID, ErrRecordNotFound)
	}
	return nil
}

// GetParsedResume 按 submission_uuid 查询
func (m *MySQL) GetParsedResume(ctx context.Context, submissionUUID string) (*models.ParsedResume, error) {
	var row models.ParsedResume
	err := m.db.WithContext(ctx).Where("submission_uuid = ?", submissionUUID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询解析结果失败 (uuid=%s): %w", submissionUUID, err)
	}
	return &row, nil
}

// ListParsedResumes 按创建时间倒序分页，status 为空时不过滤
func (m *MySQL) ListParsedResumes(ctx context.Context, status string, offset, limit int) ([]models.ParsedResume, int64, error) {
	scoped := func() *gorm.DB {
		q := m.db.WithContext(ctx).Model(&models.ParsedResume{})
		if status != "" {
			q = q.Where("status = ?", status)
		}
		return q
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计解析结果失败: %w", err)
	}

	var rows []models.ParsedResume
	// 列表不返回全文
	err := scoped().Omit("raw_text").
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询解析结果列表失败: %w", err)
	}
	return rows, total, nil
}
