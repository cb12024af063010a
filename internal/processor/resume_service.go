package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"resume-parser-go/internal/extractor"
	"resume-parser-go/internal/storage"
	"resume-parser-go/internal/storage/models"
	"resume-parser-go/internal/structuring"
	"resume-parser-go/internal/tracing"
	"resume-parser-go/pkg/utils"

	"github.com/ecodeclub/ekit/slice"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("resume-parser-go/processor")

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// DocumentInput 一份上传的简历文件
type DocumentInput struct {
	Filename      string
	ContentType   string // 客户端声明的类型，可以为空
	Data          []byte
	SourceChannel string
}

// ParseOutcome 同步解析结果
type ParseOutcome struct {
	Record         *structuring.ResumeRecord
	ContentType    string
	SubmissionUUID string // 结果落库时的提交ID，未落库为空
	FromCache      bool
}

// SubmitResult 异步提交结果
type SubmitResult struct {
	SubmissionUUID string `json:"submission_uuid"`
	Status         string `json:"status"`
	Duplicate      bool   `json:"duplicate,omitempty"`
}

// SubmissionResult 查询到的提交及其解析结果
type SubmissionResult struct {
	SubmissionUUID string                    `json:"submission_uuid"`
	Status         string                    `json:"status"`
	Filename       string                    `json:"filename"`
	ContentType    string                    `json:"content_type"`
	ErrorMessage   string                    `json:"error_message,omitempty"`
	Record         *structuring.ResumeRecord `json:"record,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
	CompletedAt    *time.Time                `json:"completed_at,omitempty"`
}

// SubmissionStatus 提交的当前状态
type SubmissionStatus struct {
	SubmissionUUID string `json:"submission_uuid"`
	Status         string `json:"status"`
}

// ResultSummary 列表中的一项
type ResultSummary struct {
	SubmissionUUID string    `json:"submission_uuid"`
	Filename       string    `json:"filename"`
	Status         string    `json:"status"`
	CandidateName  *string   `json:"candidate_name"`
	CreatedAt      time.Time `json:"created_at"`
}

// ResultPage 分页结果
type ResultPage struct {
	Items    []ResultSummary `json:"items"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// ResumeService 简历解析服务：同步解析、异步提交与结果查询
type ResumeService struct {
	components Components
	settings   Settings
	logger     zerolog.Logger
	now        func() time.Time
}

// NewComponents 组装组件
func NewComponents(parser Parser, ext TextExtractor, opts ...ComponentOpt) Components {
	c := Components{Parser: parser, Extractor: ext}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// NewResumeService 创建服务实例
func NewResumeService(components Components, opts ...SettingOpt) (*ResumeService, error) {
	if components.Parser == nil {
		return nil, errors.New("parser is required")
	}
	if components.Extractor == nil {
		return nil, errors.New("extractor is required")
	}
	settings := defaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}
	return &ResumeService{
		components: components,
		settings:   settings,
		logger:     settings.Logger.With().Str("component", "processor").Logger(),
		now:        time.Now,
	}, nil
}

// NERAvailable 姓名识别是否使用实体识别器
func (s *ResumeService) NERAvailable() bool {
	return s.components.Parser.HasRecognizer()
}

// AsyncEnabled 异步提交所需的存储和队列是否齐备
func (s *ResumeService) AsyncEnabled() bool {
	return s.components.Objects != nil && s.components.Queue != nil && s.components.Records != nil
}

// ParseText 解析纯文本，空白文本返回 ErrEmptyText
func (s *ResumeService) ParseText(ctx context.Context, text string) (*structuring.ResumeRecord, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewEmptyTextError("", "文本为空")
	}
	ctx, span := tracer.Start(ctx, "ResumeService.ParseText",
		trace.WithAttributes(attribute.Int("text.length", len(text))))
	defer span.End()

	rec, fromCache := s.parseText(ctx, text)
	span.SetAttributes(attribute.Bool("cache.hit", fromCache))
	return rec, nil
}

// ParseDocument 提取并解析上传文件。开启 PersistSync 且配置了数据库时，
// 结果会尽力落库，落库失败只记录日志
func (s *ResumeService) ParseDocument(ctx context.Context, in DocumentInput) (*ParseOutcome, error) {
	ctx, span := tracer.Start(ctx, "ResumeService.ParseDocument",
		trace.WithAttributes(
			attribute.String("file.name", tracing.TruncateString(in.Filename, tracing.DefaultMaxLength)),
			attribute.Int("file.size", len(in.Data)),
		))
	defer span.End()

	ct, err := s.validateDocument(in)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	span.SetAttributes(attribute.String("file.content_type", ct))

	text, err := s.extract(ctx, "", in.Data, ct, in.Filename)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExtraction)
		return nil, err
	}

	rec, fromCache := s.parseText(ctx, text)
	out := &ParseOutcome{Record: rec, ContentType: ct, FromCache: fromCache}
	if s.settings.PersistSync && s.components.Records != nil {
		out.SubmissionUUID = s.persistSync(ctx, in, ct, rec)
	}

	s.logger.Info().
		Str("filename", in.Filename).
		Str("content_type", ct).
		Str("candidate", tracing.MaskPII(rec.NameOrEmpty())).
		Bool("from_cache", fromCache).
		Str("submission_uuid", out.SubmissionUUID).
		Msg("简历解析完成")
	return out, nil
}

// SubmitDocument 上传原始文件、写入 PENDING 记录并投递解析任务
func (s *ResumeService) SubmitDocument(ctx context.Context, in DocumentInput) (*SubmitResult, error) {
	if !s.AsyncEnabled() {
		return nil, ErrAsyncUnavailable
	}
	ctx, span := tracer.Start(ctx, "ResumeService.SubmitDocument",
		trace.WithAttributes(attribute.Int("file.size", len(in.Data))))
	defer span.End()

	ct, err := s.validateDocument(in)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	id, err := storage.NewSubmissionUUID()
	if err != nil {
		return nil, NewStoreError("", err.Error())
	}
	span.SetAttributes(attribute.String("submission.uuid", id))
	logger := s.logger.With().Str("submission_uuid", id).Logger()

	fileMD5 := utils.CalculateMD5(in.Data)
	claimed := false
	if s.components.Dedup != nil {
		dup, ok, err := s.claimFile(ctx, fileMD5, id)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("文件去重检查失败，继续提交")
		case dup != nil:
			logger.Info().Str("existing_uuid", dup.SubmissionUUID).Msg("重复提交，返回已有结果")
			return dup, nil
		default:
			claimed = ok
		}
	}
	rollback := func() {
		if claimed {
			if err := s.components.Dedup.ReleaseFileMD5(ctx, fileMD5); err != nil {
				logger.Warn().Err(err).Msg("撤销去重键失败")
			}
		}
	}

	objectKey, err := s.components.Objects.UploadOriginal(ctx, id, extractor.ExtensionFor(ct, in.Filename), ct, in.Data)
	if err != nil {
		rollback()
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
		return nil, NewStoreError(id, err.Error())
	}

	row := &models.ParsedResume{
		SubmissionUUID:    id,
		OriginalFilename:  in.Filename,
		ContentType:       ct,
		OriginalObjectKey: objectKey,
		RawFileMD5:        fileMD5,
		SourceChannel:     in.SourceChannel,
		Status:            models.StatusPending,
	}
	msg := storage.ParseJobMessage{
		SubmissionUUID:      id,
		ObjectKey:           objectKey,
		Filename:            in.Filename,
		ContentType:         ct,
		SubmissionTimestamp: s.now(),
		RawFileMD5:          fileMD5,
		SourceChannel:       in.SourceChannel,
	}
	discardOriginal := func() {
		if delErr := s.components.Objects.DeleteOriginal(ctx, objectKey); delErr != nil {
			logger.Warn().Err(delErr).Str("object", objectKey).Msg("回滚原始文件失败")
		}
	}

	if s.outboxEnabled() {
		// 记录和任务消息同事务落库，由发件箱中继投递
		if err := s.saveWithOutbox(ctx, row, msg); err != nil {
			discardOriginal()
			rollback()
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
			return nil, NewStoreError(id, err.Error())
		}
	} else {
		if err := s.components.Records.SaveParsedResume(ctx, row); err != nil {
			discardOriginal()
			rollback()
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
			return nil, NewStoreError(id, err.Error())
		}
		if err := s.components.Queue.PublishParseJob(ctx, msg); err != nil {
			if upErr := s.components.Records.UpdateStatus(ctx, id, models.StatusFailed, err.Error()); upErr != nil {
				logger.Warn().Err(upErr).Msg("标记提交失败状态失败")
			}
			rollback()
			tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ)
			return nil, NewPublishError(id, err.Error())
		}
	}

	s.setStatus(ctx, id, models.StatusPending)
	logger.Info().Str("filename", in.Filename).Str("content_type", ct).Msg("解析任务已提交")
	return &SubmitResult{SubmissionUUID: id, Status: models.StatusPending}, nil
}

func (s *ResumeService) outboxEnabled() bool {
	return s.settings.UseOutbox && s.components.Outbox != nil
}

func (s *ResumeService) saveWithOutbox(ctx context.Context, row *models.ParsedResume, msg storage.ParseJobMessage) error {
	exchange, routingKey := s.components.Queue.ParseRoute()
	ob, err := msg.ToOutbox(exchange, routingKey)
	if err != nil {
		return err
	}
	return s.components.Outbox.SaveWithOutbox(ctx, row, ob)
}

// claimFile 返回非 nil 的 SubmitResult 表示文件已提交过。已失败的旧提交不算重复
func (s *ResumeService) claimFile(ctx context.Context, fileMD5, id string) (*SubmitResult, bool, error) {
	existing, ok, err := s.components.Dedup.ClaimFileMD5(ctx, fileMD5, id)
	if err != nil || ok {
		return nil, ok, err
	}
	row, err := s.components.Records.GetParsedResume(ctx, existing)
	if err == nil && row.Status != models.StatusFailed {
		return &SubmitResult{SubmissionUUID: existing, Status: row.Status, Duplicate: true}, false, nil
	}
	if err := s.components.Dedup.ReleaseFileMD5(ctx, fileMD5); err != nil {
		return nil, false, err
	}
	_, ok, err = s.components.Dedup.ClaimFileMD5(ctx, fileMD5, id)
	return nil, ok, err
}

// HandleParseJob 处理一条异步解析任务。返回 ErrStoreFailed 类错误时应重新投递，
// 其余错误已记为 FAILED
func (s *ResumeService) HandleParseJob(ctx context.Context, msg storage.ParseJobMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("无效的解析任务: %w", err)
	}
	if s.components.Records == nil || s.components.Objects == nil {
		return ErrAsyncUnavailable
	}
	ctx, span := tracer.Start(ctx, "ResumeService.HandleParseJob",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("submission.uuid", msg.SubmissionUUID)))
	defer span.End()

	id := msg.SubmissionUUID
	logger := s.logger.With().Str("submission_uuid", id).Logger()

	row, err := s.components.Records.GetParsedResume(ctx, id)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return NewStoreError(id, err.Error())
	}
	if row.Status == models.StatusCompleted {
		logger.Debug().Msg("任务已完成，忽略重复投递")
		return nil
	}

	if err := s.components.Records.UpdateStatus(ctx, id, models.StatusProcessing, ""); err != nil {
		logger.Warn().Err(err).Msg("更新处理中状态失败")
	}
	s.setStatus(ctx, id, models.StatusProcessing)

	data, err := s.components.Objects.GetOriginal(ctx, msg.ObjectKey)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
		return s.failJob(ctx, id, NewExtractionError(id, "下载原始文件失败: "+err.Error()))
	}

	ct := msg.ContentType
	if ct == "" {
		ct = extractor.DetectContentType(data, "", msg.Filename)
	}
	text, err := s.extract(ctx, id, data, ct, msg.Filename)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExtraction)
		return s.failJob(ctx, id, err)
	}

	rec, _ := s.parseText(ctx, text)
	if key, err := s.components.Objects.UploadRawText(ctx, id, text); err != nil {
		logger.Warn().Err(err).Msg("上传提取文本失败")
	} else {
		row.RawTextObjectKey = key
	}

	row.ApplyRecord(rec, s.now())
	if err := s.components.Records.SaveParsedResume(ctx, row); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return NewStoreError(id, err.Error())
	}
	s.setStatus(ctx, id, models.StatusCompleted)

	logger.Info().
		Str("candidate", tracing.MaskPII(rec.NameOrEmpty())).
		Int("skills", len(rec.Skills)).
		Int("experience", len(rec.Experience)).
		Msg("异步解析完成")
	return nil
}

func (s *ResumeService) failJob(ctx context.Context, id string, cause error) error {
	if err := s.components.Records.UpdateStatus(ctx, id, models.StatusFailed, cause.Error()); err != nil {
		return NewStoreError(id, fmt.Sprintf("标记失败状态失败: %v (原因: %v)", err, cause))
	}
	s.setStatus(ctx, id, models.StatusFailed)
	s.logger.Warn().Err(cause).Str("submission_uuid", id).Msg("异步解析失败")
	return cause
}

// handleDelivery 消费者回调，返回 false 时消息重新入队
func (s *ResumeService) handleDelivery(ctx context.Context, body []byte) bool {
	var msg storage.ParseJobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		s.logger.Error().Err(err).Str("body", utils.Truncate(string(body), 200)).Msg("无法解析任务消息，丢弃")
		return true
	}
	err := s.HandleParseJob(ctx, msg)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrStoreFailed) {
		span := trace.SpanFromContext(ctx)
		tracing.RecordRabbitMQNack(span, msg.SubmissionUUID, err.Error())
		s.logger.Warn().Err(err).Str("submission_uuid", msg.SubmissionUUID).Msg("任务处理失败，重新入队")
		return false
	}
	return true
}

// StartConsumer 启动 workers 个队列消费者，ctx 结束时停止
func (s *ResumeService) StartConsumer(ctx context.Context, workers int) error {
	if !s.AsyncEnabled() {
		return ErrAsyncUnavailable
	}
	if workers <= 0 {
		workers = 1
	}
	queue := s.components.Queue
	// 关停时让进行中的任务跑完
	jobCtx := context.WithoutCancel(ctx)

	stops := make([]chan<- struct{}, 0, workers)
	for i := 0; i < workers; i++ {
		stop, err := queue.StartConsumer(queue.ParseQueue(), queue.PrefetchCount(), func(body []byte) bool {
			return s.handleDelivery(jobCtx, body)
		})
		if err != nil {
			for _, st := range stops {
				close(st)
			}
			return fmt.Errorf("启动第 %d 个消费者失败: %w", i+1, err)
		}
		stops = append(stops, stop)
	}

	go func() {
		<-ctx.Done()
		for _, st := range stops {
			close(st)
		}
	}()
	s.logger.Info().Int("workers", workers).Str("queue", queue.ParseQueue()).Msg("解析任务消费者已启动")
	return nil
}

// GetResult 查询提交状态和解析结果
func (s *ResumeService) GetResult(ctx context.Context, submissionUUID string) (*SubmissionResult, error) {
	if s.components.Records == nil {
		return nil, ErrAsyncUnavailable
	}
	row, err := s.components.Records.GetParsedResume(ctx, submissionUUID)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, submissionUUID)
	}
	if err != nil {
		return nil, fmt.Errorf("查询解析结果失败: %w", err)
	}

	rec := row.ToRecord()
	// raw_text 列为空(历史数据或已清理)时从对象存储取回提取文本
	if rec != nil && rec.RawText == "" && row.RawTextObjectKey != "" && s.components.Objects != nil {
		text, err := s.components.Objects.GetRawText(ctx, row.RawTextObjectKey)
		if err != nil {
			s.logger.Warn().Err(err).Str("submission_uuid", submissionUUID).Msg("读取提取文本失败")
		} else {
			rec.RawText = text
		}
	}

	return &SubmissionResult{
		SubmissionUUID: row.SubmissionUUID,
		Status:         row.Status,
		Filename:       row.OriginalFilename,
		ContentType:    row.ContentType,
		ErrorMessage:   row.ErrorMessage,
		Record:         rec,
		CreatedAt:      row.CreatedAt,
		CompletedAt:    row.CompletedAt,
	}, nil
}

// GetStatus 查询提交状态。先读状态缓存，未命中时查库并回填缓存
func (s *ResumeService) GetStatus(ctx context.Context, submissionUUID string) (*SubmissionStatus, error) {
	if s.components.Records == nil {
		return nil, ErrAsyncUnavailable
	}
	if s.components.Status != nil {
		status, err := s.components.Status.GetSubmissionStatus(ctx, submissionUUID)
		switch {
		case err == nil && status != "":
			return &SubmissionStatus{SubmissionUUID: submissionUUID, Status: status}, nil
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			s.logger.Warn().Err(err).Str("submission_uuid", submissionUUID).Msg("读取状态缓存失败，改为查库")
		}
	}

	row, err := s.components.Records.GetParsedResume(ctx, submissionUUID)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, submissionUUID)
	}
	if err != nil {
		return nil, fmt.Errorf("查询提交状态失败: %w", err)
	}
	s.setStatus(ctx, submissionUUID, row.Status)
	return &SubmissionStatus{SubmissionUUID: submissionUUID, Status: row.Status}, nil
}

// ListResults 分页列出提交，page 从 1 开始
func (s *ResumeService) ListResults(ctx context.Context, status string, page, pageSize int) (*ResultPage, error) {
	if s.components.Records == nil {
		return nil, ErrAsyncUnavailable
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	rows, total, err := s.components.Records.ListParsedResumes(ctx, strings.ToUpper(status), (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, fmt.Errorf("查询解析结果列表失败: %w", err)
	}
	return &ResultPage{
		Items: slice.Map(rows, func(_ int, src models.ParsedResume) ResultSummary {
			return ResultSummary{
				SubmissionUUID: src.SubmissionUUID,
				Filename:       src.OriginalFilename,
				Status:         src.Status,
				CandidateName:  src.CandidateName,
				CreatedAt:      src.CreatedAt,
			}
		}),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func (s *ResumeService) validateDocument(in DocumentInput) (string, error) {
	if len(in.Data) == 0 {
		return "", NewEmptyTextError("", "上传文件为空")
	}
	if limit := s.settings.MaxUploadBytes; limit > 0 && int64(len(in.Data)) > limit {
		return "", fmt.Errorf("%w: %d > %d 字节", ErrFileTooLarge, len(in.Data), limit)
	}
	ct := extractor.DetectContentType(in.Data, in.ContentType, in.Filename)
	if !s.components.Extractor.Supported(ct) {
		return "", NewUnsupportedTypeError("", ct)
	}
	return ct, nil
}

func (s *ResumeService) extract(ctx context.Context, id string, data []byte, ct, filename string) (string, error) {
	text, err := s.components.Extractor.Extract(ctx, data, ct, filename)
	switch {
	case err == nil:
	case errors.Is(err, extractor.ErrUnsupportedType),
		errors.Is(err, extractor.ErrOCRUnavailable),
		errors.Is(err, extractor.ErrInvalidEncoding):
		return "", NewUnsupportedTypeError(id, err.Error())
	case errors.Is(err, extractor.ErrNoTextLayer):
		return "", NewEmptyTextError(id, err.Error())
	default:
		return "", NewExtractionError(id, err.Error())
	}
	if strings.TrimSpace(text) == "" {
		return "", NewEmptyTextError(id, "提取结果为空")
	}
	return text, nil
}

// parseText 先查缓存，未命中再解析并写缓存。缓存故障不影响解析
func (s *ResumeService) parseText(ctx context.Context, text string) (*structuring.ResumeRecord, bool) {
	textMD5 := utils.TextMD5(text)
	if s.components.Cache != nil {
		rec, err := s.components.Cache.GetCachedRecord(ctx, textMD5)
		if err != nil {
			s.logger.Warn().Err(err).Msg("读取解析缓存失败")
		} else if rec != nil {
			return rec, true
		}
	}

	rec := s.components.Parser.Parse(ctx, text)

	if s.components.Cache != nil {
		if err := s.components.Cache.CacheRecord(ctx, textMD5, rec, s.settings.CacheTTL); err != nil {
			s.logger.Warn().Err(err).Msg("写入解析缓存失败")
		}
	}
	return rec, false
}

func (s *ResumeService) persistSync(ctx context.Context, in DocumentInput, ct string, rec *structuring.ResumeRecord) string {
	id, err := storage.NewSubmissionUUID()
	if err != nil {
		s.logger.Warn().Err(err).Msg("生成提交ID失败，跳过落库")
		return ""
	}
	logger := s.logger.With().Str("submission_uuid", id).Logger()

	row := &models.ParsedResume{
		SubmissionUUID:   id,
		OriginalFilename: in.Filename,
		ContentType:      ct,
		RawFileMD5:       utils.CalculateMD5(in.Data),
		SourceChannel:    in.SourceChannel,
	}
	if s.components.Objects != nil {
		if key, err := s.components.Objects.UploadOriginal(ctx, id, extractor.ExtensionFor(ct, in.Filename), ct, in.Data); err != nil {
			logger.Warn().Err(err).Msg("上传原始文件失败")
		} else {
			row.OriginalObjectKey = key
		}
		if key, err := s.components.Objects.UploadRawText(ctx, id, rec.RawText); err != nil {
			logger.Warn().Err(err).Msg("上传提取文本失败")
		} else {
			row.RawTextObjectKey = key
		}
	}
	row.ApplyRecord(rec, s.now())
	if err := s.components.Records.SaveParsedResume(ctx, row); err != nil {
		logger.Warn().Err(err).Msg("保存解析结果失败")
		return ""
	}
	return id
}

func (s *ResumeService) setStatus(ctx context.Context, id, status string) {
	if s.components.Status == nil {
		return
	}
	if err := s.components.Status.SetSubmissionStatus(ctx, id, status); err != nil {
		s.logger.Warn().Err(err).Str("submission_uuid", id).Str("status", status).Msg("写入状态缓存失败")
	}
}
