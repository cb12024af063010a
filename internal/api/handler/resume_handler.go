package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"resume-parser-go/internal/processor"
	"resume-parser-go/internal/structuring"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

const (
	defaultSourceChannel = "web_upload"
	submissionHeader     = "X-Submission-UUID"
)

// ResumeService 处理器依赖的服务接口，*processor.ResumeService 实现该接口
type ResumeService interface {
	ParseText(ctx context.Context, text string) (*structuring.ResumeRecord, error)
	ParseDocument(ctx context.Context, in processor.DocumentInput) (*processor.ParseOutcome, error)
	SubmitDocument(ctx context.Context, in processor.DocumentInput) (*processor.SubmitResult, error)
	GetResult(ctx context.Context, submissionUUID string) (*processor.SubmissionResult, error)
	GetStatus(ctx context.Context, submissionUUID string) (*processor.SubmissionStatus, error)
	ListResults(ctx context.Context, status string, page, pageSize int) (*processor.ResultPage, error)
	NERAvailable() bool
	AsyncEnabled() bool
}

var _ ResumeService = (*processor.ResumeService)(nil)

// ParseTextRequest 纯文本解析请求
type ParseTextRequest struct {
	Text string `json:"text"`
}

// ErrorResponse 统一的错误响应
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status string `json:"status"`
	NER    string `json:"ner"` // available 或 fallback
	Async  bool   `json:"async"`
}

// ResumeHandler 简历解析相关的 HTTP 处理器
type ResumeHandler struct {
	service        ResumeService
	maxUploadBytes int64
}

// NewResumeHandler 创建处理器，maxUploadBytes<=0 表示不限制读取大小
func NewResumeHandler(service ResumeService, maxUploadBytes int64) *ResumeHandler {
	return &ResumeHandler{service: service, maxUploadBytes: maxUploadBytes}
}

// HandleParse POST /resume/parse，同步解析上传的文件
func (h *ResumeHandler) HandleParse(ctx context.Context, c *app.RequestContext) {
	in, ok := h.readUpload(ctx, c)
	if !ok {
		return
	}
	out, err := h.service.ParseDocument(ctx, in)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	if out.SubmissionUUID != "" {
		c.Header(submissionHeader, out.SubmissionUUID)
	}
	c.JSON(consts.StatusOK, out.Record)
}

// HandleParseText POST /resume/parse-text，解析 JSON 中的纯文本
func (h *ResumeHandler) HandleParseText(ctx context.Context, c *app.RequestContext) {
	var req ParseTextRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, ErrorResponse{Error: "请求体不是合法的 JSON"})
		return
	}
	rec, err := h.service.ParseText(ctx, req.Text)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, rec)
}

// HandleSubmit POST /resume/submit，异步提交文件
func (h *ResumeHandler) HandleSubmit(ctx context.Context, c *app.RequestContext) {
	if !h.service.AsyncEnabled() {
		writeError(ctx, c, processor.ErrAsyncUnavailable)
		return
	}
	in, ok := h.readUpload(ctx, c)
	if !ok {
		return
	}
	res, err := h.service.SubmitDocument(ctx, in)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	if res.Duplicate {
		c.JSON(consts.StatusOK, res)
		return
	}
	c.JSON(consts.StatusAccepted, res)
}

// HandleGetResult GET /resume/:uuid
func (h *ResumeHandler) HandleGetResult(ctx context.Context, c *app.RequestContext) {
	id := strings.TrimSpace(c.Param("uuid"))
	if id == "" {
		c.JSON(consts.StatusBadRequest, ErrorResponse{Error: "缺少 uuid"})
		return
	}
	res, err := h.service.GetResult(ctx, id)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}

// HandleGetStatus GET /resume/:uuid/status，供客户端轮询
func (h *ResumeHandler) HandleGetStatus(ctx context.Context, c *app.RequestContext) {
	id := strings.TrimSpace(c.Param("uuid"))
	if id == "" {
		c.JSON(consts.StatusBadRequest, ErrorResponse{Error: "缺少 uuid"})
		return
	}
	res, err := h.service.GetStatus(ctx, id)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}

// HandleHealth GET /health。实体识别不可用时服务仍然可用，只是姓名走回退逻辑
func (h *ResumeHandler) HandleHealth(_ context.Context, c *app.RequestContext) {
	ner := "fallback"
	if h.service.NERAvailable() {
		ner = "available"
	}
	c.JSON(consts.StatusOK, HealthResponse{Status: "ok", NER: ner, Async: h.service.AsyncEnabled()})
}

func (h *ResumeHandler) readUpload(ctx context.Context, c *app.RequestContext) (processor.DocumentInput, bool) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(consts.StatusBadRequest, ErrorResponse{Error: "文件未找到"})
		return processor.DocumentInput{}, false
	}
	if h.maxUploadBytes > 0 && fileHeader.Size > h.maxUploadBytes {
		writeError(ctx, c, fmt.Errorf("%w: %d > %d 字节", processor.ErrFileTooLarge, fileHeader.Size, h.maxUploadBytes))
		return processor.DocumentInput{}, false
	}

	data, err := readFile(fileHeader)
	if err != nil {
		hlog.CtxErrorf(ctx, "读取上传文件失败: %v", err)
		c.JSON(consts.StatusInternalServerError, ErrorResponse{Error: "读取上传文件失败"})
		return processor.DocumentInput{}, false
	}

	channel := string(c.FormValue("source_channel"))
	if channel == "" {
		channel = defaultSourceChannel
	}
	return processor.DocumentInput{
		Filename:      fileHeader.Filename,
		ContentType:   fileHeader.Header.Get("Content-Type"),
		Data:          data,
		SourceChannel: channel,
	}, true
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// statusFor 把服务层错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, processor.ErrFileTooLarge):
		return consts.StatusRequestEntityTooLarge
	case errors.Is(err, processor.ErrUnsupportedFileType):
		return consts.StatusBadRequest
	case errors.Is(err, processor.ErrEmptyText):
		return consts.StatusUnprocessableEntity
	case errors.Is(err, processor.ErrRecordNotFound):
		return consts.StatusNotFound
	case errors.Is(err, processor.ErrAsyncUnavailable):
		return consts.StatusServiceUnavailable
	default:
		return consts.StatusInternalServerError
	}
}

func writeError(ctx context.Context, c *app.RequestContext, err error) {
	status := statusFor(err)
	if status >= consts.StatusInternalServerError && status != consts.StatusServiceUnavailable {
		hlog.CtxErrorf(ctx, "请求处理失败: %v", err)
	} else {
		hlog.CtxInfof(ctx, "请求被拒绝 (%d): %v", status, err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}
