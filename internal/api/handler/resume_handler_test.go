package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"resume-parser-go/internal/api/handler"
	"resume-parser-go/internal/api/router"
	"resume-parser-go/internal/processor"
	"resume-parser-go/internal/structuring"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResume = `Jane Doe
jane@example.com

Skills
- Go
- Python

Experience
• Backend engineer at Acme
• Intern at Initech
`

// fakeService 用真实的结构化引擎处理文本，其余行为由字段控制
type fakeService struct {
	engine *structuring.Engine

	documentErr error
	submitErr   error
	duplicate   bool
	async       bool
	ner         bool
	results     map[string]*processor.SubmissionResult

	lastInput     processor.DocumentInput
	lastStatus    string
	lastPage      int
	lastPageSize  int
	persistedUUID string
}

func newFakeService() *fakeService {
	return &fakeService{
		engine:  structuring.NewEngine(nil, structuring.WithLogger(zerolog.Nop())),
		results: map[string]*processor.SubmissionResult{},
	}
}

func (f *fakeService) ParseText(ctx context.Context, text string) (*structuring.ResumeRecord, error) {
	if strings.TrimSpace(text) == "" {
		return nil, processor.NewEmptyTextError("", "空文本")
	}
	return f.engine.Parse(ctx, text), nil
}

func (f *fakeService) ParseDocument(ctx context.Context, in processor.DocumentInput) (*processor.ParseOutcome, error) {
	f.lastInput = in
	if f.documentErr != nil {
		return nil, f.documentErr
	}
	return &processor.ParseOutcome{
		Record:         f.engine.Parse(ctx, string(in.Data)),
		ContentType:    "text/plain",
		SubmissionUUID: f.persistedUUID,
	}, nil
}

func (f *fakeService) SubmitDocument(_ context.Context, in processor.DocumentInput) (*processor.SubmitResult, error) {
	f.lastInput = in
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &processor.SubmitResult{SubmissionUUID: "sub-1", Status: "PENDING", Duplicate: f.duplicate}, nil
}

func (f *fakeService) GetResult(_ context.Context, id string) (*processor.SubmissionResult, error) {
	res, ok := f.results[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", processor.ErrRecordNotFound, id)
	}
	return res, nil
}

func (f *fakeService) GetStatus(_ context.Context, id string) (*processor.SubmissionStatus, error) {
	res, ok := f.results[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", processor.ErrRecordNotFound, id)
	}
	return &processor.SubmissionStatus{SubmissionUUID: id, Status: res.Status}, nil
}

func (f *fakeService) ListResults(_ context.Context, status string, page, pageSize int) (*processor.ResultPage, error) {
	f.lastStatus, f.lastPage, f.lastPageSize = status, page, pageSize
	return &processor.ResultPage{Items: []processor.ResultSummary{}, Total: 0, Page: page, PageSize: 20}, nil
}

func (f *fakeService) NERAvailable() bool { return f.ner }
func (f *fakeService) AsyncEnabled() bool { return f.async }

func newTestServer(svc handler.ResumeService, maxUpload int64, opts router.Options) *server.Hertz {
	h := server.New(server.WithHostPorts("127.0.0.1:0"))
	router.RegisterRoutes(h, handler.NewResumeHandler(svc, maxUpload), opts)
	return h
}

// createMultipartForm 构造带 file 字段的 multipart 表单
func createMultipartForm(t *testing.T, fileName, partContentType string, content []byte, sourceChannel string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName))
	header.Set("Content-Type", partContentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)

	if sourceChannel != "" {
		require.NoError(t, writer.WriteField("source_channel", sourceChannel))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func postFile(h *server.Hertz, path string, body *bytes.Buffer, contentType string, extra ...ut.Header) *ut.ResponseRecorder {
	headers := append([]ut.Header{{Key: "Content-Type", Value: contentType}}, extra...)
	return ut.PerformRequest(h.Engine, http.MethodPost, path, &ut.Body{Body: body, Len: body.Len()}, headers...)
}

func decodeError(t *testing.T, w *ut.ResponseRecorder) string {
	t.Helper()
	var resp handler.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestHandleParse_Success(t *testing.T) {
	svc := newFakeService()
	svc.persistedUUID = "0190a1b2-0000-7000-8000-000000000001"
	h := newTestServer(svc, 1<<20, router.Options{})

	body, ct := createMultipartForm(t, "cv.txt", "text/plain", []byte(sampleResume), "")
	w := postFile(h, "/api/v1/resume/parse", body, ct)
	require.Equal(t, http.StatusOK, w.Code)

	var rec structuring.ResumeRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	require.NotNil(t, rec.Name)
	assert.Equal(t, "Jane Doe", *rec.Name)
	assert.Equal(t, []string{"Go", "Python"}, rec.Skills)
	assert.Equal(t, []string{"Backend engineer at Acme", "Intern at Initech"}, rec.Experience)
	assert.Equal(t, svc.persistedUUID, w.Result().Header.Get("X-Submission-UUID"))

	assert.Equal(t, "cv.txt", svc.lastInput.Filename)
	assert.Equal(t, "text/plain", svc.lastInput.ContentType)
	assert.Equal(t, "web_upload", svc.lastInput.SourceChannel, "未传来源渠道时使用默认值")
}

func TestHandleParse_SourceChannelForwarded(t *testing.T) {
	svc := newFakeService()
	h := newTestServer(svc, 1<<20, router.Options{})

	body, ct := createMultipartForm(t, "cv.txt", "text/plain", []byte(sampleResume), "email")
	w := postFile(h, "/api/v1/resume/parse", body, ct)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "email", svc.lastInput.SourceChannel)
	assert.Empty(t, w.Result().Header.Get("X-Submission-UUID"), "未落库时不返回提交ID")
}

func TestHandleParse_MissingFile(t *testing.T) {
	h := newTestServer(newFakeService(), 1<<20, router.Options{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("source_channel", "web_upload"))
	require.NoError(t, writer.Close())

	w := postFile(h, "/api/v1/resume/parse", body, writer.FormDataContentType())
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "文件未找到", decodeError(t, w))
}

func TestHandleParse_TooLarge(t *testing.T) {
	svc := newFakeService()
	h := newTestServer(svc, 16, router.Options{})

	body, ct := createMultipartForm(t, "cv.txt", "text/plain", []byte(sampleResume), "")
	w := postFile(h, "/api/v1/resume/parse", body, ct)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, svc.lastInput.Filename, "超限文件不应进入服务层")
}

func TestHandleParse_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"unsupported", processor.NewUnsupportedTypeError("", "image/gif"), http.StatusBadRequest},
		{"empty text", processor.NewEmptyTextError("", "没有文本层"), http.StatusUnprocessableEntity},
		{"extraction", processor.NewExtractionError("", "pdf 损坏"), http.StatusInternalServerError},
		{"too large", processor.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newFakeService()
			svc.documentErr = tc.err
			h := newTestServer(svc, 1<<20, router.Options{})

			body, ct := createMultipartForm(t, "cv.bin", "application/octet-stream", []byte("xx"), "")
			w := postFile(h, "/api/v1/resume/parse", body, ct)
			assert.Equal(t, tc.status, w.Code)
			assert.NotEmpty(t, decodeError(t, w))
		})
	}
}

func TestHandleParseText(t *testing.T) {
	h := newTestServer(newFakeService(), 1<<20, router.Options{})

	payload, err := json.Marshal(handler.ParseTextRequest{Text: sampleResume})
	require.NoError(t, err)
	w := ut.PerformRequest(h.Engine, http.MethodPost, "/api/v1/resume/parse-text",
		&ut.Body{Body: bytes.NewReader(payload), Len: len(payload)},
		ut.Header{Key: "Content-Type", Value: "application/json"},
	)
	require.Equal(t, http.StatusOK, w.Code)

	var rec structuring.ResumeRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	require.NotNil(t, rec.Name)
	assert.Equal(t, "Jane Doe", *rec.Name)
	assert.Equal(t, sampleResume, rec.RawText)
}

func TestHandleParseText_Blank(t *testing.T) {
	h := newTestServer(newFakeService(), 1<<20, router.Options{})

	payload := []byte(`{"text":"   \n  "}`)
	w := ut.PerformRequest(h.Engine, http.MethodPost, "/api/v1/resume/parse-text",
		&ut.Body{Body: bytes.NewReader(payload), Len: len(payload)},
		ut.Header{Key: "Content-Type", Value: "application/json"},
	)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandleParseText_BadJSON(t *testing.T) {
	h := newTestServer(newFakeService(), 1<<20, router.Options{})

	payload := []byte(`{"text":`)
	w := ut.PerformRequest(h.Engine, http.MethodPost, "/api/v1/resume/parse-text",
		&ut.Body{Body: bytes.NewReader(payload), Len: len(payload)},
		ut.Header{Key: "Content-Type", Value: "application/json"},
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSubmit(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		svc := newFakeService()
		svc.async = true
		h := newTestServer(svc, 1<<20, router.Options{})

		body, ct := createMultipartForm(t, "cv.pdf", "application/pdf", []byte("%PDF-1.4"), "")
		w := postFile(h, "/api/v1/resume/submit", body, ct)
		require.Equal(t, http.StatusAccepted, w.Code)

		var res processor.SubmitResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, "sub-1", res.SubmissionUUID)
		assert.Equal(t, "PENDING", res.Status)
		assert.False(t, res.Duplicate)
	})

	t.Run("duplicate", func(t *testing.T) {
		svc := newFakeService()
		svc.async = true
		svc.duplicate = true
		h := newTestServer(svc, 1<<20, router.Options{})

		body, ct := createMultipartForm(t, "cv.pdf", "application/pdf", []byte("%PDF-1.4"), "")
		w := postFile(h, "/api/v1/resume/submit", body, ct)
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("async disabled", func(t *testing.T) {
		h := newTestServer(newFakeService(), 1<<20, router.Options{})

		body, ct := createMultipartForm(t, "cv.pdf", "application/pdf", []byte("%PDF-1.4"), "")
		w := postFile(h, "/api/v1/resume/submit", body, ct)
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("publish failure", func(t *testing.T) {
		svc := newFakeService()
		svc.async = true
		svc.submitErr = processor.NewPublishError("sub-1", "broker down")
		h := newTestServer(svc, 1<<20, router.Options{})

		body, ct := createMultipartForm(t, "cv.pdf", "application/pdf", []byte("%PDF-1.4"), "")
		w := postFile(h, "/api/v1/resume/submit", body, ct)
		require.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHandleGetResult(t *testing.T) {
	svc := newFakeService()
	name := "Jane Doe"
	svc.results["abc"] = &processor.SubmissionResult{
		SubmissionUUID: "abc",
		Status:         "COMPLETED",
		Filename:       "cv.pdf",
		Record:         &structuring.ResumeRecord{Name: &name, Skills: []string{"Go"}},
		CreatedAt:      time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	h := newTestServer(svc, 1<<20, router.Options{})

	w := ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/resume/abc", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res processor.SubmissionResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "COMPLETED", res.Status)
	require.NotNil(t, res.Record)
	assert.Equal(t, []string{"Go"}, res.Record.Skills)

	w = ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/resume/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetStatus(t *testing.T) {
	svc := newFakeService()
	svc.results["abc"] = &processor.SubmissionResult{SubmissionUUID: "abc", Status: "PROCESSING"}
	h := newTestServer(svc, 1<<20, router.Options{})

	w := ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/resume/abc/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res processor.SubmissionStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, processor.SubmissionStatus{SubmissionUUID: "abc", Status: "PROCESSING"}, res)

	w = ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/resume/missing/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleListResults(t *testing.T) {
	svc := newFakeService()
	h := newTestServer(svc, 1<<20, router.Options{})

	w := ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/resume?page=3&size=5&status=completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", svc.lastStatus)
	assert.Equal(t, 3, svc.lastPage)
	assert.Equal(t, 5, svc.lastPageSize)

	// 非法参数回退到默认值
	w = ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/resume?page=-1&page_size=abc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, svc.lastPage)
	assert.Equal(t, 0, svc.lastPageSize)

	var page processor.ResultPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 20, page.PageSize)
	assert.NotNil(t, page.Items)
}

func TestHandleHealth(t *testing.T) {
	svc := newFakeService()
	h := newTestServer(svc, 1<<20, router.Options{})

	w := ut.PerformRequest(h.Engine, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp handler.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "fallback", resp.NER)
	assert.False(t, resp.Async)

	svc.ner, svc.async = true, true
	w = ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "available", resp.NER)
	assert.True(t, resp.Async)
}

func TestAPIKeyAuth(t *testing.T) {
	h := newTestServer(newFakeService(), 1<<20, router.Options{APIKeys: []string{"secret-key", " "}})

	// 根路径健康检查不需要鉴权
	w := ut.PerformRequest(h.Engine, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/resume", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/resume", nil,
		ut.Header{Key: "X-API-Key", Value: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/resume", nil,
		ut.Header{Key: "X-API-Key", Value: "secret-key"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyAuth_QueryLookup(t *testing.T) {
	h := newTestServer(newFakeService(), 1<<20, router.Options{APIKeys: []string{"k1"}, KeyLookup: "query:api_key"})

	w := ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/resume?api_key=k1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ut.PerformRequest(h.Engine, http.MethodGet, "/api/v1/resume", nil,
		ut.Header{Key: "X-API-Key", Value: "k1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
