package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"resume-parser-go/internal/extractor"
	"resume-parser-go/internal/storage"
	"resume-parser-go/internal/storage/models"
	"resume-parser-go/internal/structuring"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleText = "Jane Doe\njane@example.com\nSkills\n- Go\n- SQL\nExperience\nBackend engineer at Acme\n"

type countingParser struct {
	engine *structuring.Engine
	mu     sync.Mutex
	calls  int
}

func newCountingParser() *countingParser {
	return &countingParser{engine: structuring.NewEngine(nil, structuring.WithLogger(zerolog.Nop()))}
}

func (p *countingParser) Parse(ctx context.Context, text string) *structuring.ResumeRecord {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.engine.Parse(ctx, text)
}

func (p *countingParser) HasRecognizer() bool { return false }

type fakeExtractor struct {
	text        string
	err         error
	unsupported bool
}

func (f *fakeExtractor) Extract(_ context.Context, _ []byte, _, _ string) (string, error) {
	return f.text, f.err
}

func (f *fakeExtractor) Supported(string) bool { return !f.unsupported }

type fakeCache struct {
	mu         sync.Mutex
	records    map[string]*structuring.ResumeRecord
	status     map[string]string
	statusErr  error
	statusHits int
}

func newFakeCache() *fakeCache {
	return &fakeCache{records: map[string]*structuring.ResumeRecord{}, status: map[string]string{}}
}

func (c *fakeCache) GetCachedRecord(_ context.Context, key string) (*structuring.ResumeRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records[key], nil
}

func (c *fakeCache) CacheRecord(_ context.Context, key string, rec *structuring.ResumeRecord, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[key] = rec
	return nil
}

func (c *fakeCache) SetSubmissionStatus(_ context.Context, id, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[id] = status
	return nil
}

func (c *fakeCache) GetSubmissionStatus(_ context.Context, id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusHits++
	if c.statusErr != nil {
		return "", c.statusErr
	}
	status, ok := c.status[id]
	if !ok {
		return "", storage.ErrNotFound
	}
	return status, nil
}

type fakeDedup struct {
	mu    sync.Mutex
	owner map[string]string
}

func (d *fakeDedup) ClaimFileMD5(_ context.Context, md5, id string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.owner[md5]; ok {
		return existing, false, nil
	}
	d.owner[md5] = id
	return id, true, nil
}

func (d *fakeDedup) ReleaseFileMD5(_ context.Context, md5 string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.owner, md5)
	return nil
}

type fakeStore struct {
	mu        sync.Mutex
	rows      map[string]models.ParsedResume
	outbox    []models.OutboxMessage
	saveErr   error
	outboxErr error
	saveHits  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]models.ParsedResume{}}
}

func (f *fakeStore) SaveParsedResume(_ context.Context, row *models.ParsedResume) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveHits++
	if f.saveErr != nil {
		return f.saveErr
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	f.rows[row.SubmissionUUID] = *row
	return nil
}

func (f *fakeStore) SaveWithOutbox(_ context.Context, row *models.ParsedResume, msg *models.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outboxErr != nil {
		return f.outboxErr
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	f.rows[row.SubmissionUUID] = *row
	f.outbox = append(f.outbox, *msg)
	return nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return storage.ErrRecordNotFound
	}
	row.Status = status
	row.ErrorMessage = errMsg
	f.rows[id] = row
	return nil
}

func (f *fakeStore) GetParsedResume(_ context.Context, id string) (*models.ParsedResume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, storage.ErrRecordNotFound
	}
	return &row, nil
}

func (f *fakeStore) ListParsedResumes(_ context.Context, status string, offset, limit int) ([]models.ParsedResume, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []models.ParsedResume
	for _, row := range f.rows {
		if status == "" || row.Status == status {
			all = append(all, row)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SubmissionUUID < all[j].SubmissionUUID })
	total := int64(len(all))
	if offset >= len(all) {
		return []models.ParsedResume{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (f *fakeStore) row(id string) models.ParsedResume {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

type fakeObjects struct {
	mu         sync.Mutex
	objects    map[string][]byte
	texts      map[string]string
	getErr     error
	textGetErr error
	uploadOK   bool
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}, texts: map[string]string{}, uploadOK: true}
}

func (o *fakeObjects) UploadOriginal(_ context.Context, id, ext, _ string, data []byte) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.uploadOK {
		return "", errors.New("minio down")
	}
	key := storage.OriginalObjectKey(id, ext)
	o.objects[key] = data
	return key, nil
}

func (o *fakeObjects) UploadRawText(_ context.Context, id, text string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := storage.RawTextObjectKey(id)
	o.texts[key] = text
	return key, nil
}

func (o *fakeObjects) GetOriginal(_ context.Context, key string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.getErr != nil {
		return nil, o.getErr
	}
	data, ok := o.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (o *fakeObjects) GetRawText(_ context.Context, key string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.textGetErr != nil {
		return "", o.textGetErr
	}
	text, ok := o.texts[key]
	if !ok {
		return "", errors.New("no such key")
	}
	return text, nil
}

func (o *fakeObjects) DeleteOriginal(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	return nil
}

type fakeQueue struct {
	mu         sync.Mutex
	published  []storage.ParseJobMessage
	publishErr error
	handlers   []func([]byte) bool
	stops      []chan struct{}
}

func (q *fakeQueue) PublishParseJob(_ context.Context, msg storage.ParseJobMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, msg)
	return nil
}

func (q *fakeQueue) StartConsumer(_ string, _ int, handler func([]byte) bool) (chan<- struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	stop := make(chan struct{})
	q.handlers = append(q.handlers, handler)
	q.stops = append(q.stops, stop)
	return stop, nil
}

func (q *fakeQueue) ParseRoute() (string, string) { return "ex.test", "rk.test" }
func (q *fakeQueue) ParseQueue() string            { return "q.test" }
func (q *fakeQueue) PrefetchCount() int            { return 1 }

type harness struct {
	svc     *ResumeService
	parser  *countingParser
	ext     *fakeExtractor
	cache   *fakeCache
	store   *fakeStore
	objects *fakeObjects
	queue   *fakeQueue
	dedup   *fakeDedup
}

func newHarness(t *testing.T, async bool, opts ...SettingOpt) *harness {
	t.Helper()
	h := &harness{
		parser:  newCountingParser(),
		ext:     &fakeExtractor{text: sampleText},
		cache:   newFakeCache(),
		store:   newFakeStore(),
		objects: newFakeObjects(),
		queue:   &fakeQueue{},
		dedup:   &fakeDedup{owner: map[string]string{}},
	}
	compOpts := []ComponentOpt{WithCache(h.cache), WithStatusTracker(h.cache), WithRecordStore(h.store), WithOutboxWriter(h.store)}
	if async {
		compOpts = append(compOpts, WithObjectStore(h.objects), WithJobQueue(h.queue), WithDeduper(h.dedup))
	}
	svc, err := NewResumeService(NewComponents(h.parser, h.ext, compOpts...), opts...)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func pdfInput() DocumentInput {
	return DocumentInput{Filename: "cv.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4 fake")}
}

func TestNewResumeServiceRequiresCore(t *testing.T) {
	_, err := NewResumeService(Components{Extractor: &fakeExtractor{}})
	assert.Error(t, err)
	_, err = NewResumeService(Components{Parser: newCountingParser()})
	assert.Error(t, err)
}

func TestWithStorageSkipsMissingBackends(t *testing.T) {
	c := NewComponents(newCountingParser(), &fakeExtractor{}, WithStorage(&storage.Storage{}))
	assert.Nil(t, c.Cache)
	assert.Nil(t, c.Records)
	assert.Nil(t, c.Objects)
	assert.Nil(t, c.Queue)

	c = NewComponents(newCountingParser(), &fakeExtractor{}, WithStorage(nil))
	assert.Nil(t, c.Cache)
}

func TestParseTextRejectsBlank(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.svc.ParseText(context.Background(), "  \n\t ")
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Equal(t, 0, h.parser.calls)
}

func TestParseTextUsesCache(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	first, err := h.svc.ParseText(ctx, sampleText)
	require.NoError(t, err)
	second, err := h.svc.ParseText(ctx, sampleText)
	require.NoError(t, err)

	assert.Equal(t, 1, h.parser.calls)
	assert.Equal(t, first, second)
	require.NotNil(t, first.Name)
	assert.Equal(t, "Jane Doe", *first.Name)
	assert.Equal(t, []string{"Go", "SQL"}, first.Skills)
	assert.Equal(t, []string{"Backend engineer at Acme"}, first.Experience)
}

func TestParseDocumentValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("too large", func(t *testing.T) {
		h := newHarness(t, false, WithMaxUploadBytes(4))
		_, err := h.svc.ParseDocument(ctx, pdfInput())
		assert.ErrorIs(t, err, ErrFileTooLarge)
	})

	t.Run("empty file", func(t *testing.T) {
		h := newHarness(t, false)
		_, err := h.svc.ParseDocument(ctx, DocumentInput{Filename: "cv.pdf"})
		assert.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("unsupported type", func(t *testing.T) {
		h := newHarness(t, false)
		h.ext.unsupported = true
		_, err := h.svc.ParseDocument(ctx, DocumentInput{Filename: "cv.docx", Data: []byte("PK\x03\x04")})
		assert.ErrorIs(t, err, ErrUnsupportedFileType)
	})
}

func TestParseDocumentExtractionErrors(t *testing.T) {
	cases := []struct {
		name string
		text string
		err  error
		want error
	}{
		{"no text layer", "", extractor.ErrNoTextLayer, ErrEmptyText},
		{"blank text", " \n ", nil, ErrEmptyText},
		{"ocr missing", "", extractor.ErrOCRUnavailable, ErrUnsupportedFileType},
		{"bad encoding", "", extractor.ErrInvalidEncoding, ErrUnsupportedFileType},
		{"parser crash", "", errors.New("boom"), ErrExtractionFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, false)
			h.ext.text = tc.text
			h.ext.err = tc.err
			_, err := h.svc.ParseDocument(context.Background(), pdfInput())
			assert.ErrorIs(t, err, tc.want)

			var pe *ParseError
			assert.True(t, errors.As(err, &pe))
		})
	}
}

func TestParseDocumentPersistsResult(t *testing.T) {
	h := newHarness(t, true)
	out, err := h.svc.ParseDocument(context.Background(), pdfInput())
	require.NoError(t, err)

	assert.Equal(t, "application/pdf", out.ContentType)
	assert.False(t, out.FromCache)
	require.NotEmpty(t, out.SubmissionUUID)

	row := h.store.row(out.SubmissionUUID)
	assert.Equal(t, models.StatusCompleted, row.Status)
	assert.Equal(t, "cv.pdf", row.OriginalFilename)
	assert.Equal(t, storage.OriginalObjectKey(out.SubmissionUUID, ".pdf"), row.OriginalObjectKey)
	assert.Equal(t, storage.RawTextObjectKey(out.SubmissionUUID), row.RawTextObjectKey)
	assert.Equal(t, out.Record, row.ToRecord())
}

func TestParseDocumentWithoutPersistence(t *testing.T) {
	h := newHarness(t, false, WithPersistSync(false))
	out, err := h.svc.ParseDocument(context.Background(), pdfInput())
	require.NoError(t, err)
	assert.Empty(t, out.SubmissionUUID)
	assert.Equal(t, 0, h.store.saveHits)
}

func TestParseDocumentPersistFailureIsNotReturned(t *testing.T) {
	h := newHarness(t, false)
	h.store.saveErr = errors.New("db down")
	out, err := h.svc.ParseDocument(context.Background(), pdfInput())
	require.NoError(t, err)
	assert.Empty(t, out.SubmissionUUID)
	assert.NotNil(t, out.Record)
}

func TestSubmitDocumentRequiresAsyncBackends(t *testing.T) {
	h := newHarness(t, false)
	assert.False(t, h.svc.AsyncEnabled())
	_, err := h.svc.SubmitDocument(context.Background(), pdfInput())
	assert.ErrorIs(t, err, ErrAsyncUnavailable)
}

func TestSubmitDocument(t *testing.T) {
	h := newHarness(t, true)
	res, err := h.svc.SubmitDocument(context.Background(), pdfInput())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, res.Status)
	assert.False(t, res.Duplicate)

	row := h.store.row(res.SubmissionUUID)
	assert.Equal(t, models.StatusPending, row.Status)
	assert.Nil(t, row.ToRecord())

	require.Len(t, h.queue.published, 1)
	msg := h.queue.published[0]
	assert.Equal(t, res.SubmissionUUID, msg.SubmissionUUID)
	assert.Equal(t, row.OriginalObjectKey, msg.ObjectKey)
	assert.Equal(t, "application/pdf", msg.ContentType)
	assert.Equal(t, models.StatusPending, h.cache.status[res.SubmissionUUID])
}

func TestSubmitDocumentDuplicate(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	first, err := h.svc.SubmitDocument(ctx, pdfInput())
	require.NoError(t, err)

	second, err := h.svc.SubmitDocument(ctx, pdfInput())
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.SubmissionUUID, second.SubmissionUUID)
	assert.Len(t, h.queue.published, 1)

	// 旧提交失败后允许重新提交
	require.NoError(t, h.store.UpdateStatus(ctx, first.SubmissionUUID, models.StatusFailed, "x"))
	third, err := h.svc.SubmitDocument(ctx, pdfInput())
	require.NoError(t, err)
	assert.False(t, third.Duplicate)
	assert.NotEqual(t, first.SubmissionUUID, third.SubmissionUUID)
	assert.Len(t, h.queue.published, 2)
}

func TestSubmitDocumentPublishFailure(t *testing.T) {
	h := newHarness(t, true)
	h.queue.publishErr = errors.New("broker gone")
	_, err := h.svc.SubmitDocument(context.Background(), pdfInput())
	require.ErrorIs(t, err, ErrPublishFailed)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, models.StatusFailed, h.store.row(pe.SubmissionUUID).Status)
	assert.Empty(t, h.dedup.owner)
}

func TestSubmitDocumentViaOutbox(t *testing.T) {
	h := newHarness(t, true, WithOutbox(true))
	res, err := h.svc.SubmitDocument(context.Background(), pdfInput())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, res.Status)

	assert.Empty(t, h.queue.published, "发件箱模式不直接投递")
	require.Len(t, h.store.outbox, 1)
	ob := h.store.outbox[0]
	assert.Equal(t, res.SubmissionUUID, ob.AggregateID)
	assert.Equal(t, "ex.test", ob.TargetExchange)
	assert.Equal(t, "rk.test", ob.TargetRoutingKey)

	var msg storage.ParseJobMessage
	require.NoError(t, json.Unmarshal([]byte(ob.Payload), &msg))
	assert.Equal(t, h.store.row(res.SubmissionUUID).OriginalObjectKey, msg.ObjectKey)

	// 中继投递后消费端照常处理
	require.NoError(t, h.svc.HandleParseJob(context.Background(), msg))
	assert.Equal(t, models.StatusCompleted, h.store.row(res.SubmissionUUID).Status)
}

func TestSubmitDocumentOutboxFailure(t *testing.T) {
	h := newHarness(t, true, WithOutbox(true))
	h.store.outboxErr = errors.New("deadlock")
	_, err := h.svc.SubmitDocument(context.Background(), pdfInput())
	require.ErrorIs(t, err, ErrStoreFailed)
	assert.Empty(t, h.store.rows)
	assert.Empty(t, h.objects.objects, "原始文件应被回滚")
	assert.Empty(t, h.dedup.owner)
}

func TestSubmitDocumentUploadFailure(t *testing.T) {
	h := newHarness(t, true)
	h.objects.uploadOK = false
	_, err := h.svc.SubmitDocument(context.Background(), pdfInput())
	assert.ErrorIs(t, err, ErrStoreFailed)
	assert.Empty(t, h.store.rows)
	assert.Empty(t, h.dedup.owner)
}

func TestHandleParseJob(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	res, err := h.svc.SubmitDocument(ctx, pdfInput())
	require.NoError(t, err)

	require.NoError(t, h.svc.HandleParseJob(ctx, h.queue.published[0]))

	row := h.store.row(res.SubmissionUUID)
	assert.Equal(t, models.StatusCompleted, row.Status)
	assert.NotNil(t, row.CompletedAt)
	assert.Equal(t, storage.RawTextObjectKey(res.SubmissionUUID), row.RawTextObjectKey)
	assert.Equal(t, models.StatusCompleted, h.cache.status[res.SubmissionUUID])

	got, err := h.svc.GetResult(ctx, res.SubmissionUUID)
	require.NoError(t, err)
	require.NotNil(t, got.Record)
	assert.Equal(t, "Jane Doe", *got.Record.Name)
	assert.Equal(t, "cv.pdf", got.Filename)

	// 重复投递不再解析
	calls := h.parser.calls
	require.NoError(t, h.svc.HandleParseJob(ctx, h.queue.published[0]))
	assert.Equal(t, calls, h.parser.calls)
}

func TestHandleParseJobExtractionFailureMarksFailed(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	res, err := h.svc.SubmitDocument(ctx, pdfInput())
	require.NoError(t, err)

	h.ext.err = extractor.ErrNoTextLayer
	body, err := json.Marshal(h.queue.published[0])
	require.NoError(t, err)
	assert.True(t, h.svc.handleDelivery(ctx, body))

	row := h.store.row(res.SubmissionUUID)
	assert.Equal(t, models.StatusFailed, row.Status)
	assert.Contains(t, row.ErrorMessage, "PDF")
}

func TestHandleParseJobStoreFailureRequeues(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	_, err := h.svc.SubmitDocument(ctx, pdfInput())
	require.NoError(t, err)

	h.store.saveErr = errors.New("db down")
	err = h.svc.HandleParseJob(ctx, h.queue.published[0])
	assert.ErrorIs(t, err, ErrStoreFailed)

	body, _ := json.Marshal(h.queue.published[0])
	assert.False(t, h.svc.handleDelivery(ctx, body))
}

func TestHandleParseJobBadMessages(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	assert.True(t, h.svc.handleDelivery(ctx, []byte("{not json")))

	err := h.svc.HandleParseJob(ctx, storage.ParseJobMessage{SubmissionUUID: "missing", ObjectKey: "k"})
	assert.ErrorIs(t, err, ErrRecordNotFound)

	err = h.svc.HandleParseJob(ctx, storage.ParseJobMessage{})
	assert.Error(t, err)
}

func TestGetResultNotFound(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.svc.GetResult(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestGetStatusPrefersCache(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	res, err := h.svc.SubmitDocument(ctx, pdfInput())
	require.NoError(t, err)

	// 缓存领先于库中状态时以缓存为准
	h.cache.status[res.SubmissionUUID] = models.StatusProcessing
	got, err := h.svc.GetStatus(ctx, res.SubmissionUUID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.Equal(t, res.SubmissionUUID, got.SubmissionUUID)
	assert.Equal(t, models.StatusPending, h.store.row(res.SubmissionUUID).Status)
}

func TestGetStatusFallsBackToStore(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	res, err := h.svc.SubmitDocument(ctx, pdfInput())
	require.NoError(t, err)
	require.NoError(t, h.svc.HandleParseJob(ctx, h.queue.published[0]))

	t.Run("缓存未命中时查库并回填", func(t *testing.T) {
		delete(h.cache.status, res.SubmissionUUID)
		got, err := h.svc.GetStatus(ctx, res.SubmissionUUID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)
		assert.Equal(t, models.StatusCompleted, h.cache.status[res.SubmissionUUID])
	})

	t.Run("缓存故障时查库", func(t *testing.T) {
		h.cache.statusErr = errors.New("redis down")
		defer func() { h.cache.statusErr = nil }()
		got, err := h.svc.GetStatus(ctx, res.SubmissionUUID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)
	})

	t.Run("不存在", func(t *testing.T) {
		_, err := h.svc.GetStatus(ctx, "nope")
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})
}

func TestGetStatusWithoutStore(t *testing.T) {
	svc, err := NewResumeService(NewComponents(newCountingParser(), &fakeExtractor{}))
	require.NoError(t, err)
	_, err = svc.GetStatus(context.Background(), "any")
	assert.ErrorIs(t, err, ErrAsyncUnavailable)
}

func TestGetResultLoadsRawTextFromObjectStore(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	res, err := h.svc.SubmitDocument(ctx, pdfInput())
	require.NoError(t, err)
	require.NoError(t, h.svc.HandleParseJob(ctx, h.queue.published[0]))

	// 模拟 raw_text 列已被清理
	h.store.mu.Lock()
	row := h.store.rows[res.SubmissionUUID]
	row.RawText = ""
	h.store.rows[res.SubmissionUUID] = row
	h.store.mu.Unlock()

	got, err := h.svc.GetResult(ctx, res.SubmissionUUID)
	require.NoError(t, err)
	require.NotNil(t, got.Record)
	assert.Equal(t, sampleText, got.Record.RawText)

	// 对象存储读取失败时仍返回结果
	h.objects.textGetErr = errors.New("minio down")
	got, err = h.svc.GetResult(ctx, res.SubmissionUUID)
	require.NoError(t, err)
	require.NotNil(t, got.Record)
	assert.Empty(t, got.Record.RawText)
}

func TestListResults(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		in := pdfInput()
		in.Data = append(in.Data, byte('a'+i))
		_, err := h.svc.SubmitDocument(ctx, in)
		require.NoError(t, err)
	}

	page, err := h.svc.ListResults(ctx, "pending", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, models.StatusPending, page.Items[0].Status)

	page, err = h.svc.ListResults(ctx, "", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	page, err = h.svc.ListResults(ctx, "", 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, maxPageSize, page.PageSize)
}

func TestStartConsumer(t *testing.T) {
	h := newHarness(t, true)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.svc.StartConsumer(ctx, 3))
	require.Len(t, h.queue.handlers, 3)

	res, err := h.svc.SubmitDocument(ctx, pdfInput())
	require.NoError(t, err)
	body, err := json.Marshal(h.queue.published[0])
	require.NoError(t, err)
	assert.True(t, h.queue.handlers[1](body))
	assert.Equal(t, models.StatusCompleted, h.store.row(res.SubmissionUUID).Status)

	cancel()
	for _, stop := range h.queue.stops {
		select {
		case <-stop:
		case <-time.After(time.Second):
			t.Fatal("consumer was not stopped")
		}
	}
}

func TestStartConsumerWithoutQueue(t *testing.T) {
	h := newHarness(t, false)
	assert.ErrorIs(t, h.svc.StartConsumer(context.Background(), 1), ErrAsyncUnavailable)
}
