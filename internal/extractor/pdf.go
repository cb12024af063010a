package extractor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/rs/zerolog"

	"resume-parser-go/internal/logger"
)

// EinoPDFExtractor 使用 eino-ext 的 PDF 解析器提取文本层
type EinoPDFExtractor struct {
	parser  *pdf.PDFParser
	timeout time.Duration
	logger  zerolog.Logger
}

// EinoPDFOption EinoPDFExtractor 构造选项
type EinoPDFOption func(*EinoPDFExtractor)

// WithPDFTimeout 单个文件的解析超时
func WithPDFTimeout(d time.Duration) EinoPDFOption {
	return func(e *EinoPDFExtractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithPDFLogger 设置日志
func WithPDFLogger(l zerolog.Logger) EinoPDFOption {
	return func(e *EinoPDFExtractor) {
		e.logger = l
	}
}

// NewEinoPDFExtractor 不按页拆分，整份 PDF 作为一段文本返回
func NewEinoPDFExtractor(ctx context.Context, opts ...EinoPDFOption) (*EinoPDFExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false})
	if err != nil {
		return nil, fmt.Errorf("创建 Eino PDF 解析器失败: %w", err)
	}

	e := &EinoPDFExtractor{
		parser:  p,
		timeout: 30 * time.Second,
		logger:  logger.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ExtractText 从 reader 提取 PDF 文本，uri 只用于日志和元数据
func (e *EinoPDFExtractor) ExtractText(ctx context.Context, reader io.Reader, uri string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	docs, err := e.parser.Parse(ctx, reader,
		einoParser.WithURI(uri),
		einoParser.WithExtraMeta(map[string]any{
			"extraction_time": start.Format(time.RFC3339),
		}),
	)
	if err != nil {
		return "", fmt.Errorf("eino PDF 解析失败 (%s): %w", uri, err)
	}

	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		parts = append(parts, doc.Content)
	}
	text := strings.Join(parts, "\n")

	e.logger.Debug().
		Str("uri", uri).
		Int("documents", len(docs)).
		Int("text_length", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("PDF 文本提取完成")
	return text, nil
}
