package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"resume-parser-go/internal/logger"
)

// 支持的内容类型
const (
	ContentTypePDF   = "application/pdf"
	ContentTypeText  = "text/plain"
	ContentTypePNG   = "image/png"
	ContentTypeJPEG  = "image/jpeg"
	ContentTypeTIFF  = "image/tiff"
	ContentTypeBMP   = "image/bmp"
	ContentTypeOctet = "application/octet-stream"
)

var extTypes = map[string]string{
	".pdf":  ContentTypePDF,
	".txt":  ContentTypeText,
	".png":  ContentTypePNG,
	".jpg":  ContentTypeJPEG,
	".jpeg": ContentTypeJPEG,
	".tif":  ContentTypeTIFF,
	".tiff": ContentTypeTIFF,
	".bmp":  ContentTypeBMP,
}

// PDFTextExtractor 从 PDF 中提取文本层
type PDFTextExtractor interface {
	ExtractText(ctx context.Context, reader io.Reader, uri string) (string, error)
}

// OCREngine 对单张图片做文字识别
type OCREngine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Extractor 按内容类型把上传的文件转换为 UTF-8 文本
type Extractor struct {
	pdf       PDFTextExtractor
	pdfImages PDFImageSource
	ocr       OCREngine
	logger    zerolog.Logger
}

// Option Extractor 构造选项
type Option func(*Extractor)

// WithOCR 设置 OCR 引擎，未设置时图片类型返回 ErrOCRUnavailable
func WithOCR(engine OCREngine) Option {
	return func(e *Extractor) {
		e.ocr = engine
	}
}

// WithPDFImages 设置扫描件图片来源，与 WithOCR 一起使用时没有文本层的 PDF 逐页做 OCR
func WithPDFImages(source PDFImageSource) Option {
	return func(e *Extractor) {
		e.pdfImages = source
	}
}

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) Option {
	return func(e *Extractor) {
		e.logger = l
	}
}

// New pdf 为 nil 时 PDF 文件返回 ErrUnsupportedType
func New(pdf PDFTextExtractor, opts ...Option) *Extractor {
	e := &Extractor{
		pdf:    pdf,
		logger: logger.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HasOCR 是否配置了 OCR
func (e *Extractor) HasOCR() bool {
	return e.ocr != nil
}

// Supported 判断内容类型是否可以处理
func (e *Extractor) Supported(contentType string) bool {
	switch {
	case contentType == ContentTypePDF:
		return e.pdf != nil
	case contentType == ContentTypeText:
		return true
	case strings.HasPrefix(contentType, "image/"):
		return e.ocr != nil
	}
	return false
}

// Extract 提取文本。contentType 为空或 application/octet-stream 时根据内容和文件名推断。
// 返回的文本统一使用 "\n" 作为换行符。
func (e *Extractor) Extract(ctx context.Context, data []byte, contentType, filename string) (string, error) {
	ct := DetectContentType(data, contentType, filename)
	start := time.Now()

	var (
		text string
		err  error
	)
	switch {
	case ct == ContentTypePDF:
		if e.pdf == nil {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ct)
		}
		text, err = e.pdf.ExtractText(ctx, bytes.NewReader(data), filename)
		if err == nil && strings.TrimSpace(text) == "" {
			text, err = e.ocrScannedPDF(ctx, data, filename)
		}
	case ct == ContentTypeText:
		text, err = decodeText(data)
	case strings.HasPrefix(ct, "image/"):
		if e.ocr == nil {
			return "", fmt.Errorf("%w: %s", ErrOCRUnavailable, ct)
		}
		text, err = e.ocr.Recognize(ctx, data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ct)
	}
	if err != nil {
		return "", err
	}

	text = normalizeNewlines(text)
	e.logger.Debug().
		Str("content_type", ct).
		Str("filename", filename).
		Int("bytes", len(data)).
		Int("text_length", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("文本提取完成")
	return text, nil
}

// ocrScannedPDF 按页码顺序识别扫描件中的图片，结果以 "\n" 连接
func (e *Extractor) ocrScannedPDF(ctx context.Context, data []byte, filename string) (string, error) {
	if e.ocr == nil || e.pdfImages == nil {
		return "", ErrNoTextLayer
	}

	images, err := e.pdfImages.PageImages(ctx, data)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(images))
	for _, img := range images {
		text, err := e.ocr.Recognize(ctx, img.Data)
		if err != nil {
			return "", fmt.Errorf("第 %d 页 OCR 失败: %w", img.Page, err)
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", ErrNoTextLayer
	}

	e.logger.Info().
		Str("filename", filename).
		Int("images", len(images)).
		Msg("PDF 没有文本层，已使用 OCR 识别")
	return strings.Join(parts, "\n"), nil
}

// DetectContentType 规范化内容类型：去掉参数，未声明时依次用内容嗅探和扩展名推断
func DetectContentType(data []byte, declared, filename string) string {
	ct := declared
	if parsed, _, err := mime.ParseMediaType(declared); err == nil {
		ct = parsed
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct != "" && ct != ContentTypeOctet {
		return ct
	}

	if len(data) > 0 {
		sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(data))
		if sniffed != ContentTypeOctet {
			return sniffed
		}
	}

	if byExt, ok := extTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return byExt
	}
	return ContentTypeOctet
}

// ExtensionFor 内容类型对应的文件扩展名，用于对象存储的键
func ExtensionFor(contentType, filename string) string {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		return ext
	}
	for ext, ct := range extTypes {
		if ct == contentType && ext != ".jpeg" && ext != ".tif" {
			return ext
		}
	}
	return ".bin"
}

func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", ErrInvalidEncoding
	}
	return string(data), nil
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
