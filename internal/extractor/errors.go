package extractor

import "errors"

var (
	// ErrUnsupportedType 不支持的文件类型
	ErrUnsupportedType = errors.New("不支持的文件类型")
	// ErrNoTextLayer PDF 没有可提取的文本层，且无法通过 OCR 得到文本
	ErrNoTextLayer = errors.New("PDF 中没有可提取的文本")
	// ErrOCRUnavailable 图片需要 OCR，但未配置 OCR 引擎
	ErrOCRUnavailable = errors.New("OCR 引擎不可用")
	// ErrInvalidEncoding 文本文件不是合法的 UTF-8
	ErrInvalidEncoding = errors.New("文本不是合法的 UTF-8")
)
