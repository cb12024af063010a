package processor

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	ErrUnsupportedFileType = errors.New("不支持的文件类型")
	ErrFileTooLarge        = errors.New("文件超过大小限制")
	ErrExtractionFailed    = errors.New("提取简历文本失败")
	ErrEmptyText           = errors.New("没有可解析的文本")
	ErrStoreFailed         = errors.New("保存简历失败")
	ErrPublishFailed       = errors.New("发布解析任务失败")
	ErrRecordNotFound      = errors.New("解析记录不存在")
	ErrAsyncUnavailable    = errors.New("异步解析未启用")
)

// ParseError 包含详细错误信息的自定义错误
type ParseError struct {
	SubmissionUUID string
	Op             string
	BaseErr        error
	Detail         string
}

func (e *ParseError) Error() string {
	if e.SubmissionUUID == "" {
		if e.Detail != "" {
			return fmt.Sprintf("%s (操作:%s): %s", e.BaseErr, e.Op, e.Detail)
		}
		return fmt.Sprintf("%s (操作:%s)", e.BaseErr, e.Op)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, UUID:%s): %s", e.BaseErr, e.Op, e.SubmissionUUID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, UUID:%s)", e.BaseErr, e.Op, e.SubmissionUUID)
}

func (e *ParseError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *ParseError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

func newError(uuid, op string, base error, detail string) error {
	return &ParseError{SubmissionUUID: uuid, Op: op, BaseErr: base, Detail: detail}
}

// 错误构造函数
func NewExtractionError(uuid, detail string) error {
	return newError(uuid, "extract", ErrExtractionFailed, detail)
}

func NewUnsupportedTypeError(uuid, detail string) error {
	return newError(uuid, "detect", ErrUnsupportedFileType, detail)
}

func NewEmptyTextError(uuid, detail string) error {
	return newError(uuid, "extract", ErrEmptyText, detail)
}

func NewStoreError(uuid, detail string) error {
	return newError(uuid, "store", ErrStoreFailed, detail)
}

func NewPublishError(uuid, detail string) error {
	return newError(uuid, "publish", ErrPublishFailed, detail)
}
