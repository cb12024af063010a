package ner

import "resume-parser-go/internal/structuring"

// failure 实体识别的已知失败，errors.Is 可以匹配到 structuring.ErrRecognition
type failure struct {
	msg string
}

func (f *failure) Error() string { return f.msg }

func (f *failure) Is(target error) bool { return target == structuring.ErrRecognition }

// 实体识别的已知失败方式。结构化引擎会把它们全部降级为"没有找到人名"。
var (
	// ErrUnavailable 识别能力未配置或无法初始化(例如缺少 API Key)
	ErrUnavailable error = &failure{msg: "实体识别不可用"}
	// ErrInference 调用模型失败(网络、超时、非 200 响应)
	ErrInference error = &failure{msg: "实体识别调用失败"}
	// ErrMalformedOutput 模型输出无法解析为实体列表
	ErrMalformedOutput error = &failure{msg: "实体识别输出格式错误"}
)
