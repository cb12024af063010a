package structuring

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"resume-parser-go/internal/logger"
)

// Engine 简历文本结构化引擎。
// 构造后不再修改任何状态，Parse 可以并发调用(前提是识别器本身并发安全)。
type Engine struct {
	registry   *Registry
	recognizer EntityRecognizer
	budget     int
	logger     zerolog.Logger
	resolver   *NameResolver
}

// EngineOption 引擎构造选项
type EngineOption func(*Engine)

// WithRecognizer 设置实体识别器，nil 表示只使用首行回退
func WithRecognizer(r EntityRecognizer) EngineOption {
	return func(e *Engine) {
		e.recognizer = r
	}
}

// WithNameScanBudget 设置送入实体识别的前缀长度(rune)
func WithNameScanBudget(runes int) EngineOption {
	return func(e *Engine) {
		if runes > 0 {
			e.budget = runes
		}
	}
}

// WithLogger 设置日志实例
func WithLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine registry 为 nil 时使用内置同义词表
func NewEngine(registry *Registry, opts ...EngineOption) *Engine {
	if registry == nil {
		registry = DefaultRegistry()
	}
	e := &Engine{
		registry: registry,
		budget:   DefaultNameScanBudget,
		logger:   logger.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "structuring").Logger()
	e.resolver = NewNameResolver(e.recognizer, e.budget, e.logger)
	return e
}

// Registry 返回引擎使用的注册表
func (e *Engine) Registry() *Registry {
	return e.registry
}

// HasRecognizer 是否配置了实体识别器
func (e *Engine) HasRecognizer() bool {
	return e.recognizer != nil
}

// Parse 把一段简历文本转换为结构化记录，不会失败。
// 空白输入得到空姓名和五个空章节。
func (e *Engine) Parse(ctx context.Context, text string) *ResumeRecord {
	start := time.Now()
	record := newEmptyRecord(text)

	if name, ok := e.resolver.Resolve(ctx, text); ok {
		record.Name = &name
	}

	seg := e.registry.Segment(text)
	for _, section := range allSections {
		if buffer, ok := seg.Buffers[section]; ok {
			record.setItems(section, Normalize(buffer))
		}
	}

	if ev := e.logger.Debug(); ev.Enabled() {
		counts := zerolog.Dict()
		for _, c := range record.Counts() {
			counts.Int(string(c.Section), c.Items)
		}
		ev.Int("headers", len(seg.Headers)).
			Int("unattributed_lines", seg.Unattributed).
			Bool("has_name", record.HasName()).
			Dict("items", counts).
			Dur("elapsed", time.Since(start)).
			Msg("简历文本结构化完成")
	}
	return record
}
