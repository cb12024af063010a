package ner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"resume-parser-go/internal/logger"
	"resume-parser-go/internal/structuring"
)

// Recognizer 实体识别能力，需支持并发调用
type Recognizer = structuring.EntityRecognizer

const systemPrompt = `你是一个命名实体识别器。从用户给出的简历文本中识别实体，只输出 JSON，不要输出任何解释。
输出格式: {"entities": [{"text": "实体原文", "label": "PERSON|ORG|LOC|DATE|OTHER"}]}
规则:
1. text 必须是原文中出现的片段，不要改写或翻译。
2. 实体按在原文中出现的先后顺序排列。
3. 候选人姓名、推荐人姓名等人名标记为 PERSON。
4. 没有实体时输出 {"entities": []}。`

// LLMRecognizer 基于聊天模型的实体识别
type LLMRecognizer struct {
	model   model.BaseChatModel
	timeout time.Duration
	logger  zerolog.Logger
}

var _ Recognizer = (*LLMRecognizer)(nil)

// RecognizerOption LLMRecognizer 构造选项
type RecognizerOption func(*LLMRecognizer)

// WithTimeout 单次识别的超时，<= 0 表示只受调用方 ctx 约束
func WithTimeout(d time.Duration) RecognizerOption {
	return func(r *LLMRecognizer) {
		r.timeout = d
	}
}

// WithRecognizerLogger 设置日志
func WithRecognizerLogger(l zerolog.Logger) RecognizerOption {
	return func(r *LLMRecognizer) {
		r.logger = l
	}
}

// NewLLMRecognizer m 通常是经过限流包装的 ChatModel
func NewLLMRecognizer(m model.BaseChatModel, opts ...RecognizerOption) (*LLMRecognizer, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: 聊天模型不能为空", ErrUnavailable)
	}
	r := &LLMRecognizer{
		model:   m,
		timeout: 30 * time.Second,
		logger:  logger.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type entityPayload struct {
	Entities []struct {
		Text  string `json:"text"`
		Label string `json:"label"`
	} `json:"entities"`
}

// Annotate 识别文本中的实体。
// 失败时返回的错误包装 ErrInference 或 ErrMalformedOutput。
func (r *LLMRecognizer) Annotate(ctx context.Context, text string) ([]structuring.Entity, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(text),
	}

	start := time.Now()
	resp, err := r.model.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: 模型返回空消息", ErrInference)
	}

	entities, err := parseEntities(resp.Content)
	if err != nil {
		return nil, err
	}

	r.logger.Debug().
		Int("input_runes", len([]rune(text))).
		Int("entities", len(entities)).
		Dur("elapsed", time.Since(start)).
		Msg("实体识别完成")
	return entities, nil
}

func parseEntities(content string) ([]structuring.Entity, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("%w: 输出中没有 JSON 对象", ErrMalformedOutput)
	}

	var payload entityPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}

	entities := make([]structuring.Entity, 0, len(payload.Entities))
	for _, e := range payload.Entities {
		entities = append(entities, structuring.Entity{Text: e.Text, Label: e.Label})
	}
	return entities, nil
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractJSON 优先取 ```json 代码块，否则按括号配对取第一个完整对象
func extractJSON(text string) string {
	if m := fencedJSON.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	level := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			level++
		case '}':
			level--
			if level == 0 {
				return strings.TrimSpace(text[start : i+1])
			}
		}
	}
	return ""
}
