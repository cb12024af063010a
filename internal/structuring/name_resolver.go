package structuring

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultNameScanBudget 送入实体识别的文本前缀长度(按 rune 计)
const DefaultNameScanBudget = 1000

// Entity 命名实体识别返回的一个标注片段
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// EntityRecognizer 命名实体识别能力。
// 实现必须可以被多个 goroutine 并发调用；返回的实体按在文本中出现的顺序排列。
// 任何错误都会被调用方降级为"没有找到人名"，不会中断解析。
type EntityRecognizer interface {
	Annotate(ctx context.Context, text string) ([]Entity, error)
}

// IsPersonLabel 判断实体标签是否表示人名，PER 作为 PERSON 的别名
func IsPersonLabel(label string) bool {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "PERSON", "PER":
		return true
	}
	return false
}

// NameResolver 候选人姓名解析器
type NameResolver struct {
	recognizer EntityRecognizer
	budget     int
	logger     zerolog.Logger
}

// NewNameResolver recognizer 为 nil 时只走首行回退逻辑，budget <= 0 时使用默认值
func NewNameResolver(recognizer EntityRecognizer, budget int, logger zerolog.Logger) *NameResolver {
	if budget <= 0 {
		budget = DefaultNameScanBudget
	}
	return &NameResolver{recognizer: recognizer, budget: budget, logger: logger}
}

// Resolve 先用实体识别在文本前缀中找第一个人名实体，找不到再回退到第一行非空文本。
// 两者都没有时返回 ("", false)。
func (n *NameResolver) Resolve(ctx context.Context, text string) (string, bool) {
	if name, ok := n.fromEntities(ctx, text); ok {
		return name, true
	}
	return firstNonEmptyLine(text)
}

func (n *NameResolver) fromEntities(ctx context.Context, text string) (string, bool) {
	if n.recognizer == nil {
		return "", false
	}
	prefix := runePrefix(text, n.budget)
	if strings.TrimSpace(prefix) == "" {
		return "", false
	}

	entities, err := n.recognizer.Annotate(ctx, prefix)
	if err != nil {
		// 未知错误同样降级，但按 error 级别记录
		ev := n.logger.Error()
		if errors.Is(err, ErrRecognition) {
			ev = n.logger.Warn()
		}
		ev.Err(err).
			Int("prefix_runes", n.budget).
			Msg("实体识别失败，姓名解析回退到首行")
		return "", false
	}

	for _, e := range entities {
		if !IsPersonLabel(e.Label) {
			continue
		}
		name := strings.TrimSpace(e.Text)
		if name == "" {
			continue
		}
		return name, true
	}
	return "", false
}

// ResolveName 使用默认前缀长度解析姓名，ner 可以为 nil
func ResolveName(ctx context.Context, text string, ner EntityRecognizer) (string, bool) {
	return NewNameResolver(ner, DefaultNameScanBudget, zerolog.Nop()).Resolve(ctx, text)
}

// runePrefix 截取前 limit 个 rune，不会切断多字节字符
func runePrefix(text string, limit int) string {
	count := 0
	for i := range text {
		if count == limit {
			return text[:i]
		}
		count++
	}
	return text
}

func firstNonEmptyLine(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed, true
		}
	}
	return "", false
}
