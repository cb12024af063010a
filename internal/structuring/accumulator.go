package structuring

import "strings"

// HeaderHit 记录一次章节切换
type HeaderHit struct {
	LineNo  int              // 从 1 开始的行号
	Keyword string           // 命中的同义词
	Section CanonicalSection // 切换到的章节
}

// Segmentation 一次切分的结果。
// Buffers 中每个章节的原始文本按文档顺序累积，每行末尾带 "\n"；从未出现的章节没有条目。
type Segmentation struct {
	Buffers map[CanonicalSection]string

	// Headers 所有被识别为标题(并被丢弃)的行
	Headers []HeaderHit

	// Unattributed 第一个标题之前被丢弃的行数
	Unattributed int
}

// Buffer 返回某个章节的原始文本，不存在时为空串
func (s *Segmentation) Buffer(section CanonicalSection) string {
	return s.Buffers[section]
}

// Segment 逐行扫描文本并把非标题行归入当前章节。
//
// 初始状态没有活动章节。标题行无条件切换当前章节且自身不写入任何缓冲区，
// 重复出现的标题同样会被丢弃。没有活动章节时的非标题行直接丢弃
// (它们只保留在原始文本里)。
func (r *Registry) Segment(text string) *Segmentation {
	builders := make(map[CanonicalSection]*strings.Builder, len(allSections))
	result := &Segmentation{}

	var current CanonicalSection
	active := false

	for i, line := range strings.Split(text, "\n") {
		if hit, ok := r.matchSynonym(line); ok {
			current = hit.Section
			active = true
			result.Headers = append(result.Headers, HeaderHit{
				LineNo:  i + 1,
				Keyword: hit.Keyword,
				Section: hit.Section,
			})
			continue
		}

		if !active {
			result.Unattributed++
			continue
		}

		b, ok := builders[current]
		if !ok {
			b = &strings.Builder{}
			builders[current] = b
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	result.Buffers = make(map[CanonicalSection]string, len(builders))
	for section, b := range builders {
		result.Buffers[section] = b.String()
	}
	return result
}
