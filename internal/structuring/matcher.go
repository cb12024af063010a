package structuring

import "strings"

// MatchHeader 判断一行文本是否为章节标题，并返回它开启的章节。
//
// 行先转小写并去除首尾空白，然后按注册表顺序逐个检查同义词是否以完整单词的形式
// 出现在行内任意位置，第一个命中的同义词决定结果。
// 因此 "SKILLS & TOOLS" 会命中 Skills，正文里提到关键词的句子
// (如 "I have strong technical skills in Go") 同样会被当作标题。
func (r *Registry) MatchHeader(line string) (CanonicalSection, bool) {
	synonym, ok := r.matchSynonym(line)
	return synonym.Section, ok
}

// matchSynonym 返回命中的同义词本身，便于记录是哪个关键词触发了章节切换
func (r *Registry) matchSynonym(line string) (HeaderSynonym, bool) {
	normalized := strings.ToLower(strings.TrimSpace(line))
	if normalized == "" {
		return HeaderSynonym{}, false
	}
	for i, pattern := range r.patterns {
		if pattern.MatchString(normalized) {
			return r.synonyms[i], true
		}
	}
	return HeaderSynonym{}, false
}
