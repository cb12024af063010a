package structuring

import (
	"fmt"
	"regexp"
	"strings"
)

// CanonicalSection 简历章节的规范标识
type CanonicalSection string

const (
	// SectionSkills 技能
	SectionSkills CanonicalSection = "skills"
	// SectionExperience 工作/实习经历
	SectionExperience CanonicalSection = "experience"
	// SectionEducation 教育背景
	SectionEducation CanonicalSection = "education"
	// SectionProjects 项目经历
	SectionProjects CanonicalSection = "projects"
	// SectionAchievements 获奖与成就
	SectionAchievements CanonicalSection = "achievements"
)

// allSections 声明顺序，仅用于诊断输出的遍历
var allSections = []CanonicalSection{
	SectionSkills,
	SectionExperience,
	SectionEducation,
	SectionProjects,
	SectionAchievements,
}

// AllSections 按声明顺序返回全部规范章节
func AllSections() []CanonicalSection {
	out := make([]CanonicalSection, len(allSections))
	copy(out, allSections)
	return out
}

// Valid 判断是否为已知章节
func (s CanonicalSection) Valid() bool {
	for _, known := range allSections {
		if s == known {
			return true
		}
	}
	return false
}

// ParseSection 将配置中的章节名(大小写不敏感)转换为 CanonicalSection
func ParseSection(name string) (CanonicalSection, error) {
	s := CanonicalSection(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSection, name)
	}
	return s, nil
}

// HeaderSynonym 章节标题同义词到规范章节的映射
type HeaderSynonym struct {
	Keyword string           `json:"keyword" yaml:"keyword"`
	Section CanonicalSection `json:"section" yaml:"section"`
}

// defaultSynonyms 内置同义词表。表的顺序即标题匹配的优先级。
var defaultSynonyms = []HeaderSynonym{
	{"skills", SectionSkills},
	{"technical skills", SectionSkills},
	{"proficiencies", SectionSkills},
	{"technologies", SectionSkills},

	{"experience", SectionExperience},
	{"work experience", SectionExperience},
	{"professional experience", SectionExperience},
	{"employment history", SectionExperience},
	{"internships", SectionExperience},

	{"education", SectionEducation},
	{"academic background", SectionEducation},
	{"academic history", SectionEducation},

	{"projects", SectionProjects},
	{"personal projects", SectionProjects},
	{"academic projects", SectionProjects},

	{"achievements", SectionAchievements},
	{"awards", SectionAchievements},
	{"honors", SectionAchievements},
	{"accomplishments", SectionAchievements},
}

// DefaultSynonyms 返回内置同义词表的副本
func DefaultSynonyms() []HeaderSynonym {
	out := make([]HeaderSynonym, len(defaultSynonyms))
	copy(out, defaultSynonyms)
	return out
}

// Registry 有序、不可变的章节关键词注册表。
// 构造完成后只读，可被多个 goroutine 并发使用。
type Registry struct {
	synonyms []HeaderSynonym
	patterns []*regexp.Regexp
}

// NewRegistry 校验并编译同义词表。
// 关键词统一转小写并去除首尾空白；空关键词、未知章节、同一关键词映射到多个章节都视为配置错误。
// 同一关键词对同一章节重复出现时只保留第一次出现的位置。
func NewRegistry(pairs []HeaderSynonym) (*Registry, error) {
	r := &Registry{
		synonyms: make([]HeaderSynonym, 0, len(pairs)),
		patterns: make([]*regexp.Regexp, 0, len(pairs)),
	}
	seen := make(map[string]CanonicalSection, len(pairs))

	for i, p := range pairs {
		keyword := strings.ToLower(strings.TrimSpace(p.Keyword))
		if keyword == "" {
			return nil, fmt.Errorf("%w (位置 %d, 章节 %s)", ErrEmptySynonym, i, p.Section)
		}
		if !p.Section.Valid() {
			return nil, fmt.Errorf("%w: %q (关键词 %q)", ErrUnknownSection, p.Section, keyword)
		}
		if prev, ok := seen[keyword]; ok {
			if prev != p.Section {
				return nil, fmt.Errorf("%w: %q 同时映射到 %s 和 %s", ErrConflictingSynonym, keyword, prev, p.Section)
			}
			continue
		}
		seen[keyword] = p.Section

		pattern, err := regexp.Compile(`\b` + regexp.QuoteMeta(keyword) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("编译关键词 %q 的匹配规则失败: %w", keyword, err)
		}
		r.synonyms = append(r.synonyms, HeaderSynonym{Keyword: keyword, Section: p.Section})
		r.patterns = append(r.patterns, pattern)
	}

	return r, nil
}

// DefaultRegistry 使用内置同义词表构造注册表
func DefaultRegistry() *Registry {
	r, err := NewRegistry(defaultSynonyms)
	if err != nil {
		panic(fmt.Sprintf("内置章节同义词表不一致: %v", err))
	}
	return r
}

// ExtendDefault 在内置同义词表之后追加额外的同义词
func ExtendDefault(extra []HeaderSynonym) (*Registry, error) {
	pairs := make([]HeaderSynonym, 0, len(defaultSynonyms)+len(extra))
	pairs = append(pairs, defaultSynonyms...)
	pairs = append(pairs, extra...)
	return NewRegistry(pairs)
}

// Synonyms 按优先级顺序返回全部同义词的副本
func (r *Registry) Synonyms() []HeaderSynonym {
	out := make([]HeaderSynonym, len(r.synonyms))
	copy(out, r.synonyms)
	return out
}

// SynonymsFor 返回某个章节的同义词，保持注册表顺序
func (r *Registry) SynonymsFor(section CanonicalSection) []string {
	var out []string
	for _, s := range r.synonyms {
		if s.Section == section {
			out = append(out, s.Keyword)
		}
	}
	return out
}

// Len 同义词数量
func (r *Registry) Len() int {
	return len(r.synonyms)
}
