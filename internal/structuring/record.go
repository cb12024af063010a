package structuring

// ResumeRecord 一份简历的结构化结果。
// Name 为 nil 表示没有解析出姓名(JSON 中为 null)；五个章节总是非 nil 的切片。
type ResumeRecord struct {
	Name         *string  `json:"name"`
	Skills       []string `json:"skills"`
	Experience   []string `json:"experience"`
	Education    []string `json:"education"`
	Projects     []string `json:"projects"`
	Achievements []string `json:"achievements"`
	RawText      string   `json:"raw_text"`
}

// newEmptyRecord 所有章节初始化为空切片
func newEmptyRecord(raw string) *ResumeRecord {
	return &ResumeRecord{
		Skills:       []string{},
		Experience:   []string{},
		Education:    []string{},
		Projects:     []string{},
		Achievements: []string{},
		RawText:      raw,
	}
}

// Items 返回某个章节的条目
func (r *ResumeRecord) Items(section CanonicalSection) []string {
	switch section {
	case SectionSkills:
		return r.Skills
	case SectionExperience:
		return r.Experience
	case SectionEducation:
		return r.Education
	case SectionProjects:
		return r.Projects
	case SectionAchievements:
		return r.Achievements
	}
	return nil
}

func (r *ResumeRecord) setItems(section CanonicalSection, items []string) {
	switch section {
	case SectionSkills:
		r.Skills = items
	case SectionExperience:
		r.Experience = items
	case SectionEducation:
		r.Education = items
	case SectionProjects:
		r.Projects = items
	case SectionAchievements:
		r.Achievements = items
	}
}

// HasName 是否解析出了姓名
func (r *ResumeRecord) HasName() bool {
	return r.Name != nil
}

// NameOrEmpty 姓名，不存在时为空串
func (r *ResumeRecord) NameOrEmpty() string {
	if r.Name == nil {
		return ""
	}
	return *r.Name
}

// SectionCount 单个章节的条目数
type SectionCount struct {
	Section CanonicalSection `json:"section"`
	Items   int              `json:"items"`
}

// Counts 按章节声明顺序返回各章节条目数，用于日志和诊断
func (r *ResumeRecord) Counts() []SectionCount {
	out := make([]SectionCount, 0, len(allSections))
	for _, s := range allSections {
		out = append(out, SectionCount{Section: s, Items: len(r.Items(s))})
	}
	return out
}
