package models

import (
	"time"

	"resume-parser-go/internal/structuring"
	"resume-parser-go/pkg/utils"

	"gorm.io/datatypes"
)

// 解析状态
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// ParsedResume 简历解析结果表
type ParsedResume struct {
	ID                uint           `gorm:"primaryKey;autoIncrement"`
	SubmissionUUID    string         `gorm:"type:char(36);not null;uniqueIndex:uk_parsed_resumes_submission_uuid"`
	OriginalFilename  string         `gorm:"type:varchar(255)"`
	ContentType       string         `gorm:"type:varchar(100)"`
	OriginalObjectKey string         `gorm:"type:varchar(512)"`
	RawTextObjectKey  string         `gorm:"type:varchar(512)"`
	RawFileMD5        string         `gorm:"type:char(32);index:idx_parsed_resumes_file_md5"`
	RawTextMD5        string         `gorm:"type:char(32);index:idx_parsed_resumes_text_md5"`
	RawText           string         `gorm:"type:mediumtext"`
	CandidateName     *string        `gorm:"type:varchar(255)"`
	Skills            datatypes.JSON `gorm:"type:json"`
	Experience        datatypes.JSON `gorm:"type:json"`
	Education         datatypes.JSON `gorm:"type:json"`
	Projects          datatypes.JSON `gorm:"type:json"`
	Achievements      datatypes.JSON `gorm:"type:json"`
	Status            string         `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_parsed_resumes_status"`
	ErrorMessage      string         `gorm:"type:text"`
	SourceChannel     string         `gorm:"type:varchar(50)"`
	CompletedAt       *time.Time     `gorm:"type:datetime(6)"`
	CreatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (ParsedResume) TableName() string {
	return "parsed_resumes"
}

// ApplyRecord 把解析结果写入行，状态置为 COMPLETED
func (p *ParsedResume) ApplyRecord(rec *structuring.ResumeRecord, completedAt time.Time) {
	if rec == nil {
		return
	}
	p.CandidateName = rec.Name
	p.Skills = utils.ConvertArrayToJSON(rec.Skills)
	p.Experience = utils.ConvertArrayToJSON(rec.Experience)
	p.Education = utils.ConvertArrayToJSON(rec.Education)
	p.Projects = utils.ConvertArrayToJSON(rec.Projects)
	p.Achievements = utils.ConvertArrayToJSON(rec.Achievements)
	p.RawText = rec.RawText
	p.RawTextMD5 = utils.TextMD5(rec.RawText)
	p.Status = StatusCompleted
	p.ErrorMessage = ""
	p.CompletedAt = &completedAt
}

// ToRecord 还原为解析结果。未完成的行返回 nil
func (p *ParsedResume) ToRecord() *structuring.ResumeRecord {
	if p == nil || p.Status != StatusCompleted {
		return nil
	}
	return &structuring.ResumeRecord{
		Name:         p.CandidateName,
		Skills:       utils.ConvertJSONToArray(p.Skills),
		Experience:   utils.ConvertJSONToArray(p.Experience),
		Education:    utils.ConvertJSONToArray(p.Education),
		Projects:     utils.ConvertJSONToArray(p.Projects),
		Achievements: utils.ConvertJSONToArray(p.Achievements),
		RawText:      p.RawText,
	}
}
