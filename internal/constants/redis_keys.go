package constants

import "time"

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// ResumeModulePrefix 简历解析模块
	ResumeModulePrefix = "resume"

	// EntityRecord 解析结果实体
	EntityRecord = "record"
	// EntityStatus 提交状态实体
	EntityStatus = "status"
	// EntityMD5ToUUID MD5到UUID的映射实体
	EntityMD5ToUUID = "md5_to_uuid"

	// KeyParsedRecord 按原文MD5缓存的解析结果 (STRING, JSON)
	// 格式: app:resume:record:{textMD5}
	KeyParsedRecord = AppPrefix + ":" + ResumeModulePrefix + ":" + EntityRecord + ":%s"

	// KeySubmissionStatus 异步提交的处理状态 (STRING)
	// 格式: app:resume:status:{submissionUUID}
	KeySubmissionStatus = AppPrefix + ":" + ResumeModulePrefix + ":" + EntityStatus + ":%s"

	// KeyFileMD5ToSubmissionUUID 原始文件MD5到SubmissionUUID的映射 (STRING)
	// 格式: app:resume:md5_to_uuid:{fileMD5}
	KeyFileMD5ToSubmissionUUID = AppPrefix + ":" + ResumeModulePrefix + ":" + EntityMD5ToUUID + ":%s"
)

const (
	DefaultRecordCacheTTL  = 24 * time.Hour
	DefaultStatusKeyTTL    = 72 * time.Hour
	DefaultFileDedupKeyTTL = 30 * 24 * time.Hour
)
