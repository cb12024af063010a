package structuring

import "errors"

// 注册表配置错误，仅在构造注册表时返回，解析阶段不会出现
var (
	ErrEmptySynonym       = errors.New("章节同义词不能为空")
	ErrUnknownSection     = errors.New("未知的简历章节")
	ErrConflictingSynonym = errors.New("同义词映射到多个章节")
)

// ErrRecognition 实体识别的已知失败，识别器返回的错误可以包装它
var ErrRecognition = errors.New("实体识别失败")
