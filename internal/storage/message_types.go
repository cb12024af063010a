package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"resume-parser-go/internal/storage/models"
)

// ParseJobMessage 异步解析任务消息
type ParseJobMessage struct {
	SubmissionUUID      string    `json:"submission_uuid"`          // 提交UUID
	ObjectKey           string    `json:"object_key"`               // 原始文件在MinIO中的对象路径
	Filename            string    `json:"filename"`                 // 原始文件名
	ContentType         string    `json:"content_type"`             // 检测后的内容类型
	SubmissionTimestamp time.Time `json:"submission_timestamp"`     // 提交时间
	RawFileMD5          string    `json:"raw_file_md5,omitempty"`   // 原始文件MD5
	SourceChannel       string    `json:"source_channel,omitempty"` // 来源渠道
}

// Validate 检查消费端必需的字段
func (m ParseJobMessage) Validate() error {
	if m.SubmissionUUID == "" {
		return errors.New("submission_uuid 不能为空")
	}
	if m.ObjectKey == "" {
		return errors.New("object_key 不能为空")
	}
	return nil
}

// ToOutbox 把任务包装为发件箱消息，投递目标由调用方给出
func (m ParseJobMessage) ToOutbox(exchange, routingKey string) (*models.OutboxMessage, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("序列化解析任务失败: %w", err)
	}
	return &models.OutboxMessage{
		AggregateID:      m.SubmissionUUID,
		EventType:        models.EventParseRequested,
		Payload:          string(payload),
		TargetExchange:   exchange,
		TargetRoutingKey: routingKey,
		Status:           models.OutboxStatusPending,
	}, nil
}
