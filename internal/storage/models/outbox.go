package models

import "time"

// 发件箱消息状态
const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// EventParseRequested 提交简历后等待解析的事件
const EventParseRequested = "resume.parse_requested"

// OutboxMessage 与解析记录在同一事务中写入，由中继服务异步投递到 RabbitMQ
type OutboxMessage struct {
	ID               uint64     `gorm:"primaryKey;autoIncrement"`
	AggregateID      string     `gorm:"type:varchar(36);not null;index"` // submission_uuid
	EventType        string     `gorm:"type:varchar(64);not null"`
	Payload          string     `gorm:"type:json;not null"`
	TargetExchange   string     `gorm:"type:varchar(255);not null"`
	TargetRoutingKey string     `gorm:"type:varchar(255);not null"`
	Status           string     `gorm:"type:varchar(20);default:'PENDING';not null;index:idx_outbox_status_created_at"`
	RetryCount       int        `gorm:"default:0"`
	CreatedAt        time.Time  `gorm:"type:datetime(6);index:idx_outbox_status_created_at,sort:asc"`
	ProcessedAt      *time.Time `gorm:"type:datetime(6);null"`
	ErrorMessage     string     `gorm:"type:text"`
}

func (OutboxMessage) TableName() string {
	return "outbox_messages"
}

// MarkSent 投递成功
func (m *OutboxMessage) MarkSent(now time.Time) {
	m.Status = OutboxStatusSent
	m.ProcessedAt = &now
	m.ErrorMessage = ""
}

// MarkAttemptFailed 记录一次失败的投递，达到 maxRetries 后不再重试
func (m *OutboxMessage) MarkAttemptFailed(err error, maxRetries int) {
	m.RetryCount++
	m.ErrorMessage = err.Error()
	if m.RetryCount >= maxRetries {
		m.Status = OutboxStatusFailed
	}
}
