// Package outbox 发件箱中继：把与解析记录同事务写入的任务消息投递到 RabbitMQ。
package outbox

import (
	"context"
	"sync"
	"time"

	"resume-parser-go/internal/storage"
	"resume-parser-go/internal/storage/models"
	"resume-parser-go/internal/tracing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPollingInterval = 5 * time.Second
	defaultBatchSize       = 10
	defaultMaxRetries      = 5
)

// Store 发件箱存储，*storage.MySQL 实现该接口
type Store interface {
	ProcessOutboxBatch(ctx context.Context, limit int, handle func(context.Context, *models.OutboxMessage)) (int, error)
}

// Publisher 消息发布器，*storage.RabbitMQ 实现该接口
type Publisher interface {
	PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error
}

var (
	_ Store     = (*storage.MySQL)(nil)
	_ Publisher = (*storage.RabbitMQ)(nil)
)

// MessageRelay 轮询 outbox 表并将消息发布到消息代理
type MessageRelay struct {
	store           Store
	publisher       Publisher
	logger          zerolog.Logger
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	now             func() time.Time
	tracer          trace.Tracer

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Option func(*MessageRelay)

func WithPollingInterval(d time.Duration) Option {
	return func(r *MessageRelay) {
		if d > 0 {
			r.pollingInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *MessageRelay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(r *MessageRelay) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *MessageRelay) { r.logger = l }
}

// NewMessageRelay 创建中继，调用 Start 后开始轮询
func NewMessageRelay(store Store, publisher Publisher, opts ...Option) *MessageRelay {
	r := &MessageRelay{
		store:           store,
		publisher:       publisher,
		logger:          zerolog.Nop(),
		pollingInterval: defaultPollingInterval,
		batchSize:       defaultBatchSize,
		maxRetries:      defaultMaxRetries,
		now:             time.Now,
		tracer:          otel.Tracer("resume-parser-go/outbox"),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "outbox_relay").Logger()
	return r
}

// Start 在后台轮询，ctx 取消或调用 Stop 后退出
func (r *MessageRelay) Start(ctx context.Context) {
	r.logger.Info().Dur("interval", r.pollingInterval).Int("batch", r.batchSize).Msg("发件箱中继已启动")
	ticker := time.NewTicker(r.pollingInterval)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.logger.Info().Msg("发件箱中继已停止")
				return
			case <-r.done:
				r.logger.Info().Msg("发件箱中继已停止")
				return
			case <-ticker.C:
				if _, err := r.RunOnce(ctx); err != nil {
					r.logger.Error().Err(err).Msg("处理发件箱消息失败")
				}
			}
		}
	}()
}

// Stop 停止轮询并等待正在处理的批次结束
func (r *MessageRelay) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

// RunOnce 处理一批待投递消息，返回处理条数
func (r *MessageRelay) RunOnce(ctx context.Context) (int, error) {
	n, err := r.store.ProcessOutboxBatch(ctx, r.batchSize, r.publish)
	if n > 0 {
		r.logger.Debug().Int("count", n).Msg("发件箱批次处理完成")
	}
	return n, err
}

func (r *MessageRelay) publish(ctx context.Context, msg *models.OutboxMessage) {
	ctx, span := r.tracer.Start(ctx, "outbox.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", msg.TargetExchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", msg.TargetRoutingKey),
			attribute.String("submission.uuid", msg.AggregateID),
			attribute.Int("outbox.retry_count", msg.RetryCount),
		))
	defer span.End()

	err := r.publisher.PublishMessage(ctx, msg.TargetExchange, msg.TargetRoutingKey, []byte(msg.Payload), true)
	if err != nil {
		msg.MarkAttemptFailed(err, r.maxRetries)
		tracing.RecordError(span, err, tracing.ErrorTypeRabbitMQ,
			attribute.String("outbox.status", msg.Status))
		r.logger.Warn().Err(err).
			Uint64("id", msg.ID).
			Str("submission_uuid", msg.AggregateID).
			Int("retries", msg.RetryCount).
			Str("status", msg.Status).
			Msg("发件箱消息投递失败")
		return
	}
	msg.MarkSent(r.now())
}
