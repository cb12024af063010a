package ratelimit

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// RateLimitedChatModel 给聊天模型的调用加上限流和重试
type RateLimitedChatModel struct {
	original model.BaseChatModel
	bucket   *TokenBucket
}

var _ model.BaseChatModel = (*RateLimitedChatModel)(nil)

// NewRateLimitedChatModel 桶容量取 QPM 的一半，允许少量突发
func NewRateLimitedChatModel(original model.BaseChatModel, qpm int) *RateLimitedChatModel {
	return &RateLimitedChatModel{
		original: original,
		bucket:   NewTokenBucket(qpm, qpm/2),
	}
}

// WithRetryPolicy 设置重试策略
func (rl *RateLimitedChatModel) WithRetryPolicy(waitTime time.Duration, maxRetries int) *RateLimitedChatModel {
	rl.bucket.WithRetryPolicy(waitTime, maxRetries)
	return rl
}

// WithRetryable 设置可重试错误的判断
func (rl *RateLimitedChatModel) WithRetryable(fn func(error) bool) *RateLimitedChatModel {
	rl.bucket.WithRetryable(fn)
	return rl
}

// Generate 限流后调用原模型，可重试错误按退避策略重试
func (rl *RateLimitedChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	var response *schema.Message
	err := rl.bucket.RetryWithBackoff(ctx, func() error {
		var genErr error
		response, genErr = rl.original.Generate(ctx, messages, options...)
		return genErr
	})
	return response, err
}

// Stream 只对建立流的调用限流和重试
func (rl *RateLimitedChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var stream *schema.StreamReader[*schema.Message]
	err := rl.bucket.RetryWithBackoff(ctx, func() error {
		var streamErr error
		stream, streamErr = rl.original.Stream(ctx, messages, options...)
		return streamErr
	})
	return stream, err
}
