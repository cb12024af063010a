package ner

import (
	"fmt"
	"time"

	"resume-parser-go/internal/config"
	"resume-parser-go/internal/logger"
	"resume-parser-go/pkg/ratelimit"
)

const (
	ProviderNone = "none"
	ProviderLLM  = "llm"
)

// Load 按配置构造实体识别能力，进程启动时调用一次，之后只读复用。
// provider 为 none 时返回 (nil, nil)，调用方使用首行回退。
func Load(cfg config.NERConfig) (Recognizer, error) {
	switch cfg.Provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderLLM:
	default:
		return nil, fmt.Errorf("%w: 未知的 provider %q", ErrUnavailable, cfg.Provider)
	}

	log := logger.Component("ner")

	chat, err := NewChatModel(cfg.APIKey, cfg.Model, cfg.APIURL,
		WithTemperature(cfg.Temperature),
		WithChatLogger(log),
	)
	if err != nil {
		return nil, err
	}

	limited := ratelimit.NewRateLimitedChatModel(chat, cfg.QPM).
		WithRetryPolicy(time.Second, cfg.MaxRetries)

	recognizer, err := NewLLMRecognizer(limited,
		WithTimeout(cfg.Timeout()),
		WithRecognizerLogger(log),
	)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("model", chat.modelName).
		Str("api_url", chat.apiURL).
		Int("qpm", cfg.QPM).
		Msg("实体识别已启用")
	return recognizer, nil
}
