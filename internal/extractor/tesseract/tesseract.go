// Package tesseract 基于 gosseract 的 OCR 引擎，需要系统安装 libtesseract。
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Engine 每次识别创建独立的 gosseract 客户端，可并发使用
type Engine struct {
	languages     []string
	dpi           int
	clientFactory func() *gosseract.Client
}

// New languages 为空时使用 eng；dpi <= 0 时由 Tesseract 自行推断
func New(languages []string, dpi int) *Engine {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Engine{
		languages:     languages,
		dpi:           dpi,
		clientFactory: gosseract.NewClient,
	}
}

// Languages 识别语言
func (e *Engine) Languages() []string {
	return e.languages
}

// Recognize 识别一张图片中的文字
func (e *Engine) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("设置 OCR 图片失败: %w", err)
	}
	if err := c.SetLanguage(e.languages...); err != nil {
		return "", fmt.Errorf("设置 OCR 语言失败: %w", err)
	}
	if e.dpi > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(e.dpi)); err != nil {
			return "", fmt.Errorf("设置 OCR DPI 失败: %w", err)
		}
	}

	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("OCR 识别失败: %w", err)
	}
	return strings.TrimSpace(text), nil
}
