package router

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"resume-parser-go/internal/api/handler"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

const defaultKeyLookup = "header:X-API-Key"

// Options 路由可选项
type Options struct {
	APIKeys   []string // 为空时不启用鉴权
	KeyLookup string   // keyauth 的 KeyLookup 语法，例如 header:X-API-Key 或 query:api_key
}

// RegisterRoutes 注册 API 路由
func RegisterRoutes(h *server.Hertz, resumeHandler *handler.ResumeHandler, opts Options) {
	h.Use(accessLog())

	// 健康检查不需要鉴权
	h.GET("/health", resumeHandler.HandleHealth)

	api := h.Group("/api/v1")
	if mw := apiKeyAuth(opts); mw != nil {
		api.Use(mw)
	}

	api.GET("/health", resumeHandler.HandleHealth)
	api.POST("/resume/parse", resumeHandler.HandleParse)
	api.POST("/resume/parse-text", resumeHandler.HandleParseText)
	api.POST("/resume/submit", resumeHandler.HandleSubmit)
	api.GET("/resume", resumeHandler.HandleListResults)
	api.GET("/resume/:uuid", resumeHandler.HandleGetResult)
	api.GET("/resume/:uuid/status", resumeHandler.HandleGetStatus)
}

func accessLog() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		hlog.CtxInfof(c, "Request: %s %s", ctx.Method(), ctx.Path())
		ctx.Next(c)
		hlog.CtxInfof(c, "Response: status %d, latency %s", ctx.Response.StatusCode(), time.Since(start))
	}
}

func apiKeyAuth(opts Options) app.HandlerFunc {
	keys := make([]string, 0, len(opts.APIKeys))
	for _, k := range opts.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	lookup := opts.KeyLookup
	if lookup == "" {
		lookup = defaultKeyLookup
	}

	return keyauth.New(
		keyauth.WithKeyLookUp(lookup, ""),
		keyauth.WithValidator(func(_ context.Context, _ *app.RequestContext, key string) (bool, error) {
			for _, k := range keys {
				if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
					return true, nil
				}
			}
			return false, keyauth.ErrMissingOrMalformedAPIKey
		}),
		keyauth.WithErrorHandler(func(c context.Context, ctx *app.RequestContext, err error) {
			hlog.CtxInfof(c, "鉴权失败: %s %s: %v", ctx.Method(), ctx.Path(), err)
			ctx.AbortWithStatusJSON(consts.StatusUnauthorized, handler.ErrorResponse{Error: "未授权访问"})
		}),
	)
}
