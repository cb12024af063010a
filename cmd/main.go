package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resume-parser-go/internal/api/handler"
	"resume-parser-go/internal/api/router"
	appConfig "resume-parser-go/internal/config"
	"resume-parser-go/internal/extractor"
	"resume-parser-go/internal/extractor/tesseract"
	appLogger "resume-parser-go/internal/logger"
	"resume-parser-go/internal/ner"
	"resume-parser-go/internal/outbox"
	"resume-parser-go/internal/processor"
	"resume-parser-go/internal/storage"
	"resume-parser-go/internal/structuring"
	"resume-parser-go/internal/tracing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"
)

var (
	version     = "1.0.0"            //nolint:gochecknoglobals
	serviceName = "resume-parser-go" //nolint:gochecknoglobals
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", appConfig.DefaultConfigPath, "Path to config file")
	pflag.Parse()

	if err := appConfig.LoadDotEnv(); err != nil {
		appLogger.Fatal().Err(err).Msg("加载 .env 失败")
	}
	cfg, err := appConfig.LoadConfig(configPath)
	if err != nil {
		appLogger.Fatal().Err(err).Str("path", configPath).Msg("加载配置失败")
	}

	logCloser, err := appLogger.Init(cfg.Logger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("初始化日志失败")
	}
	defer logCloser.Close()
	appLogger.InstallHertz()
	glog.Infof("%s %s 配置加载成功: %s", serviceName, version, configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing)
	if err != nil {
		glog.Fatalf("初始化链路追踪失败: %v", err)
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		glog.Fatalf("初始化结构化引擎失败: %v", err)
	}

	ext, err := buildExtractor(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化文本提取器失败: %v", err)
	}

	storageManager, err := storage.NewStorage(ctx, cfg, appLogger.Logger)
	if err != nil {
		// 存储全部不可用时仍然提供同步解析
		glog.Warnf("存储服务不可用，仅提供同步解析: %v", err)
		storageManager = &storage.Storage{}
	}
	defer storageManager.Close()

	var relay *outbox.MessageRelay
	if cfg.RabbitMQ.UseOutbox && storageManager.MySQL != nil && storageManager.RabbitMQ != nil {
		relay = outbox.NewMessageRelay(storageManager.MySQL, storageManager.RabbitMQ,
			outbox.WithPollingInterval(appConfig.GetDuration(cfg.RabbitMQ.RetryInterval, 5*time.Second)),
			outbox.WithBatchSize(cfg.RabbitMQ.OutboxBatchSize),
			outbox.WithMaxRetries(cfg.RabbitMQ.OutboxMaxRetries),
			outbox.WithLogger(appLogger.Logger),
		)
		relay.Start(ctx)
		glog.Info("消息中继服务已启动")
	}

	resumeService, err := processor.NewResumeService(
		processor.NewComponents(engine, ext, processor.WithStorage(storageManager)),
		processor.WithMaxUploadBytes(cfg.Extraction.MaxUploadBytes()),
		processor.WithCacheTTL(cfg.Redis.CacheTTL()),
		processor.WithOutbox(relay != nil),
		processor.WithLogger(appLogger.Logger),
	)
	if err != nil {
		glog.Fatalf("初始化解析服务失败: %v", err)
	}
	glog.Infof("解析服务初始化成功 (ner=%t, async=%t, ocr=%t)",
		resumeService.NERAvailable(), resumeService.AsyncEnabled(), ext.HasOCR())

	if resumeService.AsyncEnabled() {
		if err := resumeService.StartConsumer(ctx, cfg.RabbitMQ.ConsumerWorkers); err != nil {
			glog.Fatalf("启动解析任务消费者失败: %v", err)
		}
	}

	opts := []config.Option{
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		// multipart 表单比文件本身略大
		server.WithMaxRequestBodySize(int(cfg.Extraction.MaxUploadBytes()) + 1<<20),
	}
	var tracingCfg *hertztracing.Config
	if cfg.Tracing.Enabled {
		tracer, tc := hertztracing.NewServerTracer()
		opts = append(opts, tracer)
		tracingCfg = tc
	}

	h := server.New(opts...)
	if tracingCfg != nil {
		h.Use(hertztracing.ServerMiddleware(tracingCfg))
	}

	resumeHandler := handler.NewResumeHandler(resumeService, cfg.Extraction.MaxUploadBytes())
	router.RegisterRoutes(h, resumeHandler, router.Options{
		APIKeys:   cfg.Auth.APIKeys,
		KeyLookup: cfg.Auth.KeyLookup,
	})
	glog.Info("HTTP路由注册成功")

	glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)
	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	// 先停止消息中继和消费者
	if relay != nil {
		relay.Stop()
		glog.Info("消息中继服务已停止")
	}
	cancel()

	timeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		glog.Errorf("关闭链路追踪失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

func buildEngine(cfg *appConfig.Config) (*structuring.Engine, error) {
	registry, err := cfg.Structuring.NewRegistry()
	if err != nil {
		return nil, err
	}

	opts := []structuring.EngineOption{
		structuring.WithNameScanBudget(cfg.Structuring.NameScanBudget),
		structuring.WithLogger(appLogger.Logger),
	}
	recognizer, err := ner.Load(cfg.NER)
	switch {
	case err != nil:
		// 实体识别不可用不影响启动，姓名走首行回退
		glog.Warnf("加载实体识别失败，姓名使用首行回退: %v", err)
	case recognizer != nil:
		opts = append(opts, structuring.WithRecognizer(recognizer))
	default:
		glog.Info("未配置实体识别，姓名使用首行回退")
	}
	return structuring.NewEngine(registry, opts...), nil
}

func buildExtractor(ctx context.Context, cfg *appConfig.Config) (*extractor.Extractor, error) {
	pdf, err := extractor.NewEinoPDFExtractor(ctx,
		extractor.WithPDFTimeout(time.Duration(cfg.Extraction.PDFTimeoutSeconds)*time.Second),
		extractor.WithPDFLogger(appLogger.Component("pdf")),
	)
	if err != nil {
		return nil, err
	}

	opts := []extractor.Option{extractor.WithLogger(appLogger.Component("extractor"))}
	if len(cfg.OCR.Languages) > 0 {
		opts = append(opts,
			extractor.WithOCR(tesseract.New(cfg.OCR.Languages, cfg.OCR.DPI)),
			extractor.WithPDFImages(extractor.NewPdfcpuImageSource()),
		)
	}
	return extractor.New(pdf, opts...), nil
}
