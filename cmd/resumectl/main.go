// resumectl 在本地批量解析简历文件，每个文件输出一行 JSON。
//
//	resumectl [--config configs/config.yaml] [--ner] [--pretty] cv1.pdf cv2.txt
//	cat cv.txt | resumectl -
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	appConfig "resume-parser-go/internal/config"
	"resume-parser-go/internal/extractor"
	"resume-parser-go/internal/extractor/tesseract"
	appLogger "resume-parser-go/internal/logger"
	"resume-parser-go/internal/ner"
	"resume-parser-go/internal/processor"
	"resume-parser-go/internal/structuring"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var (
	configPath  = pflag.StringP("config", "c", "", "配置文件路径，为空时使用内置默认配置")
	useNER      = pflag.Bool("ner", false, "启用配置中的实体识别(需要 ner.provider=llm)")
	pretty      = pflag.Bool("pretty", false, "缩进输出 JSON")
	concurrency = pflag.IntP("jobs", "j", 4, "并发解析的文件数")
	timeout     = pflag.Duration("timeout", 2*time.Minute, "整体超时时间")
	verbose     = pflag.BoolP("verbose", "v", false, "输出调试日志")
)

// fileResult 单个文件的输出
type fileResult struct {
	File   string                    `json:"file"`
	Record *structuring.ResumeRecord `json:"record,omitempty"`
	Error  string                    `json:"error,omitempty"`
}

func main() {
	pflag.Parse()
	files := pflag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "错误: 至少需要一个文件路径，使用 - 从标准输入读取纯文本")
		pflag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	level := "error"
	if *verbose {
		level = "debug"
	}
	if _, err := appLogger.Init(appLogger.Config{Level: level, Format: "pretty"}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	svc, err := newService(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化解析服务失败: %v\n", err)
		os.Exit(1)
	}

	results := make([]fileResult, len(files))
	var eg errgroup.Group
	eg.SetLimit(max(*concurrency, 1))
	for i, file := range files {
		eg.Go(func() error {
			results[i] = parseFile(ctx, svc, file)
			return nil
		})
	}
	_ = eg.Wait()

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
		if err := enc.Encode(r); err != nil {
			fmt.Fprintf(os.Stderr, "输出结果失败: %v\n", err)
			os.Exit(1)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func loadConfig() (*appConfig.Config, error) {
	if err := appConfig.LoadDotEnv(); err != nil {
		return nil, err
	}
	if *configPath == "" {
		return appConfig.DefaultConfig(), nil
	}
	return appConfig.LoadConfig(*configPath)
}

func newService(ctx context.Context, cfg *appConfig.Config) (*processor.ResumeService, error) {
	registry, err := cfg.Structuring.NewRegistry()
	if err != nil {
		return nil, err
	}
	engineOpts := []structuring.EngineOption{
		structuring.WithNameScanBudget(cfg.Structuring.NameScanBudget),
		structuring.WithLogger(appLogger.Logger),
	}
	if *useNER {
		recognizer, err := ner.Load(cfg.NER)
		switch {
		case err != nil:
			fmt.Fprintf(os.Stderr, "警告: 实体识别不可用，姓名使用首行回退: %v\n", err)
		case recognizer == nil:
			fmt.Fprintln(os.Stderr, "警告: ner.provider 为 none，姓名使用首行回退")
		default:
			engineOpts = append(engineOpts, structuring.WithRecognizer(recognizer))
		}
	}

	pdf, err := extractor.NewEinoPDFExtractor(ctx,
		extractor.WithPDFTimeout(time.Duration(cfg.Extraction.PDFTimeoutSeconds)*time.Second))
	if err != nil {
		return nil, err
	}
	ext := extractor.New(pdf,
		extractor.WithOCR(tesseract.New(cfg.OCR.Languages, cfg.OCR.DPI)),
		extractor.WithPDFImages(extractor.NewPdfcpuImageSource()),
		extractor.WithLogger(appLogger.Component("extractor")),
	)

	return processor.NewResumeService(
		processor.NewComponents(structuring.NewEngine(registry, engineOpts...), ext),
		processor.WithMaxUploadBytes(cfg.Extraction.MaxUploadBytes()),
		processor.WithPersistSync(false),
		processor.WithLogger(appLogger.Logger),
	)
}

func parseFile(ctx context.Context, svc *processor.ResumeService, path string) fileResult {
	res := fileResult{File: path}

	// 标准输入按纯文本处理
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			res.Error = fmt.Sprintf("读取标准输入失败: %v", err)
			return res
		}
		rec, err := svc.ParseText(ctx, string(data))
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Record = rec
		return res
	}

	data, err := os.ReadFile(path)
	if err != nil {
		res.Error = fmt.Sprintf("读取文件失败: %v", err)
		return res
	}
	out, err := svc.ParseDocument(ctx, processor.DocumentInput{
		Filename:      filepath.Base(path),
		Data:          data,
		SourceChannel: "cli",
	})
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Record = out.Record
	return res
}
