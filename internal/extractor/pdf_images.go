package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageImage PDF 某一页上嵌入的一张图片
type PageImage struct {
	Page int
	Data []byte
}

// PDFImageSource 取出 PDF 中嵌入的图片，按页码升序返回
type PDFImageSource interface {
	PageImages(ctx context.Context, data []byte) ([]PageImage, error)
}

// Tesseract 能直接读取的图片格式
var ocrFileTypes = map[string]bool{
	"png": true,
	"jpg": true,
	"tif": true,
}

var disableConfigDir sync.Once

// PdfcpuImageSource 使用 pdfcpu 提取扫描件每一页的图片
type PdfcpuImageSource struct {
	conf *model.Configuration
}

// NewPdfcpuImageSource 使用宽松校验模式
func NewPdfcpuImageSource() *PdfcpuImageSource {
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PdfcpuImageSource{conf: conf}
}

// PageImages 同一页内按对象号排序
func (s *PdfcpuImageSource) PageImages(ctx context.Context, data []byte) ([]PageImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pages, err := api.ExtractImagesRaw(bytes.NewReader(data), nil, s.conf)
	if err != nil {
		return nil, fmt.Errorf("提取 PDF 图片失败: %w", err)
	}

	var imgs []model.Image
	for _, page := range pages {
		for _, img := range page {
			if ocrFileTypes[img.FileType] {
				imgs = append(imgs, img)
			}
		}
	}
	sort.Slice(imgs, func(i, j int) bool {
		if imgs[i].PageNr != imgs[j].PageNr {
			return imgs[i].PageNr < imgs[j].PageNr
		}
		return imgs[i].ObjNr < imgs[j].ObjNr
	})

	out := make([]PageImage, 0, len(imgs))
	for _, img := range imgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := io.ReadAll(img)
		if err != nil {
			return nil, fmt.Errorf("读取第 %d 页图片失败: %w", img.PageNr, err)
		}
		out = append(out, PageImage{Page: img.PageNr, Data: b})
	}
	return out, nil
}
