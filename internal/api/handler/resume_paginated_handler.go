package handler

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// HandleListResults GET /resume?page=1&size=20&status=COMPLETED，分页查询已提交的解析结果
func (h *ResumeHandler) HandleListResults(ctx context.Context, c *app.RequestContext) {
	page := 1
	size := 0 // 交给服务层决定默认值

	if pageStr := c.Query("page"); pageStr != "" {
		if val, err := strconv.Atoi(pageStr); err == nil && val > 0 {
			page = val
		}
	}

	sizeStr := c.Query("size")
	if sizeStr == "" {
		sizeStr = c.Query("page_size")
	}
	if sizeStr != "" {
		if val, err := strconv.Atoi(sizeStr); err == nil && val > 0 {
			size = val
		}
	}

	res, err := h.service.ListResults(ctx, c.Query("status"), page, size)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}
