package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"PortfolioAgent/pkg/model"
	"PortfolioAgent/pkg/scheduler"
)

// RefreshJobRequest 批量刷新请求
type RefreshJobRequest struct {
	Symbols   []string `json:"ts_codes" validate:"max=500,dive,required"`
	DataKinds []string `json:"data_kinds" validate:"dive,oneof=price financial valuation prices financials valuations"`
	Force     *bool    `json:"force"`
}

// ListQuery 分页参数
type ListQuery struct {
	Limit  int    `form:"limit" default:"50" validate:"gte=1,lte=500"`
	Offset int    `form:"offset" validate:"gte=0"`
	Query  string `form:"q"`
	Symbol string `form:"ts_code"`
}

// SubmitRefreshJob 提交批量刷新任务，返回 202
func (h *Handlers) SubmitRefreshJob(c *gin.Context) {
	var req RefreshJobRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	kinds, err := model.ParseDataKinds(req.DataKinds)
	if err != nil {
		respondError(c, BadRequestError(err.Error()))
		return
	}

	job, err := h.runner.Submit(c.Request.Context(), scheduler.Request{
		Symbols:   req.Symbols,
		DataKinds: kinds,
		Force:     req.Force,
		Type:      model.JobTypeManual,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusAccepted, job)
}

// GetJob 查询任务状态与各条目结果
func (h *Handlers) GetJob(c *gin.Context) {
	job, err := h.runner.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{
		"job":      job,
		"progress": job.Progress(),
	})
}

// ListJobs 最近的任务
func (h *Handlers) ListJobs(c *gin.Context) {
	var q ListQuery
	if err := bindQuery(c, &q); err != nil {
		respondError(c, err)
		return
	}
	jobs, err := h.runner.List(q.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, jobs)
}
