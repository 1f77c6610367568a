package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"PortfolioAgent/pkg/analysis"
	"PortfolioAgent/pkg/collector"
	"PortfolioAgent/pkg/database"
	"PortfolioAgent/pkg/logger"
	"PortfolioAgent/pkg/monitor"
	"PortfolioAgent/pkg/refresh"
	"PortfolioAgent/pkg/scheduler"
)

// Handlers API处理程序
type Handlers struct {
	db       *database.DB
	coord    *refresh.Coordinator
	runner   *scheduler.BatchRunner
	analyses *analysis.Service
	stocks   collector.StockLister
	log      *logger.Logger
	monitor  *monitor.Monitor
}

// NewHandlers 创建新的API处理程序
func NewHandlers(
	db *database.DB,
	coord *refresh.Coordinator,
	runner *scheduler.BatchRunner,
	analyses *analysis.Service,
	stocks collector.StockLister,
	log *logger.Logger,
) *Handlers {
	m := monitor.NewMonitor(log)
	m.RegisterComponent("database", db.Ping)
	return &Handlers{
		db:       db,
		coord:    coord,
		runner:   runner,
		analyses: analyses,
		stocks:   stocks,
		log:      log,
		monitor:  m,
	}
}

// AddReadinessCheck 注册就绪检查项
func (h *Handlers) AddReadinessCheck(name string, check func() error) {
	h.monitor.RegisterComponent(name, check)
}

// HealthCheck 健康检查处理程序
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// ReadinessCheck 就绪检查处理程序，任一组件不可用时返回 503
func (h *Handlers) ReadinessCheck(c *gin.Context) {
	ready := h.monitor.CheckAll()
	statuses := h.monitor.GetAllStatus()
	components := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Status == monitor.StatusHealthy {
			components[st.Component] = "ok"
			continue
		}
		components[st.Component] = st.Message
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     status,
		"components": components,
	})
}

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"data": data})
}

func respondError(c *gin.Context, err error) {
	appErr := toAppError(err)
	_ = c.Error(err)
	body := gin.H{"error": appErr.Message}
	if appErr.Details != nil {
		body["details"] = appErr.Details
	}
	c.AbortWithStatusJSON(appErr.Status, body)
}

// uintParam 解析路径中的数值 ID
func uintParam(c *gin.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, BadRequestErrorf("无效的 %s: %q", name, c.Param(name))
	}
	return uint(v), nil
}
