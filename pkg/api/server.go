package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"PortfolioAgent/pkg/config"
	"PortfolioAgent/pkg/logger"
)

// Server API服务器
type Server struct {
	router          *gin.Engine
	srv             *http.Server
	log             *logger.Logger
	shutdownTimeout time.Duration
}

// ServerOption 服务器选项
type ServerOption func(*Server)

// WithMetrics 启用请求指标并在 path 暴露 Prometheus 指标
func WithMetrics(m HTTPMetrics, path string, handler http.Handler) ServerOption {
	return func(s *Server) {
		s.router.Use(requestMetrics(m))
		s.router.GET(path, gin.WrapH(handler))
	}
}

// NewServer 创建新的API服务器
func NewServer(cfg config.API, log *logger.Logger, opts ...ServerOption) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log, 2*time.Second))

	s := &Server{
		router: router,
		srv: &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		log:             log,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 5 * time.Second
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetupRoutes 设置路由
func (s *Server) SetupRoutes(h *Handlers) {
	s.router.GET("/health", h.HealthCheck)
	s.router.GET("/ready", h.ReadinessCheck)

	v1 := s.router.Group("/api/v1")
	{
		for _, r := range seriesRoutes {
			g := v1.Group("/" + r.path)
			g.GET("/:ts_code", h.GetSeries(r.kind, r.defaultLimit))
			g.POST("/:ts_code/refresh", h.RefreshSeries(r.kind, r.defaultLimit))
		}
		v1.GET("/status/:ts_code", h.GetStatus)

		v1.POST("/jobs/refresh", h.SubmitRefreshJob)
		v1.GET("/jobs", h.ListJobs)
		v1.GET("/jobs/:id", h.GetJob)

		v1.POST("/analyses", h.CreateAnalysis)
		v1.GET("/analyses", h.ListAnalyses)
		v1.POST("/analyses/dcf", h.ComputeDCF)
		v1.GET("/analyses/:id", h.GetAnalysis)

		v1.GET("/stocks", h.ListStocks)
		v1.POST("/stocks/sync", h.SyncStocks)
		v1.GET("/stocks/:ts_code", h.GetStock)
		v1.GET("/stocks/:ts_code/detail", h.GetStock)

		v1.POST("/portfolios", h.CreatePortfolio)
		v1.GET("/portfolios", h.ListPortfolios)
		v1.GET("/portfolios/:id", h.GetPortfolio)
		v1.DELETE("/portfolios/:id", h.DeletePortfolio)
		v1.GET("/portfolios/:id/holdings", h.ListHoldings)

		v1.POST("/holdings", h.CreateHolding)
		v1.PUT("/holdings/:id", h.UpdateHolding)
		v1.DELETE("/holdings/:id", h.DeleteHolding)
	}
}

// Handler 返回路由，供测试使用
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run 启动服务器，ctx 结束后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API服务器启动", logger.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("正在关闭服务器...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("服务器已关闭")
	return nil
}
