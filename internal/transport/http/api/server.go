package apihttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"custord/internal/logger"
	"custord/internal/metrics"
	"custord/internal/orders"
	"custord/internal/pkg/symbol"
	"custord/internal/preset"

	"github.com/gin-gonic/gin"
)

var log = logger.Named("http")

// Server 暴露订单操作、查询与 freqtrade webhook。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 HTTP 服务依赖。
type ServerConfig struct {
	Addr      string
	Desk      *orders.Desk
	Presets   *preset.Registry
	Metrics   *metrics.Metrics
	Converter symbol.Converter
	// Clock 用于把 timeout_minutes 换算为绝对时间，缺省 time.Now。
	Clock func() time.Time
}

// NewServer 构建 HTTP server；Desk 必填。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Desk == nil {
		return nil, errors.New("http server requires an order desk")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	api, err := NewRouter(cfg.Desk, cfg.Presets, cfg.Converter)
	if err != nil {
		return nil, err
	}
	if cfg.Clock != nil {
		api.now = cfg.Clock
	}
	api.Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Handler 返回底层 http.Handler，测试直接用 httptest 驱动。
func (s *Server) Handler() http.Handler {
	return s.router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			log.Warnf("HTTP %s %s status=%d ip=%s dur=%s", c.Request.Method, path, status, c.ClientIP(), time.Since(start))
			return
		}
		log.Debugf("HTTP %s %s status=%d ip=%s dur=%s", c.Request.Method, path, status, c.ClientIP(), time.Since(start))
	}
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	log.Infof("listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
