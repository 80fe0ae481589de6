package apihttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"aegis/internal/logger"

	"github.com/gin-gonic/gin"
)

// Server 提供只读的信号查询接口。
type Server struct {
	addr   string
	router *gin.Engine
}

type ServerConfig struct {
	Addr   string
	Router *Router
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Router == nil {
		return nil, errors.New("api http server requires a router")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9992"
	}
	return &Server{addr: cfg.Addr, router: NewEngine(cfg.Router)}, nil
}

// NewEngine 组装 gin 引擎，测试直接用它配合 httptest。
func NewEngine(r *Router) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	engine.GET("/healthz", r.handleHealth)
	r.Register(engine.Group("/api"))
	return engine
}

func requestLogger() gin.HandlerFunc {
	log := logger.Component("api")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method, "path", path, "status", c.Writer.Status(),
			"ip", c.ClientIP(), "dur", time.Since(start))
	}
}

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
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

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
