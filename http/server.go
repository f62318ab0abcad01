// Package http 提供房价预测 HTTP 服务
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bristolhouse/config"
	"bristolhouse/monitoring"
	"bristolhouse/serving"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port            int
	Timeout         time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	RateLimit       float64
	RateBurst       int
	TrustProxy      bool
	MaxBodyBytes    int64
}

// Dependencies 处理器依赖
type Dependencies struct {
	Service  *serving.Service
	Metrics  *monitoring.MetricsCollector
	Registry Registry
	Logger   *zap.Logger
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfigFrom(config.Default().HTTP)
}

// ServerConfigFrom 从应用配置转换
func ServerConfigFrom(cfg config.HTTPConfig) ServerConfig {
	return ServerConfig{
		Port:            cfg.Port,
		Timeout:         cfg.Timeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimit:       cfg.RateLimit,
		RateBurst:       cfg.RateBurst,
		TrustProxy:      cfg.TrustProxy,
		MaxBodyBytes:    cfg.MaxBodyBytes,
	}
}

// NewServer 创建HTTP服务器
func NewServer(cfg ServerConfig, deps Dependencies) (*Server, error) {
	if deps.Service == nil {
		return nil, fmt.Errorf("prediction service is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetricsCollector()
	}

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, deps),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		config: cfg,
		logger: deps.Logger,
	}, nil
}

// NewHandler 组装路由与中间件链
func NewHandler(cfg ServerConfig, deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetricsCollector()
	}

	mux := http.NewServeMux()
	h := &handlers{
		service:  deps.Service,
		metrics:  deps.Metrics,
		registry: deps.Registry,
		logger:   deps.Logger,
	}
	h.register(mux)

	middlewares := []Middleware{
		RecoveryMiddleware(deps.Logger),                  // 1. 恢复中间件（最先执行，捕获panic）
		LoggerMiddleware(deps.Logger, deps.Metrics, mux), // 2. 日志中间件
		SecurityHeadersMiddleware,                        // 3. 安全头中间件
		CORSMiddleware(cfg.AllowedOrigins),               // 4. CORS中间件
	}
	if cfg.RateLimit > 0 {
		limiter := NewIPRateLimiter(RateLimiterConfig{
			Rate:       rate.Limit(cfg.RateLimit),
			Burst:      cfg.RateBurst,
			TrustProxy: cfg.TrustProxy,
		}, deps.Logger)
		middlewares = append(middlewares, limiter.Middleware) // 5. 限流中间件
	}
	middlewares = append(middlewares,
		RequestSizeMiddleware(cfg.MaxBodyBytes), // 6. 请求大小限制
		TimeoutMiddleware(cfg.Timeout),          // 7. 超时中间件
	)

	return Chain(middlewares...)(mux)
}

// Start 启动服务器，阻塞直到关闭
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", s.server.Addr),
		zap.String("websocket", fmt.Sprintf("ws://localhost%s/ws/predict", s.server.Addr)),
	)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Stop 使用配置的超时关闭服务器
func (s *Server) Stop() error {
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
