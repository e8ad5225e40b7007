package server

import (
	"context"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/menta2k/canvas-calc/pkg/metrics"
	"github.com/menta2k/canvas-calc/pkg/types"
)

const (
	EndPointHealth    = "/health"
	EndPointMetrics   = "/metrics"
	EndPointCalculate = "/calculate"
)

// Analyzer is the part of canvascalc.Calculator the HTTP layer needs
type Analyzer interface {
	AnalyzeDataURL(ctx context.Context, dataURL string, vars types.Variables) ([]types.Record, error)
	Backend() string
	Model() string
}

// Config holds the HTTP-level settings
type Config struct {
	Service            string
	AllowedOrigins     []string
	RateLimitPerMinute int
	RequestTimeout     time.Duration
	MaxBodyBytes       int64
}

// NewRouter wires middleware and routes around the analyzer
func NewRouter(cfg Config, analyzer Analyzer, logger log.Interface) *gin.Engine {
	if logger == nil {
		logger = log.Log
	}
	if cfg.Service == "" {
		cfg.Service = "canvas-calc"
	}
	metrics.Register()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(AccessLogMiddleware(logger))
	router.Use(MetricsMiddleware())
	router.Use(CORSMiddleware(cfg.AllowedOrigins))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	h := NewHandlers(cfg.Service, analyzer)

	router.GET(EndPointHealth, h.Health)
	router.GET(EndPointMetrics, gin.WrapH(promhttp.Handler()))

	limited := router.Group("/")
	if cfg.RateLimitPerMinute > 0 {
		limited.Use(RateLimitMiddleware(cfg.RateLimitPerMinute, logger))
	}
	limited.Use(BodyLimitMiddleware(cfg.MaxBodyBytes))
	limited.Use(TimeoutMiddleware(cfg.RequestTimeout))
	{
		limited.POST(EndPointCalculate, h.Calculate)
	}

	return router
}

// NewHTTPServer wraps the router in an http.Server listening on port
func NewHTTPServer(port string, router http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
