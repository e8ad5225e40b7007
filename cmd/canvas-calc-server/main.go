package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	canvascalc "github.com/menta2k/canvas-calc"
	"github.com/menta2k/canvas-calc/internal/config"
	"github.com/menta2k/canvas-calc/internal/logging"
	"github.com/menta2k/canvas-calc/internal/version"
	"github.com/menta2k/canvas-calc/pkg/server"
)

const serviceName = "canvas-calc"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "config file (YAML)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	logging.Install(logger)

	if cfg.Backend.APIKey == "" && cfg.Backend.Name == config.BackendGemini {
		log.Warn("GEMINI_API_KEY is not set, every request will fail with an auth error")
	}

	opts, err := canvascalc.OptionsFromConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to build options: %v", err)
	}
	opts.Logger = logger

	calc, err := canvascalc.New(opts)
	if err != nil {
		log.Fatalf("Failed to create calculator: %v", err)
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := server.NewRouter(server.Config{
		Service:            serviceName,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		RequestTimeout:     cfg.RequestTimeout(),
		MaxBodyBytes:       cfg.Server.MaxBodyBytes,
	}, calc, logger)

	srv := server.NewHTTPServer(cfg.Server.Port, router)

	// Start HTTP server in a goroutine
	go func() {
		log.WithFields(log.Fields{
			"port":    cfg.Server.Port,
			"backend": calc.Backend(),
			"model":   calc.Model(),
			"version": version.Get(serviceName).Version,
		}).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}
