package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IzzulGod/Sorachio-Chat-v2/internal/completion"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/config"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/handler"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/proxy"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/service"
	"github.com/IzzulGod/Sorachio-Chat-v2/pkg/logger"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "path to the config file")
	flag.Parse()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	if cfg.Proxy.APIKey == "" {
		logger.Warn("OPENROUTER_API_KEY is not set; the chat function will answer 500")
	}

	completer := completion.NewClient(cfg.Client.Endpoint, cfg.Client.Timeout)
	chatService := service.NewChatService(cfg, service.ChatServiceOptions{
		Completer: completer,
	})
	defer chatService.Close()

	chatHandler := handler.NewChatHandler(chatService, cfg.Image.MaxInputBytes)
	chatProxy := proxy.New(proxy.Options{
		UpstreamURL:       cfg.Proxy.UpstreamURL,
		APIKey:            cfg.Proxy.APIKey,
		Referer:           cfg.Proxy.Referer,
		Title:             cfg.Proxy.Title,
		Timeout:           cfg.Proxy.Timeout,
		RequestsPerMinute: rateLimit(cfg),
		Burst:             cfg.RateLimit.Burst,
	})

	router := setupRouter(cfg, chatHandler, chatProxy)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		logger.Infof("Server listening on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.Timeout+5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	logger.Info("Server stopped")
}

func rateLimit(cfg *config.Config) int {
	if !cfg.RateLimit.Enabled {
		return 0
	}
	return cfg.RateLimit.RequestsPerMinute
}

func setupRouter(cfg *config.Config, chatHandler *handler.ChatHandler, chatProxy *proxy.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(gin.LoggerWithWriter(logger.Writer()))
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	chatProxy.Register(router, cfg.Proxy.Path)
	chatHandler.Register(router.Group("/api"))

	return router
}
