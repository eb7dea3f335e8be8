package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nvara/adscout/internal/agent"
	"github.com/nvara/adscout/internal/api"
	"github.com/nvara/adscout/internal/config"
	"github.com/nvara/adscout/internal/feed"
	"github.com/nvara/adscout/internal/llm"
	"github.com/nvara/adscout/internal/research"
	"github.com/nvara/adscout/internal/store"
	"github.com/nvara/adscout/internal/tools"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting adscout...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/adscout.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// PostgreSQL persistence
	db, err := store.New(cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("PostgreSQL unavailable", zap.Error(err))
	}
	if err := db.Migrate(context.Background(), cfg.MigrationsDir); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	// Redis change feed, optional
	var changeFeed *feed.Feed
	if cfg.Database.Redis.URL != "" {
		cf, feedErr := feed.New(cfg.Database.Redis.URL, logger)
		if feedErr != nil {
			logger.Warn("Redis unavailable, running without realtime feed", zap.Error(feedErr))
		} else {
			changeFeed = cf
		}
	}

	// LLM gateway
	gateway := llm.NewGatewayClient(llm.GatewayConfig{
		Endpoint: cfg.Gateway.Endpoint,
		APIKey:   cfg.Gateway.APIKey,
		Model:    cfg.Gateway.Model,
		Timeout:  time.Duration(cfg.Gateway.TimeoutSeconds) * time.Second,
	}, logger)

	// Research collaborators
	adLib := research.NewAdLibraryClient(cfg.Research.AdLibrary.Endpoint, cfg.Research.AdLibrary.APIKey, logger)
	blobs := research.NewBlobStore(cfg.Research.Blob.Endpoint, cfg.Research.Blob.Bucket, cfg.Research.Blob.APIKey, logger)
	downloader := research.NewDownloader(blobs, logger)
	vision := research.NewVisionClient(cfg.Research.Vision.Endpoint, cfg.Research.Vision.APIKey, logger)
	search := research.NewSearchClient(cfg.Research.Search.Endpoint, cfg.Research.Search.APIKey, logger)

	opts := agent.Options{
		Model:                 cfg.Gateway.Model,
		MaxIterations:         cfg.Agent.MaxIterations,
		ImplicitCompletionLen: cfg.Agent.ImplicitCompletionLen,
		WriteThrottle:         cfg.Agent.WriteThrottle,
		Temperature:           cfg.Agent.Temperature,
	}
	runTimeout := time.Duration(cfg.Agent.RunTimeoutSeconds) * time.Second

	var pub agent.Publisher
	var sub api.Subscriber
	if changeFeed != nil {
		pub = changeFeed
		sub = changeFeed
	}
	runner := agent.NewRunner(gateway, db, pub, opts, runTimeout, logger)

	newRegistry := func(sessionID, brandName string) *tools.Registry {
		reg := tools.NewRegistry(logger)
		tools.RegisterBuiltin(reg, tools.Deps{
			SessionID: sessionID,
			BrandName: brandName,
			Ads:       adLib,
			Videos:    downloader,
			Vision:    vision,
			Search:    search,
			Reports:   db,
			Logger:    logger,
		})
		return reg
	}

	handler := api.NewHandler(runner, db, sub, newRegistry, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("adscout listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down adscout...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	if changeFeed != nil {
		changeFeed.Close()
	}
	db.Close()
}
