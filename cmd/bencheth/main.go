package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bencheth/internal/cache"
	"bencheth/internal/config"
	"bencheth/internal/ethereum"
	"bencheth/internal/geo"
	"bencheth/internal/handler"
	"bencheth/internal/metrics"
	"bencheth/internal/service"
	"bencheth/internal/stream"
	"bencheth/pkg/logger"

	"github.com/gin-gonic/gin"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		ToFile:     cfg.Logging.ToFile,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	geoCtx, geoCancel := context.WithTimeout(context.Background(), 10*time.Second)
	region, err := geo.Resolve(geoCtx, cfg.Geo.Region, cfg.Geo.LookupURL)
	geoCancel()
	if err != nil {
		log.Warn("Geo lookup failed, using %q: %v", region, err)
	}

	log.Info("[bencheth][%s] %s: %s", region, cfg.Ethereum.RPCHost, version)

	registry := metrics.New(cfg.Ethereum.RPCHost, region)

	transport := ethereum.NewTransport(
		cfg.Ethereum.RPCURL,
		&http.Client{Timeout: cfg.Ethereum.Timeout},
		ethereum.NewMeasuredClassifier(registry, log.Named("classifier")),
		registry,
		cfg.Retry,
		log.Named("rpc"),
	)
	client := ethereum.NewClient(transport)
	fetcher := ethereum.NewFetcher(client, cfg.Poller.Workers, registry, log.Named("poller.tx"))
	log.Info("Fetching transactions with %d workers", fetcher.Workers())

	var publishers []service.BlockPublisher

	// Redis head status is optional and degrades to a no-op
	headStatus, err := cache.NewHeadStatus(
		cfg.Redis.URI,
		cfg.Redis.Enabled,
		cfg.Ethereum.RPCHost,
		region,
		cfg.Redis.StatusTTL,
		log.Named("redis"),
	)
	if err != nil {
		log.Warn("Redis head status unavailable, continuing without it: %v", err)
	} else if headStatus.Enabled() {
		publishers = append(publishers, headStatus)
		defer func() {
			if err := headStatus.Close(); err != nil {
				log.Error("Failed to close Redis: %v", err)
			}
		}()
	}

	var streamHandler *handler.StreamHandler
	if cfg.Streaming.Enabled {
		blockStream := stream.NewStream(cfg.Streaming.BufferSize, log.Named("stream"))
		publishers = append(publishers, blockStream)
		streamHandler = handler.NewStreamHandler(blockStream, log.Named("stream"))
		log.Info("Streaming enabled: type=%s, route=%s", cfg.Streaming.Type, cfg.Streaming.Route)
	}

	poller := service.NewPoller(client, fetcher, registry, log.Named("poller"), cfg.Poller.Interval, publishers...)

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(registry.Handler(), handler.RouterOptions{
		RPCHost:     cfg.Ethereum.RPCHost,
		Geo:         region,
		Status:      poller,
		Stream:      streamHandler,
		StreamType:  cfg.Streaming.Type,
		StreamRoute: cfg.Streaming.Route,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		if err := poller.Start(ctx); err != nil {
			log.Error("Poller error: %v", err)
		}
	}()

	go func() {
		log.Info("Serving metrics on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server error: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Metrics server forced to shutdown: %v", err)
	}

	select {
	case <-pollerDone:
	case <-shutdownCtx.Done():
		log.Warn("Poller did not stop before the shutdown deadline")
	}

	log.Info("Exited")
}
