// Package main wires together the relay service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubsubclient "cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nas2net/oss-relay/internal/api"
	"github.com/nas2net/oss-relay/internal/clock/system"
	"github.com/nas2net/oss-relay/internal/config"
	"github.com/nas2net/oss-relay/internal/converter"
	collyfetcher "github.com/nas2net/oss-relay/internal/fetcher/colly"
	"github.com/nas2net/oss-relay/internal/id/uuid"
	"github.com/nas2net/oss-relay/internal/logging"
	"github.com/nas2net/oss-relay/internal/progress"
	"github.com/nas2net/oss-relay/internal/progress/sinks"
	memorypublisher "github.com/nas2net/oss-relay/internal/publisher/memory"
	pubsubpublisher "github.com/nas2net/oss-relay/internal/publisher/pubsub"
	"github.com/nas2net/oss-relay/internal/registry"
	"github.com/nas2net/oss-relay/internal/relay"
	"github.com/nas2net/oss-relay/internal/storage/gcs"
	memorystorage "github.com/nas2net/oss-relay/internal/storage/memory"
	"github.com/nas2net/oss-relay/internal/storage/postgres"
	"github.com/nas2net/oss-relay/internal/storage/s3"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	objects, err := buildObjectStore(ctx, cfg)
	if err != nil {
		logger.Fatal("object store init failed", zap.Error(err))
	}

	publisher, pubCleanup, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer pubCleanup()

	var auditStore *postgres.AuditStore
	if cfg.DB.Enabled {
		auditStore, err = postgres.NewAuditStore(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			logger.Fatal("audit store init failed", zap.Error(err))
		}
		defer auditStore.Close()
	}

	hub, hubCleanup, err := buildProgressHub(auditStore, logger)
	if err != nil {
		logger.Fatal("progress hub init failed", zap.Error(err))
	}
	defer hubCleanup()

	clock := system.New()
	idGen := uuid.New()
	reg := registry.New(registry.Config{
		EvictionTTL:   cfg.EvictionTTL(),
		SweepInterval: cfg.SweepInterval(),
		MaxTasks:      cfg.Registry.MaxTasks,
	}, clock, idGen, logger.Named("registry"))
	defer reg.Close()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Convert.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.Convert.MaxFetchBytes,
	})

	conv := converter.New(
		converter.Config{
			MaxParallel:   cfg.Convert.MaxParallel,
			FetchTimeout:  cfg.FetchTimeout(),
			MaxFetchBytes: cfg.Convert.MaxFetchBytes,
			PresignTTL:    cfg.PresignTTL(),
			KeyPrefix:     cfg.Storage.Prefix,
			DoneTopic:     cfg.PubSub.TopicName,
		},
		objects, fetcher, reg, idGen, clock, publisher, hub, logger.Named("converter"),
	)

	apiOpts := api.Options{
		BaseContext: ctx,
		Logger:      logger.Named("api"),
	}
	if auditStore != nil {
		apiOpts.AuditRepo = auditStore
	}
	apiServer := api.NewServer(reg, conv, objects, idGen, cfg, apiOpts)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildObjectStore(ctx context.Context, cfg config.Config) (relay.ObjectStore, error) {
	switch cfg.Storage.Provider {
	case "s3":
		return s3.New(s3.Config{
			Endpoint:  cfg.Storage.S3.Endpoint,
			AccessKey: cfg.Storage.S3.AccessKey,
			SecretKey: cfg.Storage.S3.SecretKey,
			Bucket:    cfg.Storage.S3.Bucket,
			Region:    cfg.Storage.S3.Region,
			UseSSL:    cfg.Storage.S3.UseSSL,
		})
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	case "memory":
		return memorystorage.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (relay.Publisher, func(), error) {
	if !cfg.PubSub.Enabled {
		logger.Info("pubsub disabled, using memory publisher")
		return memorypublisher.New(), func() {}, nil
	}
	client, err := pubsubclient.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client)
	cleanup := func() {
		pub.Close()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	return pub, cleanup, nil
}

func buildProgressHub(auditStore *postgres.AuditStore, logger *zap.Logger) (*progress.Hub, func(), error) {
	sinkList := []progress.Sink{sinks.NewLogSink(logger.Named("progress"))}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, nil, fmt.Errorf("register metrics: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if auditStore != nil {
		sinkList = append(sinkList, sinks.NewStoreSink(auditStore, logger.Named("audit")))
	}

	// Sink contexts must outlive the signal context so the final audit batch
	// survives shutdown; the hub defaults BaseContext to context.Background().
	hub := progress.NewHub(progress.Config{
		Logger: logger.Named("hub"),
	}, sinkList...)
	cleanup := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(stopCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	return hub, cleanup, nil
}
