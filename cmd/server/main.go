package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "mediaengine/internal/api/http"
	"mediaengine/internal/app"
	"mediaengine/internal/download"
	"mediaengine/internal/metrics"
	mongostore "mediaengine/internal/repository/mongo"
	"mediaengine/internal/services/media"
	"mediaengine/internal/services/media/ffprobe"
	peeranacrolix "mediaengine/internal/services/peer/anacrolix"
	"mediaengine/internal/storage/layout"
	"mediaengine/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "mediaengine")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "mediaengine"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("downloadLocation", cfg.DownloadLocation),
		slog.Int("maxConcurrent", cfg.MaxConcurrent),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoClient, err := mongostore.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store := mongostore.NewStore(mongoClient, cfg.MongoDatabase, logger)
	if err := store.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}

	lay, err := layout.New(cfg.DownloadLocation, logger)
	if err != nil {
		logger.Error("download root unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	peerCfg := peeranacrolix.Config{
		NoPeersTimeout: time.Duration(cfg.NoPeersTimeoutS) * time.Second,
	}
	peerClient, err := peeranacrolix.NewClient(peerCfg, logger)
	if err != nil {
		logger.Error("peer client init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	manager := download.NewManager(store, peerClient, lay, logger, cfg.MaxConcurrent)
	if err := manager.RehydrateOnStart(rootCtx); err != nil {
		logger.Warn("rehydration failed", slog.String("error", err.Error()))
	}

	handler := apihttp.NewServer(manager, lay,
		apihttp.WithStore(store),
		apihttp.WithMediaProbe(ffprobe.New(cfg.FFProbePath)),
		apihttp.WithTranscoder(media.NewTranscoder(cfg.FFMPEGPath, logger)),
		apihttp.WithForceTranscoding(cfg.ForceTranscoding),
		apihttp.WithLogger(logger),
	)

	// Supervise the peer client: a fatal error tears the client down,
	// builds a fresh one and re-drives the pending records from the store.
	go superviseClient(rootCtx, manager, peerClient, peerCfg, logger)

	go broadcastLoop(rootCtx, manager, handler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	manager.Shutdown()
	if err := peerClient.Close(); err != nil {
		logger.Warn("peer client close error", slog.String("error", err.Error()))
	}
	if err := mongoClient.Disconnect(context.Background()); err != nil {
		logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// superviseClient rebuilds the peer client after a fatal error. Mid-flight
// transfers are lost; rehydration re-drives every record still pending in
// the store.
func superviseClient(ctx context.Context, manager *download.Manager, client *peeranacrolix.Client, cfg peeranacrolix.Config, logger *slog.Logger) {
	current := client
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-current.Errors():
			if !ok {
				return
			}
			logger.Error("peer client fatal error, rebuilding", slog.String("error", err.Error()))
			metrics.ClientRebuildsTotal.Inc()

			if closeErr := current.Close(); closeErr != nil {
				logger.Warn("peer client close error", slog.String("error", closeErr.Error()))
			}

			rebuilt, newErr := peeranacrolix.NewClient(cfg, logger)
			if newErr != nil {
				logger.Error("peer client rebuild failed", slog.String("error", newErr.Error()))
				return
			}
			manager.SetClient(rebuilt)
			current = rebuilt

			if rehErr := manager.RehydrateOnStart(ctx); rehErr != nil {
				logger.Warn("rehydration after rebuild failed", slog.String("error", rehErr.Error()))
			}
		}
	}
}

// broadcastLoop refreshes the transfer gauges and pushes the live snapshot
// to WebSocket clients.
func broadcastLoop(ctx context.Context, manager *download.Manager, handler *apihttp.Server) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			handler.BroadcastDownloads(manager.Snapshot())
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
