// main.go
package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/s3blob"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/akhenakh/mogtiles/mog"
)

const appName = "mogtiles"

//go:embed static
var staticFS embed.FS

var (
	grpcHealthServer  *grpc.Server
	httpMetricsServer *http.Server
	httpTileServer    *http.Server
	grpcMetrics       = grpcprom.NewServerMetrics(grpcprom.WithServerHandlingTimeHistogram(
		grpcprom.WithHistogramBuckets([]float64{0.01, 0.1, 0.3, 0.6, 1, 3, 6, 9}),
	))
)

// Config holds all configuration for the application, loaded from environment variables.
type Config struct {
	LogLevel        string `env:"LOG_LEVEL" envDefault:"INFO"`
	HTTPPort        int    `env:"HTTP_PORT" envDefault:"8080"`
	HealthPort      int    `env:"HEALTH_PORT" envDefault:"6666"`
	HTTPMetricsPort int    `env:"METRICS_PORT" envDefault:"8888"`

	WorldURL       string `env:"MOG_WORLD_URL" envDefault:"http://localhost:9000/mogs/world.tiff"`
	WorldMaxZoom   int    `env:"MOG_WORLD_MAX_ZOOM" envDefault:"5"`
	RegionTemplate string `env:"MOG_REGION_TEMPLATE" envDefault:"http://localhost:9000/mogs/{z}/{x}/{y}.tiff"`
	RegionMinZoom  int    `env:"MOG_REGION_MIN_ZOOM" envDefault:"6"`
	RegionMaxZoom  int    `env:"MOG_REGION_MAX_ZOOM" envDefault:"12"`
	// Bucket, when set, is a gocloud.dev bucket URL and the world URL and
	// region template are keys inside it.
	Bucket string `env:"MOG_BUCKET"`

	MetadataCacheSize int           `env:"METADATA_CACHE_SIZE" envDefault:"16"`
	OverFetchBudget   int64         `env:"OVERFETCH_BUDGET" envDefault:"32768"`
	ConnectTimeout    time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	HeaderTimeout     time.Duration `env:"HEADER_TIMEOUT" envDefault:"30s"`

	TileCacheMaxSize      int64         `env:"TILE_CACHE_MAX_SIZE" envDefault:"4096"`
	TileCacheItemsToPrune uint32        `env:"TILE_CACHE_ITEMS_TO_PRUNE" envDefault:"100"`
	TileCacheTTL          time.Duration `env:"TILE_CACHE_TTL" envDefault:"10m"`
	WebPQuality           int           `env:"WEBP_QUALITY" envDefault:"85"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		fmt.Printf("failed to parse config: %+v\n", err)
		os.Exit(1)
	}

	logger := createLogger(cfg, appName)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	client, closeSource, err := setupClient(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("failed to initialize MOG client, shutting down", "error", err)
		os.Exit(1)
	}
	defer closeSource()

	healthServer := health.NewServer()

	// gRPC Health Server
	g.Go(func() error {
		return startHealthServer(logger, cfg, healthServer)
	})

	// HTTP Metrics Server (Prometheus)
	g.Go(func() error {
		return startMetricsServer(logger, cfg)
	})

	// HTTP tiles & Web UI Server
	g.Go(func() error {
		return startHTTPTileServer(logger, cfg, client)
	})

	// Wait for termination signal or an error from one of the services
	select {
	case <-interrupt:
		slog.Warn("received termination signal, starting graceful shutdown")
		cancel()
	case <-ctx.Done():
		slog.Warn("context cancelled, starting graceful shutdown")
	}

	// Graceful Shutdown
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if httpMetricsServer != nil {
		if err := httpMetricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP metrics server shutdown error", "error", err)
		}
	}
	if httpTileServer != nil {
		if err := httpTileServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP tile server shutdown error", "error", err)
		}
	}
	if grpcHealthServer != nil {
		grpcHealthServer.GracefulStop()
	}

	// Wait for all services in the errgroup to finish
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server group returned an error", "error", err)
		os.Exit(2)
	}
}

func startHealthServer(logger *slog.Logger, cfg Config, healthServer *health.Server) error {
	addr := fmt.Sprintf(":%d", cfg.HealthPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gRPC Health server failed to listen: %w", err)
	}

	lopts := []logging.Option{logging.WithLogOnEvents(logging.FinishCall)}
	grpcHealthServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			logging.UnaryServerInterceptor(
				InterceptorLogger(logger),
				lopts...),
			grpcMetrics.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			logging.StreamServerInterceptor(InterceptorLogger(logger), lopts...),
			grpcMetrics.StreamServerInterceptor(),
		),
	)
	healthpb.RegisterHealthServer(grpcHealthServer, healthServer)
	reflection.Register(grpcHealthServer) // Enable reflection for tools like grpcurl
	grpcMetrics.InitializeMetrics(grpcHealthServer)

	healthServer.SetServingStatus(appName, healthpb.HealthCheckResponse_SERVING)
	logger.Info("gRPC health server listening", "address", addr)
	return grpcHealthServer.Serve(lis)
}

func startMetricsServer(logger *slog.Logger, cfg Config) error {
	addr := fmt.Sprintf(":%d", cfg.HTTPMetricsPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	prometheus.MustRegister(grpcMetrics)

	httpMetricsServer = &http.Server{Addr: addr, Handler: mux}
	logger.Info("HTTP metrics server listening", "address", addr)

	if err := httpMetricsServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP metrics server failed: %w", err)
	}
	return nil
}

func startHTTPTileServer(logger *slog.Logger, cfg Config, client *mog.Client) error {
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)

	ts := newTileServer(client, logger, tileServerConfig{
		cacheMaxSize:      cfg.TileCacheMaxSize,
		cacheItemsToPrune: cfg.TileCacheItemsToPrune,
		cacheTTL:          cfg.TileCacheTTL,
		webpQuality:       cfg.WebPQuality,
	}, prometheus.DefaultRegisterer)

	mux, err := newMux(ts)
	if err != nil {
		return err
	}

	httpTileServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("HTTP tile server listening", "address", addr)

	if err := httpTileServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP tile server failed: %w", err)
	}
	return nil
}

// newMux routes the tile endpoint and the embedded web UI.
func newMux(ts *tileServer) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.Handle("GET /tiles/{z}/{x}/{y}", ts.instrumented())

	// Handle embedded Web UI
	contentFS, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to create sub-filesystem for web UI: %w", err)
	}
	mux.Handle("/", http.FileServer(http.FS(contentFS)))
	return mux, nil
}

// setupClient builds the MOG client over HTTP, or over a bucket when
// MOG_BUCKET is set. The returned func releases the bucket.
func setupClient(ctx context.Context, cfg Config, logger *slog.Logger, reg prometheus.Registerer) (*mog.Client, func(), error) {
	collection, err := mog.NewCollection(cfg.WorldURL, cfg.WorldMaxZoom, cfg.RegionTemplate,
		mog.ZoomRange{Min: cfg.RegionMinZoom, Max: cfg.RegionMaxZoom})
	if err != nil {
		return nil, nil, fmt.Errorf("invalid MOG collection: %w", err)
	}
	for _, s := range collection.Sources() {
		logger.Info("MOG source configured", "zooms", s.Zooms.String(), "template", s.PathTemplate)
	}

	metrics := mog.NewMetrics(reg)
	var source mog.ByteSource
	closeSource := func() {}
	if cfg.Bucket != "" {
		logger.Info("reading containers from bucket", "bucket", cfg.Bucket)
		bucket, err := blob.OpenBucket(ctx, cfg.Bucket)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bucket %s: %w", cfg.Bucket, err)
		}
		closeSource = func() { bucket.Close() }
		source = mog.NewBlobSource(bucket, logger, metrics)
	} else {
		source = mog.NewHTTPSource(cfg.ConnectTimeout, cfg.ReadTimeout,
			mog.WithSourceLogger(logger), mog.WithSourceMetrics(metrics))
	}

	logger.Info("configuring metadata cache", "size", cfg.MetadataCacheSize, "overfetch_budget", cfg.OverFetchBudget)
	client, err := mog.NewClient(collection, source,
		mog.WithLogger(logger),
		mog.WithMetrics(metrics),
		mog.WithMetadataCacheSize(cfg.MetadataCacheSize),
		mog.WithOverFetchBudget(cfg.OverFetchBudget),
		mog.WithHeaderTimeout(cfg.HeaderTimeout),
	)
	if err != nil {
		closeSource()
		return nil, nil, err
	}
	return client, closeSource, nil
}

func createLogger(cfg Config, appName string) *slog.Logger {
	var programLevel slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		programLevel = slog.LevelDebug
	case "INFO":
		programLevel = slog.LevelInfo
	case "WARN":
		programLevel = slog.LevelWarn
	case "ERROR":
		programLevel = slog.LevelError
	default:
		programLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     programLevel,
		AddSource: programLevel <= slog.LevelDebug,
	}).WithAttrs([]slog.Attr{slog.String("app", appName)})
	return slog.New(handler)
}

func InterceptorLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}
