package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bryanwahyu/stealth-vision/internal/application"
	"github.com/bryanwahyu/stealth-vision/internal/application/analyze"
	"github.com/bryanwahyu/stealth-vision/internal/config"
	"github.com/bryanwahyu/stealth-vision/internal/domain/analysis"
	"github.com/bryanwahyu/stealth-vision/internal/infra/ai/gemini"
	"github.com/bryanwahyu/stealth-vision/internal/infra/cache"
	mysqlp "github.com/bryanwahyu/stealth-vision/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/stealth-vision/internal/infra/db/postgres"
	"github.com/bryanwahyu/stealth-vision/internal/infra/extractor/ytdlp"
	"github.com/bryanwahyu/stealth-vision/internal/infra/httpserver"
	"github.com/bryanwahyu/stealth-vision/internal/infra/metrics"
	minioStore "github.com/bryanwahyu/stealth-vision/internal/infra/storage"
	"github.com/bryanwahyu/stealth-vision/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log.Level, cfg.Log.Format)
	defer logger.Sync()

	if cfg.Gemini.APIKey == "" {
		logger.Fatal("GEMINI_API_KEY (or GOOGLE_API_KEY) is not set")
	}

	ctx := context.Background()

	// metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector("stealth_vision", reg)

	// init downloader
	runner := ytdlp.NewRunner(ytdlp.Options{
		Binary:        cfg.Download.Binary,
		Format:        cfg.Download.Format,
		MaxBytes:      cfg.MaxFileSizeBytes(),
		SocketTimeout: cfg.Download.SocketTimeout,
		Timeout:       cfg.Download.Timeout,
		TempDir:       cfg.Download.TempDir,
		PlayerClients: cfg.Download.PlayerClients,
		GeoBypass:     cfg.Download.GeoBypass,
		NoCheckCert:   cfg.Download.NoCheckCert,
		SourceAddress: cfg.Download.SourceAddress,
	}, logger, collector)
	if err := runner.Check(ctx); err != nil {
		logger.Warn("yt-dlp not usable yet, downloads will fail", zap.Error(err))
	}

	// init inference client
	analyzer, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, gemini.Options{
		Models:       cfg.Gemini.Models,
		Prompt:       cfg.Gemini.Prompt,
		PollInterval: cfg.Gemini.PollInterval,
		PollAttempts: cfg.Gemini.PollAttempts,
	}, logger, collector)
	if err != nil {
		logger.Fatal("gemini init error", zap.Error(err))
	}

	checkers := map[string]middleware.HealthChecker{"ytdlp": runner}

	// optional history
	var history analysis.Repository
	if db, repo := openHistory(ctx, cfg, logger); db != nil {
		defer db.Close()
		history = repo
		checkers["database"] = &middleware.DatabaseHealthChecker{DB: db}
	}

	// optional report archive
	var archive analysis.ArchiveStore
	if cfg.Minio.Enabled {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			logger.Fatal("minio init error", zap.Error(err))
		}
		archive = store
		checkers["minio"] = store
	}

	// optional result cache
	var resultCache analysis.Cache
	if cfg.Redis.Addr != "" {
		rc, err := cache.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			logger.Fatal("redis init error", zap.Error(err))
		}
		defer rc.Close()
		resultCache = rc
		checkers["redis"] = rc
	}

	// init service
	svc := &analyze.Service{
		Downloader:     runner,
		Analyzer:       analyzer,
		History:        history,
		Archive:        archive,
		Cache:          resultCache,
		Clock:          application.SystemClock{},
		TempDir:        cfg.Download.TempDir,
		MaxUploadBytes: cfg.MaxFileSizeBytes(),
		Logger:         logger,
		Metrics:        collector,
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit.RequestsPerMinute, cfg.Server.RateLimit.Burst)
	defer limiter.Stop()

	// init router
	handler := httpserver.NewRouter(svc, logger, httpserver.Options{
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		APIKeys:           cfg.Server.APIKeys,
		RateLimiter:       limiter,
		Metrics:           collector,
		Gatherer:          reg,
		Checkers:          checkers,
		MaxUploadBytes:    cfg.MaxFileSizeBytes(),
		History:           history != nil,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// run server
	go func() {
		logger.Info("server listening",
			zap.String("addr", addr),
			zap.Strings("models", cfg.Gemini.Models),
			zap.Bool("history", history != nil),
			zap.Bool("archive", archive != nil),
			zap.Bool("cache", resultCache != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

// openHistory connects the configured history database; driver "" disables it.
func openHistory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*sql.DB, analysis.Repository) {
	var (
		db   *sql.DB
		repo analysis.Repository
		err  error
	)
	switch cfg.Database.Driver {
	case "mysql":
		db, err = mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err == nil {
			err = mysqlp.EnsureSchema(ctx, db)
			repo = mysqlp.NewAnalysisRepository(db)
		}
	case "postgres":
		db, err = postgresp.Connect(ctx, cfg.PostgresDSN())
		if err == nil {
			err = postgresp.EnsureSchema(ctx, db)
			repo = postgresp.NewAnalysisRepository(db)
		}
	default:
		return nil, nil
	}
	if err != nil {
		logger.Fatal("database init error", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	return db, repo
}

func initLogger(levelName, format string) *zap.Logger {
	// parse log level
	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		level = zapcore.InfoLevel
	}

	// encoder
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddCaller())
	if err != nil {
		return zap.NewExample()
	}
	return logger.With(zap.String("service", "stealth-vision"))
}
