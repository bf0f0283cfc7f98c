package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"

	"github.com/manpreetbhatti/codearena/internal/api"
	"github.com/manpreetbhatti/codearena/internal/arena"
	"github.com/manpreetbhatti/codearena/internal/catalog"
	"github.com/manpreetbhatti/codearena/internal/config"
	"github.com/manpreetbhatti/codearena/internal/db"
	"github.com/manpreetbhatti/codearena/internal/judge"
	"github.com/manpreetbhatti/codearena/internal/metrics"
	"github.com/manpreetbhatti/codearena/internal/retention"
	"github.com/manpreetbhatti/codearena/internal/ws"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Error loading .env file: %v", err)
	}

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	def := config.Default()
	return &cli.App{
		Name:  "codearena",
		Usage: "collaborative coding rooms with live leaderboards",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: def.Addr, Usage: "listen address or bare port", EnvVars: []string{"PORT", "CODEARENA_ADDR"}},
			&cli.StringFlag{Name: "db-path", Value: def.DBPath, Usage: "submission archive path, :memory: keeps it in process", EnvVars: []string{"CODEARENA_DB_PATH"}},
			&cli.StringFlag{Name: "temp-dir", Value: def.TempDir, Usage: "scratch directory for compile jobs", EnvVars: []string{"CODEARENA_TEMP_DIR"}},
			&cli.StringFlag{Name: "compiler", Value: def.Compiler, Usage: "C++ compiler binary", EnvVars: []string{"CODEARENA_COMPILER"}},
			&cli.DurationFlag{Name: "compile-timeout", Value: def.CompileTimeout, Usage: "limit per compile and per run", EnvVars: []string{"CODEARENA_COMPILE_TIMEOUT"}},
			&cli.IntFlag{Name: "max-concurrent-jobs", Value: def.MaxConcurrentJobs, Usage: "compile jobs allowed at once", EnvVars: []string{"CODEARENA_MAX_CONCURRENT_JOBS"}},
			&cli.StringFlag{Name: "allowed-origins", Value: "*", Usage: "comma separated CORS and websocket origins", EnvVars: []string{"CODEARENA_ALLOWED_ORIGINS"}},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error", EnvVars: []string{"CODEARENA_LOG_LEVEL"}},
			&cli.DurationFlag{Name: "retention-interval", Value: def.RetentionInterval, Usage: "how often the archive is pruned", EnvVars: []string{"CODEARENA_RETENTION_INTERVAL"}},
			&cli.IntFlag{Name: "retention-keep", Value: def.RetentionKeep, Usage: "submissions kept after pruning", EnvVars: []string{"CODEARENA_RETENTION_KEEP"}},
		},
		Action: func(c *cli.Context) error {
			cfg, err := configFromFlags(c)
			if err != nil {
				return err
			}
			return run(c.Context, cfg)
		},
	}
}

func configFromFlags(c *cli.Context) (config.Config, error) {
	level, err := config.ParseLevel(c.String("log-level"))
	if err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	cfg.Addr = config.NormalizeAddr(c.String("addr"))
	cfg.DBPath = c.String("db-path")
	cfg.TempDir = c.String("temp-dir")
	cfg.Compiler = c.String("compiler")
	cfg.CompileTimeout = c.Duration("compile-timeout")
	cfg.MaxConcurrentJobs = c.Int("max-concurrent-jobs")
	cfg.AllowedOrigins = config.SplitOrigins(c.String("allowed-origins"))
	cfg.LogLevel = level
	cfg.RetentionInterval = c.Duration("retention-interval")
	cfg.RetentionKeep = c.Int("retention-keep")

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config) error {
	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel, AddSource: true}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	archive, err := db.New(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer archive.Close()

	m := metrics.New()

	hub := ws.NewHub(logger.With("component", "hub"), m)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	j, err := judge.New(judge.Config{
		Compiler:      cfg.Compiler,
		TempDir:       cfg.TempDir,
		Timeout:       cfg.CompileTimeout,
		MaxConcurrent: int64(cfg.MaxConcurrentJobs),
	}, cat, logger.With("component", "judge"), m)
	if err != nil {
		return fmt.Errorf("initialize judge: %w", err)
	}
	if version, err := j.CheckCompiler(ctx); err != nil {
		logger.Warn("compiler not available, compile and submit will fail", "compiler", cfg.Compiler, "error", err)
	} else {
		logger.Info("compiler available", "version", version)
	}

	ar := arena.New(arena.Options{
		Catalog:   cat,
		Publisher: hub,
		Logger:    logger.With("component", "arena"),
		Metrics:   m,
	})

	pruner := retention.New(archive, retention.Config{
		Interval:   cfg.RetentionInterval,
		KeepRecent: cfg.RetentionKeep,
	}, logger.With("component", "retention"))
	pruner.Start()
	defer pruner.Stop()

	handler := api.New(api.Options{
		Arena:          ar,
		Hub:            hub,
		Judge:          j,
		Archive:        archive,
		Catalog:        cat,
		Metrics:        m,
		Logger:         logger.With("component", "http"),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("codearena server starting", "addr", cfg.Addr, "db", cfg.DBPath, "problems", len(cat.All()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	stop()
	<-hubDone
	return nil
}
