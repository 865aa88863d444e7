package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cuongbtq/plugin-quickstart/internal/blankplugin"
	"github.com/cuongbtq/plugin-quickstart/internal/config"
	"github.com/cuongbtq/plugin-quickstart/internal/jobs"
	"github.com/cuongbtq/plugin-quickstart/internal/jobs/domain"
	"github.com/cuongbtq/plugin-quickstart/shared/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// app wires the template cache and the jobs manager for one command run
type app struct {
	cfg     *config.Config
	logger  *logger.Logger
	cache   *blankplugin.Cache
	manager *jobs.Manager

	metricsSrv    *http.Server
	metricsLogger *logger.Logger
	background errgroup.Group
	cancel     context.CancelFunc
}

func newApp(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.templatesDir != "" {
		cfg.Templates.RootDir = flags.templatesDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(appLogger.Logger)

	appLogger.Info("Starting quickstart",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	cache, err := blankplugin.New(ctx, cfg.Templates.RootDir, blankplugin.Options{
		Logger:      appLogger.WithAttrs(slog.String("component", "templates")).Logger,
		Exclude:     cfg.Templates.Exclude,
		GitBinary:   cfg.Templates.GitBinary,
		ToolTimeout: cfg.Templates.ToolTimeout,
	})
	if err != nil {
		_ = appLogger.Close()
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{
		cfg:    cfg,
		logger: appLogger,
		cache:  cache,
		manager: jobs.NewManager(&jobs.Config{
			Logger:       appLogger.With("component", "jobs").Logger,
			Generator:    cache,
			Workers:      cfg.Jobs.Workers,
			CleanupDelay: cfg.Jobs.CleanupDelay,
			TempDir:      cfg.Jobs.TempDir,
			Metrics:      jobs.NewMetrics(registry),
		}),
	}

	bgCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if cfg.Templates.Watch {
		a.background.Go(func() error {
			return cache.Watch(bgCtx, cfg.Templates.WatchDebounce)
		})
	}

	if cfg.Metrics.Addr != "" {
		a.startMetricsServer(registry)
	}

	return a, nil
}

func (a *app) startMetricsServer(registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	a.metricsSrv = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.metricsLogger = a.logger.WithGroup("metrics")
	a.metricsLogger.Info("Starting metrics server", slog.String("address", a.cfg.Metrics.Addr))

	a.background.Go(func() error {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.metricsLogger.Error("Metrics server failed", slog.String("error", err.Error()))
			return err
		}
		return nil
	})
}

// close destroys the jobs manager and stops the background goroutines
func (a *app) close() error {
	a.logger.Info("Shutting down quickstart...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Jobs.ShutdownTimeout)
	defer cancel()

	a.manager.Destroy()
	waitErr := a.manager.Wait(ctx)
	if waitErr != nil {
		a.logger.Warn("Jobs did not finish before the shutdown timeout",
			slog.Int("pending", a.manager.Size()),
		)
	}

	a.cancel()
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.metricsLogger.Error("Metrics server forced to shutdown", slog.String("error", err.Error()))
		}
	}
	bgErr := a.background.Wait()

	a.logger.Info("Quickstart shutdown complete")

	return errors.Join(waitErr, bgErr, a.logger.Close())
}

// waitForJob polls the manager until the run completes
func (a *app) waitForJob(ctx context.Context, id string) (domain.JobRun, error) {
	ticker := time.NewTicker(a.cfg.Jobs.PollInterval)
	defer ticker.Stop()

	for {
		run, ok := a.manager.FindJobRun(id)
		if !ok {
			return domain.JobRun{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
		if run.Completed() {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return domain.JobRun{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// deliver copies the archive of a successful run into dir
func deliver(run domain.JobRun, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	src, err := os.Open(run.Result)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer src.Close()

	target := filepath.Join(dir, filepath.Base(run.Result))
	dst, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", target, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("failed to copy archive: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("failed to copy archive: %w", err)
	}

	return target, nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}
