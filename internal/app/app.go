// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/jobrunner/osmacc/internal/adapters/geos"
	httpAdapter "github.com/jobrunner/osmacc/internal/adapters/http"
	"github.com/jobrunner/osmacc/internal/adapters/metrics"
	"github.com/jobrunner/osmacc/internal/adapters/report"
	"github.com/jobrunner/osmacc/internal/adapters/spatialite"
	"github.com/jobrunner/osmacc/internal/adapters/storage"
	tlsAdapter "github.com/jobrunner/osmacc/internal/adapters/tls"
	"github.com/jobrunner/osmacc/internal/adapters/watcher"
	"github.com/jobrunner/osmacc/internal/application"
	"github.com/jobrunner/osmacc/internal/config"
	"github.com/jobrunner/osmacc/internal/domain"
	"github.com/jobrunner/osmacc/internal/ports/output"
)

// Engine is a geometry engine holding resources until closed.
type Engine interface {
	output.GeometryEngine
	io.Closer
}

// Options holds per-invocation settings that are not part of the config file.
type Options struct {
	ReportFormat report.Format
	SeriesPath   string
	Stdout       io.Writer
}

// App holds all application components.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Engine    Engine
	Storage   output.ObjectStorage
	Staging   *application.StagingService
	Sweeps    *application.SweepService
	Accuracy  *application.AccuracyService
	Inspector *application.InspectorService
	Metrics   *metrics.Collector

	HTTPServer *httpAdapter.Server
	TLSServer  *tlsAdapter.Server
}

// New creates and initializes a new application. Inputs are staged from
// object storage before the engine opens, so a staged database or
// workspace is complete when it is first read.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize metrics
	if cfg.Metrics.Enabled || cfg.Metrics.Textfile != "" {
		app.Metrics = metrics.NewCollector("osmacc")
	}

	var metricsCollector output.MetricsCollector
	if app.Metrics != nil {
		metricsCollector = app.Metrics
	} else {
		metricsCollector = &output.NoOpMetrics{}
	}

	// Initialize storage adapter
	if cfg.Storage.Enabled() {
		store, err := initStorage(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("initializing storage: %w", err)
		}
		app.Storage = store
		app.Staging = application.NewStagingService(store, metricsCollector, logger, application.StagingServiceConfig{
			StagingDir:    cfg.Storage.StagingDir,
			PublishPrefix: cfg.Storage.PublishPrefix,
		})
		if cfg.Storage.Stage {
			if _, err := app.Staging.Stage(ctx); err != nil {
				return nil, fmt.Errorf("staging inputs: %w", err)
			}
		}
	}

	engine, err := openEngine(ctx, cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("opening %s engine: %w", cfg.Engine.Type, err)
	}
	app.Engine = engine

	method, err := application.ParseOutsideMethod(cfg.Analysis.OutsideMethod)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}

	writer, err := report.New(report.Options{
		Format:     opts.ReportFormat,
		SeriesPath: opts.SeriesPath,
		Stdout:     opts.Stdout,
	})
	if err != nil {
		_ = engine.Close()
		return nil, err
	}

	coverage := application.NewCoverageCalculator(engine, metricsCollector, method)
	app.Sweeps = application.NewSweepService(engine, coverage, writer, metricsCollector, logger,
		application.SweepServiceConfig{Workers: cfg.Analysis.Workers})
	app.Accuracy = application.NewAccuracyService(
		engine,
		application.NewCellPartitioner(engine, cfg.Analysis.CellMargin),
		coverage,
		application.NewToleranceSolver(cfg.Analysis.Epsilon, metricsCollector),
		metricsCollector,
		logger,
		application.AccuracyServiceConfig{Workers: cfg.Analysis.Workers},
	)
	app.Inspector = application.NewInspectorService(engine)

	return app, nil
}

// openEngine opens the configured geometry engine.
func openEngine(ctx context.Context, cfg config.EngineConfig) (Engine, error) {
	switch cfg.Type {
	case config.EngineSpatiaLite:
		return spatialite.Open(ctx, spatialite.Options{
			Path:           cfg.Database,
			BufferSegments: cfg.BufferSegments,
			BusyTimeout:    cfg.BusyTimeout,
		})
	case config.EngineGEOS:
		return geos.New(geos.Options{
			Workspace: cfg.Workspace,
			QuadSegs:  cfg.BufferSegments,
		})
	default:
		return nil, &domain.ConfigError{Field: "engine.type", Message: "unknown engine " + cfg.Type}
	}
}

// RunSweep runs a buffer sweep, then publishes the report files and the
// metrics textfile.
func (a *App) RunSweep(ctx context.Context, req domain.SweepRequest, seriesPath string) (*domain.SweepReport, error) {
	rep, runErr := a.Sweeps.Run(ctx, req)
	if runErr == nil && req.Output != "" && req.Output != report.Stdout {
		files := []string{req.Output}
		if seriesPath != "" {
			files = append(files, seriesPath)
		}
		runErr = a.publish(ctx, files...)
	}
	return rep, errors.Join(runErr, a.writeTextfile())
}

// RunAccuracy runs a cell-wise accuracy assessment, then publishes the
// output dataset and the metrics textfile.
func (a *App) RunAccuracy(ctx context.Context, req domain.AccuracyRequest) (*domain.AccuracyResult, error) {
	result, runErr := a.Accuracy.Run(ctx, req)
	if runErr == nil {
		runErr = a.publish(ctx, a.outputFile(req.Output))
	}
	return result, errors.Join(runErr, a.writeTextfile())
}

// WatchSweep runs the sweep once and again whenever one of its input
// datasets changes, until ctx is canceled.
func (a *App) WatchSweep(ctx context.Context, req domain.SweepRequest, seriesPath string) error {
	if _, err := a.RunSweep(ctx, req, seriesPath); err != nil {
		a.Logger.Error("sweep failed, waiting for input changes", "error", err)
	}

	inputs := []domain.Dataset{req.Candidate, req.Reference}
	if !req.Region.IsZero() {
		inputs = append(inputs, req.Region)
	}
	var files []string
	for _, ds := range inputs {
		files = append(files, a.inputFiles(ds)...)
	}

	w, err := watcher.New(watcher.Config{Files: files, Debounce: a.Config.Watch.Debounce},
		func(ctx context.Context, events []watcher.Event) error {
			for _, ev := range events {
				a.Logger.Info("input changed", "path", ev.Path, "operation", ev.Operation.String())
			}
			if err := a.reloadInputs(ctx, inputs); err != nil {
				return err
			}
			_, err := a.RunSweep(ctx, req, seriesPath)
			return err
		}, a.Logger)
	if err != nil {
		return fmt.Errorf("initializing watcher: %w", err)
	}
	return w.Run(ctx)
}

// reloadInputs makes the engine read changed inputs again. The GEOS engine
// caches loaded files; SpatiaLite reads tables on every query.
func (a *App) reloadInputs(ctx context.Context, inputs []domain.Dataset) error {
	if g, ok := a.Engine.(*geos.Engine); ok {
		return g.Drop(ctx, inputs...)
	}
	return nil
}

// inputFiles returns the files whose changes affect ds. The GEOS engine
// loads a dataset from a shapefile or a GeoJSON file of the same name.
// SpatiaLite runs write their temporaries to the database itself; the
// watcher ignores writes made during a run.
func (a *App) inputFiles(ds domain.Dataset) []string {
	if a.Config.Engine.Type == config.EngineGEOS {
		base := filepath.Join(a.Config.Engine.Workspace, string(ds))
		return []string{base + ".shp", base + ".geojson", base + ".json"}
	}
	return []string{a.Config.Engine.Database}
}

// outputFile returns the file holding the output dataset ds.
func (a *App) outputFile(ds domain.Dataset) string {
	if a.Config.Engine.Type == config.EngineGEOS {
		return filepath.Join(a.Config.Engine.Workspace, string(ds)+".shp")
	}
	return a.Config.Engine.Database
}

func (a *App) publish(ctx context.Context, files ...string) error {
	if a.Staging == nil || !a.Config.Storage.Publish {
		return nil
	}
	return a.Staging.Publish(ctx, files...)
}

func (a *App) writeTextfile() error {
	if a.Metrics == nil || a.Config.Metrics.Textfile == "" {
		return nil
	}
	if err := a.Metrics.WriteTextfile(a.Config.Metrics.Textfile); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

// Serve runs the HTTP API until ctx is canceled, then shuts down within the
// configured timeout.
func (a *App) Serve(ctx context.Context) error {
	var m httpAdapter.Metrics
	if a.Metrics != nil && a.Config.Metrics.Enabled {
		m = a.Metrics
	}
	a.HTTPServer = httpAdapter.NewServer(
		a.Config.Server,
		a.Sweeps,
		a.Accuracy,
		a.Inspector,
		m,
		a.Logger,
		httpAdapter.RunDefaults{
			Workers:     a.Config.Analysis.Workers,
			Percent:     a.Config.Analysis.Percent,
			MetricsPath: a.Config.Metrics.Path,
		},
	)

	start := a.HTTPServer.Start
	shutdown := a.HTTPServer.Shutdown
	if a.Config.TLS.Enabled {
		tlsServer, err := tlsAdapter.NewServer(a.Config.TLS, a.Config.Server, a.HTTPServer.Router(), a.Logger)
		if err != nil {
			return fmt.Errorf("initializing TLS: %w", err)
		}
		if err := tlsServer.ManageCertificates(ctx); err != nil {
			return err
		}
		a.TLSServer = tlsServer
		start, shutdown = tlsServer.Start, tlsServer.Shutdown
	}

	errCh := make(chan error, 1)
	go func() {
		if err := start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Close releases the geometry engine.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")
	if a.Engine == nil {
		return nil
	}
	return a.Engine.Close()
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.LocalPath), nil

	case "s3":
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case "azure":
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	case "http":
		return storage.NewHTTPStorage(storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		}), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
