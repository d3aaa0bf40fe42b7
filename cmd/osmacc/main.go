// Package main provides the entry point for osmacc, the OSM line network
// accuracy assessment tool.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/osmacc/internal/adapters/report"
	"github.com/jobrunner/osmacc/internal/app"
	"github.com/jobrunner/osmacc/internal/config"
	"github.com/jobrunner/osmacc/internal/domain"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "osmacc",
	Short: "osmacc - OSM line network accuracy assessment",
	Long: `osmacc compares an OpenStreetMap line network with a reference network.

Commands:
  precomp  buffer sweep: length of each network inside and outside buffers
           of the other at a list of distances
  acc      cell-wise accuracy: per grid cell, the tolerance covering a share
           of the OSM length, or the coverage at fixed thresholds
  serve    HTTP API for both analyses

Geometry is computed by SpatiaLite (engine.type spatialite) or in process
by GEOS on shapefiles and GeoJSON files (engine.type geos).`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("osmacc %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

var precompCmd = &cobra.Command{
	Use:   "precomp",
	Short: "Run a buffer sweep over both networks",
	Example: `  osmacc precomp --osm osm_roads --ref ref_roads --buffers 1,2,5,10
  osmacc precomp --osm osm_roads --ref ref_roads --buffers 2,5 --roi county --output report.txt --series series.csv`,
	RunE: runPrecomp,
}

var accCmd = &cobra.Command{
	Use:   "acc",
	Short: "Evaluate positional accuracy per grid cell",
	Example: `  osmacc acc --osm osm_roads --ref ref_roads --ul-grid 500000,5800000 --lr-grid 510000,5790000 --box-grid 1000,1000 --output acc_tol --tol-max 20
  osmacc acc --osm osm_roads --ref ref_roads --grid cells --output acc_thr --tol-eval 1,2.5,5`,
	RunE: runAcc,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE:  runServe,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (json, text)")
	pf.String("engine", config.EngineSpatiaLite, "geometry engine (spatialite, geos)")
	pf.String("database", "osmacc.sqlite", "SpatiaLite database")
	pf.String("workspace", ".", "GEOS dataset directory")

	_ = viper.BindPFlag("logging.level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", pf.Lookup("log-format"))
	_ = viper.BindPFlag("engine.type", pf.Lookup("engine"))
	_ = viper.BindPFlag("engine.database", pf.Lookup("database"))
	_ = viper.BindPFlag("engine.workspace", pf.Lookup("workspace"))

	// Sweep flags
	f := precompCmd.Flags()
	f.String("osm", "", "OSM line dataset")
	f.String("ref", "", "reference line dataset")
	f.String("buffers", "", "comma separated buffer distances, e.g. 1,2,5")
	f.String("roi", "", "region of interest polygons")
	f.String("output", report.Stdout, "report file, - for standard output")
	f.String("format", "text", "report format (text, json, yaml)")
	f.String("series", "", "CSV file for the coverage chart series")
	f.Int("nprocs", 0, "parallel workers (default: analysis.workers)")
	f.Bool("watch", false, "re-run when an input dataset changes")
	_ = precompCmd.MarkFlagRequired("osm")
	_ = precompCmd.MarkFlagRequired("ref")
	_ = precompCmd.MarkFlagRequired("buffers")
	_ = viper.BindPFlag("watch.enabled", f.Lookup("watch"))

	// Accuracy flags
	f = accCmd.Flags()
	f.String("osm", "", "OSM line dataset")
	f.String("ref", "", "reference line dataset")
	f.String("grid", "", "pre-built grid polygon dataset")
	f.String("ul-grid", "", "upper left grid corner as west,north")
	f.String("lr-grid", "", "lower right grid corner as east,south")
	f.String("box-grid", "", "grid cell size as ewres,nsres")
	f.String("output", "", "output grid dataset")
	f.String("tol-eval", "", "comma separated thresholds to evaluate")
	f.Float64("tol-max", 0, "upper bound of the tolerance search")
	f.Float64("perc", 100, "share of the OSM length the tolerance must cover")
	f.Int("nprocs", 0, "parallel workers (default: analysis.workers)")
	_ = accCmd.MarkFlagRequired("osm")
	_ = accCmd.MarkFlagRequired("ref")
	_ = accCmd.MarkFlagRequired("output")
	_ = viper.BindPFlag("analysis.perc", f.Lookup("perc"))

	// Server flags
	f = serveCmd.Flags()
	f.String("host", "0.0.0.0", "server host")
	f.Int("port", 8080, "server port")
	f.Bool("tls", false, "enable TLS")
	f.StringSlice("tls-domains", nil, "TLS domains")
	f.String("tls-email", "", "TLS email for Let's Encrypt")
	f.StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")
	f.Bool("metrics", false, "expose Prometheus metrics")
	_ = viper.BindPFlag("server.host", f.Lookup("host"))
	_ = viper.BindPFlag("server.port", f.Lookup("port"))
	_ = viper.BindPFlag("tls.enabled", f.Lookup("tls"))
	_ = viper.BindPFlag("tls.domains", f.Lookup("tls-domains"))
	_ = viper.BindPFlag("tls.email", f.Lookup("tls-email"))
	_ = viper.BindPFlag("server.cors.allowed_origins", f.Lookup("cors"))
	_ = viper.BindPFlag("metrics.enabled", f.Lookup("metrics"))

	rootCmd.AddCommand(precompCmd, accCmd, serveCmd, versionCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// setup loads the configuration and builds the application. The returned
// context is canceled on SIGINT or SIGTERM.
func setup(cmd *cobra.Command, opts app.Options) (context.Context, context.CancelFunc, *app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting osmacc",
		"version", version,
		"command", cmd.Name(),
		"engine", cfg.Engine.Type,
		"storage_type", cfg.Storage.Type,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	a, err := app.New(ctx, cfg, logger, opts)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("initializing application: %w", err)
	}
	return ctx, cancel, a, nil
}

func runPrecomp(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	osm, _ := f.GetString("osm")
	ref, _ := f.GetString("ref")
	roi, _ := f.GetString("roi")
	out, _ := f.GetString("output")
	format, _ := f.GetString("format")
	series, _ := f.GetString("series")
	workers, _ := f.GetInt("nprocs")
	buffers, _ := f.GetString("buffers")

	distances, err := domain.ParseFloatList(buffers)
	if err != nil {
		return err
	}
	reportFormat, err := report.ParseFormat(format)
	if err != nil {
		return err
	}

	ctx, cancel, a, err := setup(cmd, app.Options{ReportFormat: reportFormat, SeriesPath: series})
	if err != nil {
		return err
	}
	defer cancel()
	defer closeApp(a)

	req := domain.SweepRequest{
		Candidate: domain.Dataset(osm),
		Reference: domain.Dataset(ref),
		Region:    domain.Dataset(roi),
		Distances: distances,
		Output:    out,
		Workers:   workers,
	}

	if a.Config.Watch.Enabled {
		return a.WatchSweep(ctx, req, series)
	}
	_, err = a.RunSweep(ctx, req, series)
	return err
}

func runAcc(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	osm, _ := f.GetString("osm")
	ref, _ := f.GetString("ref")
	grid, _ := f.GetString("grid")
	ul, _ := f.GetString("ul-grid")
	lr, _ := f.GetString("lr-grid")
	box, _ := f.GetString("box-grid")
	out, _ := f.GetString("output")
	tolEval, _ := f.GetString("tol-eval")
	tolMax, _ := f.GetFloat64("tol-max")
	workers, _ := f.GetInt("nprocs")

	source, warnings, err := domain.ParseGridSource(grid, ul, lr, box)
	if err != nil {
		return err
	}
	thresholds, err := domain.ParseThresholds(tolEval)
	if err != nil {
		return err
	}

	ctx, cancel, a, err := setup(cmd, app.Options{})
	if err != nil {
		return err
	}
	defer cancel()
	defer closeApp(a)

	for _, w := range warnings {
		a.Logger.Warn(w)
	}

	result, err := a.RunAccuracy(ctx, domain.AccuracyRequest{
		Candidate:  domain.Dataset(osm),
		Reference:  domain.Dataset(ref),
		Grid:       source,
		Output:     domain.Dataset(out),
		Thresholds: thresholds,
		UpperBound: tolMax,
		Percent:    a.Config.Analysis.Percent,
		Workers:    workers,
	})
	if err != nil {
		return err
	}

	a.Logger.Info("accuracy output written",
		"output", result.Output,
		"mode", result.Mode.String(),
		"cells", len(result.Cells),
		"solved", result.Count(domain.OutcomeSolved),
		"no_solution", result.Count(domain.OutcomeNoSolution),
		"no_reference", result.Count(domain.OutcomeNoReference),
	)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel, a, err := setup(cmd, app.Options{ReportFormat: report.FormatJSON})
	if err != nil {
		return err
	}
	defer cancel()
	defer closeApp(a)

	if err := a.Serve(ctx); err != nil {
		a.Logger.Error("server error", "error", err)
		return err
	}
	a.Logger.Info("server stopped")
	return nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		a.Logger.Error("shutdown error", "error", err)
	}
}

// setupLogger writes to standard error; standard output carries reports.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
