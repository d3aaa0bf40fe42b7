package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobrunner/osmacc/internal/domain"
	"github.com/jobrunner/osmacc/internal/ports/output"
)

// SweepService measures both coverage directions over a list of buffer
// distances and writes the sweep report.
type SweepService struct {
	engine   output.GeometryEngine
	coverage *CoverageCalculator
	writer   output.ReportWriter
	metrics  output.MetricsCollector
	logger   *slog.Logger
	workers  int
}

// SweepServiceConfig holds configuration for the sweep service.
type SweepServiceConfig struct {
	Workers int // default worker count when a request does not set one
}

// NewSweepService creates a new sweep service.
func NewSweepService(
	engine output.GeometryEngine,
	coverage *CoverageCalculator,
	writer output.ReportWriter,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg SweepServiceConfig,
) *SweepService {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &SweepService{
		engine:   engine,
		coverage: coverage,
		writer:   writer,
		metrics:  metrics,
		logger:   logger,
		workers:  cfg.Workers,
	}
}

// Run executes a sweep. The report is written only when every distance
// succeeded.
func (s *SweepService) Run(ctx context.Context, req domain.SweepRequest) (report *domain.SweepReport, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveRun("sweep", time.Since(start), err == nil) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	inputs := map[domain.Role]domain.Dataset{
		domain.RoleCandidate: req.Candidate,
		domain.RoleReference: req.Reference,
	}
	if !req.Region.IsZero() {
		inputs[domain.RoleRegion] = req.Region
	}
	if err := requireDatasets(ctx, s.engine, inputs); err != nil {
		return nil, err
	}

	workers := req.Workers
	if workers <= 0 {
		workers = s.workers
	}

	scope := NewRunScope(s.engine)
	defer func() {
		if cerr := scope.Close(ctx); cerr != nil {
			s.logger.Warn("failed to remove temporary datasets", "namespace", scope.Namespace(), "error", cerr)
		}
	}()

	s.logger.Info("starting buffer sweep",
		"osm", req.Candidate,
		"ref", req.Reference,
		"roi", req.Region,
		"buffers", req.Distances,
		"workers", workers,
	)

	candidate, reference, err := s.prepare(ctx, scope, req)
	if err != nil {
		return nil, err
	}

	stats, err := RunOrdered(ctx, workers, domain.IndexDistances(req.Distances),
		func(ctx context.Context, _ int, d domain.IndexedDistance) (domain.BufferStats, error) {
			task := scope.Child("b")
			defer func() {
				if rerr := task.Release(ctx); rerr != nil {
					s.logger.Warn("failed to release task datasets", "buffer", d.Distance, "error", rerr)
				}
			}()
			st, err := s.coverage.Stats(ctx, task, candidate, reference, d)
			if err != nil {
				return st, err
			}
			s.logger.Debug("buffer measured", "buffer", d.Distance,
				"osm_in", st.Candidate.Inside, "ref_in", st.Reference.Inside)
			return st, nil
		})
	if err != nil {
		return nil, fmt.Errorf("running buffer sweep: %w", err)
	}

	report = domain.NewSweepReport(candidate, reference, stats)
	if req.Output != "" && s.writer != nil {
		if err := s.writer.WriteSweep(ctx, req.Output, report); err != nil {
			return nil, fmt.Errorf("writing report: %w", err)
		}
	}

	s.logger.Info("buffer sweep completed",
		"rows", len(report.Rows),
		"ref_length", reference.TotalLength,
		"osm_length", candidate.TotalLength,
		"duration", time.Since(start),
	)
	return report, nil
}

// prepare measures both inputs, clipping them to the region of interest
// first when one is given.
func (s *SweepService) prepare(ctx context.Context, scope *RunScope, req domain.SweepRequest) (domain.LineDataset, domain.LineDataset, error) {
	osm, ref := req.Candidate, req.Reference
	if !req.Region.IsZero() {
		osmClip, refClip := scope.Temp("osm_roi"), scope.Temp("ref_roi")
		if err := s.engine.OverlayAnd(ctx, osm, req.Region, osmClip); err != nil {
			return domain.LineDataset{}, domain.LineDataset{}, &domain.EngineError{Op: "overlay_and", Dataset: osmClip, Err: err}
		}
		if err := s.engine.OverlayAnd(ctx, ref, req.Region, refClip); err != nil {
			return domain.LineDataset{}, domain.LineDataset{}, &domain.EngineError{Op: "overlay_and", Dataset: refClip, Err: err}
		}
		osm, ref = osmClip, refClip
	}

	reference, err := measureNonEmpty(ctx, s.engine, ref, req.Reference, domain.RoleReference)
	if err != nil {
		return domain.LineDataset{}, domain.LineDataset{}, err
	}
	candidate, err := measureNonEmpty(ctx, s.engine, osm, req.Candidate, domain.RoleCandidate)
	if err != nil {
		return domain.LineDataset{}, domain.LineDataset{}, err
	}
	return candidate, reference, nil
}

// requireDatasets checks that every input exists before any computation.
func requireDatasets(ctx context.Context, engine output.GeometryEngine, inputs map[domain.Role]domain.Dataset) error {
	for _, role := range []domain.Role{domain.RoleCandidate, domain.RoleReference, domain.RoleRegion, domain.RoleGrid} {
		name, ok := inputs[role]
		if !ok {
			continue
		}
		exists, err := engine.Exists(ctx, name)
		if err != nil {
			return &domain.EngineError{Op: "exists", Dataset: name, Err: err}
		}
		if !exists {
			return &domain.DatasetError{Dataset: name, Err: fmt.Errorf("%s %w", role, domain.ErrDatasetNotFound)}
		}
	}
	return nil
}

// measureNonEmpty measures ds and fails with an empty-input error when it
// has no length. label names the dataset the user supplied.
func measureNonEmpty(ctx context.Context, engine output.GeometryEngine, ds, label domain.Dataset, role domain.Role) (domain.LineDataset, error) {
	l, err := engine.Length(ctx, ds)
	if err != nil {
		return domain.LineDataset{}, &domain.EngineError{Op: "length", Dataset: ds, Err: err}
	}
	if l <= 0 {
		return domain.LineDataset{}, &domain.EmptyInputError{Role: role, Dataset: label}
	}
	return domain.LineDataset{Name: ds, TotalLength: l}, nil
}
