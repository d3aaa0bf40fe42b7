package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobrunner/osmacc/internal/domain"
	"github.com/jobrunner/osmacc/internal/ports/output"
)

// AccuracyService evaluates the candidate dataset cell by cell, either by
// solving a tolerance per cell or by measuring coverage at fixed thresholds.
type AccuracyService struct {
	engine      output.GeometryEngine
	partitioner *CellPartitioner
	coverage    *CoverageCalculator
	solver      *ToleranceSolver
	metrics     output.MetricsCollector
	logger      *slog.Logger
	workers     int
}

// AccuracyServiceConfig holds configuration for the accuracy service.
type AccuracyServiceConfig struct {
	Workers int
}

// NewAccuracyService creates a new accuracy service.
func NewAccuracyService(
	engine output.GeometryEngine,
	partitioner *CellPartitioner,
	coverage *CoverageCalculator,
	solver *ToleranceSolver,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg AccuracyServiceConfig,
) *AccuracyService {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &AccuracyService{
		engine:      engine,
		partitioner: partitioner,
		coverage:    coverage,
		solver:      solver,
		metrics:     metrics,
		logger:      logger,
		workers:     cfg.Workers,
	}
}

// Run evaluates every cell overlapping the candidate dataset and writes the
// output grid. Parameter errors are reported before the engine computes
// anything; temporaries are removed on every path.
func (s *AccuracyService) Run(ctx context.Context, req domain.AccuracyRequest) (result *domain.AccuracyResult, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveRun("accuracy", time.Since(start), err == nil) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	inputs := map[domain.Role]domain.Dataset{
		domain.RoleCandidate: req.Candidate,
		domain.RoleReference: req.Reference,
	}
	if req.Grid.Kind == domain.GridPrebuilt {
		inputs[domain.RoleGrid] = req.Grid.Name
	}
	if err := requireDatasets(ctx, s.engine, inputs); err != nil {
		return nil, err
	}
	exists, err := s.engine.Exists(ctx, req.Output)
	if err != nil {
		return nil, &domain.EngineError{Op: "exists", Dataset: req.Output, Err: err}
	}
	if exists {
		return nil, &domain.DatasetError{Dataset: req.Output, Err: domain.ErrOutputExists}
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

	if _, err := measureNonEmpty(ctx, s.engine, req.Reference, req.Reference, domain.RoleReference); err != nil {
		return nil, err
	}
	if _, err := measureNonEmpty(ctx, s.engine, req.Candidate, req.Candidate, domain.RoleCandidate); err != nil {
		return nil, err
	}

	grid, err := s.partitioner.Build(ctx, scope, req.Grid, req.Reference)
	if err != nil {
		return nil, fmt.Errorf("building grid: %w", err)
	}
	cells, err := s.partitioner.Select(ctx, grid, req.Candidate)
	if err != nil {
		return nil, err
	}

	s.logger.Info("starting accuracy run",
		"osm", req.Candidate,
		"ref", req.Reference,
		"grid", req.Grid.Kind.String(),
		"mode", req.Mode().String(),
		"cells", len(cells),
		"workers", workers,
	)

	evaluated, err := RunOrdered(ctx, workers, cells,
		func(ctx context.Context, _ int, cell domain.Cell) (domain.Cell, error) {
			task := scope.Child("c")
			defer func() {
				if rerr := task.Release(ctx); rerr != nil {
					s.logger.Warn("failed to release cell datasets", "cat", cell.ID, "error", rerr)
				}
			}()
			out, err := s.evaluate(ctx, task, grid, cell, req)
			if err != nil {
				return out, fmt.Errorf("cell %d: %w", cell.ID, err)
			}
			s.metrics.IncCellOutcome(out.Outcome.String())
			return out, nil
		})
	if err != nil {
		return nil, fmt.Errorf("evaluating cells: %w", err)
	}

	if err := s.engine.WriteCells(ctx, grid, req.Output, evaluated, req.Layout()); err != nil {
		return nil, &domain.EngineError{Op: "write_cells", Dataset: req.Output, Err: err}
	}

	result = &domain.AccuracyResult{Output: req.Output, Mode: req.Mode(), Cells: evaluated}
	s.logger.Info("accuracy run completed",
		"output", req.Output,
		"cells", len(evaluated),
		"solved", result.Count(domain.OutcomeSolved),
		"no_solution", result.Count(domain.OutcomeNoSolution),
		"no_reference", result.Count(domain.OutcomeNoReference),
		"duration", time.Since(start),
	)
	return result, nil
}

func (s *AccuracyService) evaluate(ctx context.Context, scope *RunScope, grid domain.Dataset, cell domain.Cell, req domain.AccuracyRequest) (domain.Cell, error) {
	candidate, err := s.partitioner.Candidate(ctx, scope, grid, cell, req.Candidate)
	if err != nil {
		return cell, err
	}
	cell.CandidateLength = candidate.TotalLength

	if req.Mode() == domain.ModeThreshold {
		return s.measureThresholds(ctx, scope, grid, cell, candidate, req)
	}
	return s.solveTolerance(ctx, scope, cell, candidate, req)
}

// solveTolerance searches the smallest buffer around the nearby reference
// data covering perc percent of the cell's candidate length.
func (s *AccuracyService) solveTolerance(ctx context.Context, scope *RunScope, cell domain.Cell, candidate domain.LineDataset, req domain.AccuracyRequest) (domain.Cell, error) {
	reference, err := s.partitioner.ReferenceNear(ctx, scope, cell, req.Reference)
	if err != nil {
		return cell, err
	}
	if reference.IsEmpty() {
		cell.Outcome = domain.OutcomeNoReference
		return cell, nil
	}

	target := candidate.TotalLength * req.Percent / 100
	sol, err := s.solver.SolveCoverage(ctx, scope, s.coverage, candidate, reference, target, req.UpperBound)
	if err != nil {
		return cell, err
	}
	if !sol.Found {
		cell.Outcome = domain.OutcomeNoSolution
		s.logger.Debug("no tolerance within upper bound", "cat", cell.ID, "upper", req.UpperBound)
		return cell, nil
	}
	cell.Outcome = domain.OutcomeSolved
	cell.Tolerance = sol.Tolerance
	s.logger.Debug("tolerance solved", "cat", cell.ID, "tol", sol.Tolerance, "probes", sol.Probes)
	return cell, nil
}

// measureThresholds measures the candidate length within each threshold of
// the reference data inside the cell.
func (s *AccuracyService) measureThresholds(ctx context.Context, scope *RunScope, grid domain.Dataset, cell domain.Cell, candidate domain.LineDataset, req domain.AccuracyRequest) (domain.Cell, error) {
	reference, err := s.partitioner.ReferenceIn(ctx, scope, grid, cell, req.Reference)
	if err != nil {
		return cell, err
	}
	if reference.IsEmpty() {
		cell.Outcome = domain.OutcomeNoReference
		return cell, nil
	}

	cell.Coverages = make([]domain.ThresholdCoverage, 0, len(req.Thresholds))
	for _, t := range req.Thresholds {
		inside, err := s.coverage.Inside(ctx, scope, candidate, reference, t.Value)
		if err != nil {
			return cell, err
		}
		cell.Coverages = append(cell.Coverages, domain.ThresholdCoverage{
			Threshold: t,
			Length:    inside,
			Percent:   domain.Percent(inside, candidate.TotalLength),
		})
	}
	cell.Outcome = domain.OutcomeMeasured
	return cell, nil
}
