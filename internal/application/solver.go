package application

import (
	"context"
	"math"

	"github.com/jobrunner/osmacc/internal/domain"
	"github.com/jobrunner/osmacc/internal/ports/output"
)

// Probe returns the covered length at a buffer radius. Coverage must not
// decrease as the radius grows.
type Probe func(ctx context.Context, radius float64) (float64, error)

// ToleranceSolver searches the minimal buffer radius whose coverage reaches
// a target length.
type ToleranceSolver struct {
	epsilon float64
	metrics output.MetricsCollector
}

// NewToleranceSolver creates a solver with the given resolution.
func NewToleranceSolver(epsilon float64, metrics output.MetricsCollector) *ToleranceSolver {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &ToleranceSolver{epsilon: epsilon, metrics: metrics}
}

// Epsilon returns the search resolution.
func (s *ToleranceSolver) Epsilon() float64 {
	return s.epsilon
}

// resolution is the step of reported tolerances.
const resolution = 0.01

// Solve bisects [0, upper] for the smallest radius with probe(r) >= target.
// Successful probes halve the window from the right; failed probes step
// epsilon to the right before narrowing from the left. The search ends on
// a failed probe whose epsilon step leaves the window. The returned
// tolerance is rounded up to two decimals. A missing solution is not an
// error.
func (s *ToleranceSolver) Solve(ctx context.Context, probe Probe, target, upper float64) (sol domain.Solution, err error) {
	if !(upper > 0) || math.IsInf(upper, 1) {
		return sol, &domain.ConfigError{Field: "tol_max", Message: "upper bound must be positive"}
	}
	if !(s.epsilon > 0) {
		return sol, &domain.ConfigError{Field: "epsilon", Message: "resolution must be positive"}
	}
	defer func() { s.metrics.ObserveSolverProbes(sol.Probes) }()

	if target <= 0 {
		return domain.Solution{Found: true}, nil
	}

	reaches := func(r float64) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		sol.Probes++
		v, err := probe(ctx, r)
		if err != nil {
			return false, err
		}
		return v >= target, nil
	}
	found := func(r float64) (domain.Solution, error) {
		sol.Tolerance = roundUp(r)
		sol.Found = true
		return sol, nil
	}

	eps := s.epsilon
	down, up := 0.0, upper
	mid := up / 2
	for {
		ok, err := reaches(mid)
		if err != nil {
			return sol, err
		}
		if ok {
			up = mid
			// met arbitrarily close to zero: every radius left to try
			// rounds to the same tolerance
			if down == 0 && up <= resolution {
				return found(up)
			}
			mid = down + (mid-down)/2
			if mid >= up {
				// window below float resolution
				return found(up)
			}
			continue
		}

		if !(down < mid+eps && mid+eps < up) {
			if up != upper {
				return found(up)
			}
			ok, err := reaches(upper)
			if err != nil || !ok {
				return sol, err
			}
			return found(upper)
		}

		ok, err = reaches(mid + eps)
		if err != nil {
			return sol, err
		}
		if ok {
			return found(mid + eps)
		}
		down = mid + eps
		mid = down + (up-down)/2
	}
}

// SolveCoverage searches the tolerance of candidate against buffers around
// reference.
func (s *ToleranceSolver) SolveCoverage(
	ctx context.Context,
	scope *RunScope,
	coverage *CoverageCalculator,
	candidate, reference domain.LineDataset,
	target, upper float64,
) (domain.Solution, error) {
	probe := func(ctx context.Context, r float64) (float64, error) {
		return coverage.Inside(ctx, scope, candidate, reference, r)
	}
	return s.Solve(ctx, probe, target, upper)
}

// roundUp rounds to two decimals towards +Inf so a reported tolerance never
// understates the searched radius. The small offset absorbs binary noise
// such as 0.07*100 = 7.000000000000001.
func roundUp(x float64) float64 {
	return math.Ceil(x*100-1e-9) / 100
}
